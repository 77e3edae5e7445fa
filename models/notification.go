package models

// Notification is a rendered message for the outbound notification service.
type Notification struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	OrderID   *int64 `json:"orderId,omitempty"`
}
