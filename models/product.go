package models

// ProductCode tags an order line with the plugin that owns it.
type ProductCode string

const (
	ProductCompetition ProductCode = "competition"
	ProductEvent       ProductCode = "event"
	ProductCourse      ProductCode = "course"
	ProductShop        ProductCode = "shop"
	ProductShipping    ProductCode = "shipping"
)

// ProductCodes lists every known code in a fixed order.
var ProductCodes = []ProductCode{
	ProductCompetition,
	ProductEvent,
	ProductCourse,
	ProductShop,
	ProductShipping,
}

// Valid reports whether the code is one of the known product codes.
func (c ProductCode) Valid() bool {
	for _, known := range ProductCodes {
		if c == known {
			return true
		}
	}
	return false
}

// Transport is the delivery choice of a basket or order.
type Transport string

const (
	TransportNotApplicable Transport = "n/a"
	TransportShip          Transport = "ship"
	TransportPickup        Transport = "pickup"
)

// Valid reports whether t is a known transport mode.
func (t Transport) Valid() bool {
	return t == TransportNotApplicable || t == TransportShip || t == TransportPickup
}

// Seller is the receiving party of an order: the account that gets paid.
type Seller struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	IBAN        string `json:"iban"`
	BIC         string `json:"bic"`
	Email       string `json:"email"`
	PaymentKey  string `json:"-"`
	ViaUmbrella bool   `json:"viaUmbrella"`
}

// DescribeField is one (label, value) pair of a line description.
type DescribeField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}
