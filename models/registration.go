package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegistrationStatus tracks a seat reservation through its lifecycle.
type RegistrationStatus string

const (
	RegistrationReserved  RegistrationStatus = "gereserveerd"
	RegistrationOrdered   RegistrationStatus = "besteld"
	RegistrationPaid      RegistrationStatus = "betaald"
	RegistrationWithdrawn RegistrationStatus = "afgemeld"
)

// Offering is a competition, event or course with a limited number of seats.
type Offering struct {
	ID        int64           `json:"id"`
	Kind      ProductCode     `json:"kind"`
	Title     string          `json:"title"`
	SellerID  int64           `json:"sellerId"`
	StartsAt  time.Time       `json:"startsAt"`
	Price     decimal.Decimal `json:"price"`
	SeatsFree int             `json:"seatsFree"`
}

// Registration is one account's seat on an offering.
type Registration struct {
	ID         int64              `json:"id"`
	OfferingID int64              `json:"offeringId"`
	Kind       ProductCode        `json:"kind"`
	AccountID  int64              `json:"accountId"`
	Status     RegistrationStatus `json:"status"`
	AmountPaid decimal.Decimal    `json:"amountPaid"`
	CreatedAt  time.Time          `json:"createdAt"`
}
