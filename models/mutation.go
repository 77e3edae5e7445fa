package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCode is returned for a mutation record whose code has no handler.
	ErrUnknownCode = errors.New("unknown mutation code")
	// ErrMissingReference is returned when a record lacks a field its code requires.
	ErrMissingReference = errors.New("missing required reference")
)

// MutationCode identifies the kind of a requested state change.
type MutationCode string

const (
	CodeReserveProduct       MutationCode = "reserve-product"
	CodeRemoveFromBasket     MutationCode = "remove-from-basket"
	CodeMaterializeOrders    MutationCode = "materialize-orders"
	CodePaymentConcluded     MutationCode = "payment-concluded"
	CodeManualTransfer       MutationCode = "manual-transfer-received"
	CodeCancelOrder          MutationCode = "cancel-order"
	CodeChangeTransport      MutationCode = "change-transport"
	CodeStartPayment         MutationCode = "start-payment"
	CodeWithdrawRegistration MutationCode = "withdraw-registration"
	CodeChangeAddress        MutationCode = "change-address"
)

// MutationRecord is the persisted form of a command: one flexible row carrying
// the optional fields of every command shape.
type MutationRecord struct {
	ID          int64
	Code        MutationCode
	AccountID   *int64
	LineID      *int64
	OrderID     *int64
	ProductCode ProductCode
	ProductRef  *int64
	Quantity    int
	Amount      *decimal.Decimal
	Transport   Transport
	Success     *bool
	Reference   string
	Address     string
	Processed   bool
	CreatedAt   time.Time
}

// Command is the in-memory shape of a mutation: one variant per code, each
// carrying only the fields it needs.
type Command interface {
	Code() MutationCode
	fill(r *MutationRecord)
}

type ReserveProduct struct {
	AccountID  int64
	Product    ProductCode
	ProductRef int64
	Quantity   int
}

type RemoveFromBasket struct {
	AccountID int64
	LineID    int64
}

type MaterializeOrders struct {
	AccountID int64
}

type PaymentConcluded struct {
	OrderID   int64
	Succeeded bool
	Reference string          // provider reference, may be empty
	Amount    decimal.Decimal // amount reported by the provider when succeeded
}

type ManualTransferReceived struct {
	OrderID   int64
	Amount    decimal.Decimal
	Reference string
}

type CancelOrder struct {
	OrderID int64
}

type ChangeTransport struct {
	AccountID int64
	Transport Transport
}

type StartPayment struct {
	OrderID int64
}

type WithdrawRegistration struct {
	OrderID int64
	LineID  int64
}

type ChangeAddress struct {
	AccountID int64
	Address   [5]string
}

func (ReserveProduct) Code() MutationCode { return CodeReserveProduct }
func (RemoveFromBasket) Code() MutationCode { return CodeRemoveFromBasket }
func (MaterializeOrders) Code() MutationCode { return CodeMaterializeOrders }
func (PaymentConcluded) Code() MutationCode { return CodePaymentConcluded }
func (ManualTransferReceived) Code() MutationCode { return CodeManualTransfer }
func (CancelOrder) Code() MutationCode { return CodeCancelOrder }
func (ChangeTransport) Code() MutationCode { return CodeChangeTransport }
func (StartPayment) Code() MutationCode { return CodeStartPayment }
func (WithdrawRegistration) Code() MutationCode { return CodeWithdrawRegistration }
func (ChangeAddress) Code() MutationCode { return CodeChangeAddress }

func (c ReserveProduct) fill(r *MutationRecord) {
	r.AccountID = ptr(c.AccountID)
	r.ProductCode = c.Product
	r.ProductRef = ptr(c.ProductRef)
	r.Quantity = c.Quantity
}

func (c RemoveFromBasket) fill(r *MutationRecord) {
	r.AccountID = ptr(c.AccountID)
	r.LineID = ptr(c.LineID)
}

func (c MaterializeOrders) fill(r *MutationRecord) {
	r.AccountID = ptr(c.AccountID)
}

func (c PaymentConcluded) fill(r *MutationRecord) {
	r.OrderID = ptr(c.OrderID)
	r.Success = ptr(c.Succeeded)
	r.Reference = c.Reference
	if c.Succeeded {
		r.Amount = ptr(c.Amount)
	}
}

func (c ManualTransferReceived) fill(r *MutationRecord) {
	r.OrderID = ptr(c.OrderID)
	r.Amount = ptr(c.Amount)
	r.Reference = c.Reference
}

func (c CancelOrder) fill(r *MutationRecord) {
	r.OrderID = ptr(c.OrderID)
}

func (c ChangeTransport) fill(r *MutationRecord) {
	r.AccountID = ptr(c.AccountID)
	r.Transport = c.Transport
}

func (c StartPayment) fill(r *MutationRecord) {
	r.OrderID = ptr(c.OrderID)
}

func (c WithdrawRegistration) fill(r *MutationRecord) {
	r.OrderID = ptr(c.OrderID)
	r.LineID = ptr(c.LineID)
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// fill stores the five lines newline separated, so a line break inside a
// line is flattened to a space.
func (c ChangeAddress) fill(r *MutationRecord) {
	r.AccountID = ptr(c.AccountID)
	lines := make([]string, len(c.Address))
	for i, line := range c.Address {
		lines[i] = strings.TrimSpace(lineBreaks.Replace(line))
	}
	r.Address = strings.Join(lines, "\n")
}

// NewMutationRecord converts a command into its persisted form.
func NewMutationRecord(cmd Command) MutationRecord {
	r := MutationRecord{Code: cmd.Code()}
	cmd.fill(&r)
	return r
}

// Command converts a persisted record back into its command variant.
func (r *MutationRecord) Command() (Command, error) {
	switch r.Code {
	case CodeReserveProduct:
		if r.AccountID == nil || r.ProductRef == nil || !r.ProductCode.Valid() {
			return nil, r.missing("account, product code or product ref")
		}
		return ReserveProduct{AccountID: *r.AccountID, Product: r.ProductCode, ProductRef: *r.ProductRef, Quantity: r.Quantity}, nil

	case CodeRemoveFromBasket:
		if r.AccountID == nil || r.LineID == nil {
			return nil, r.missing("account or line")
		}
		return RemoveFromBasket{AccountID: *r.AccountID, LineID: *r.LineID}, nil

	case CodeMaterializeOrders:
		if r.AccountID == nil {
			return nil, r.missing("account")
		}
		return MaterializeOrders{AccountID: *r.AccountID}, nil

	case CodePaymentConcluded:
		if r.OrderID == nil || r.Success == nil {
			return nil, r.missing("order or success flag")
		}
		c := PaymentConcluded{OrderID: *r.OrderID, Succeeded: *r.Success, Reference: r.Reference}
		if r.Amount != nil {
			c.Amount = *r.Amount
		}
		return c, nil

	case CodeManualTransfer:
		if r.OrderID == nil || r.Amount == nil {
			return nil, r.missing("order or amount")
		}
		return ManualTransferReceived{OrderID: *r.OrderID, Amount: *r.Amount, Reference: r.Reference}, nil

	case CodeCancelOrder:
		if r.OrderID == nil {
			return nil, r.missing("order")
		}
		return CancelOrder{OrderID: *r.OrderID}, nil

	case CodeChangeTransport:
		if r.AccountID == nil || !r.Transport.Valid() {
			return nil, r.missing("account or transport")
		}
		return ChangeTransport{AccountID: *r.AccountID, Transport: r.Transport}, nil

	case CodeStartPayment:
		if r.OrderID == nil {
			return nil, r.missing("order")
		}
		return StartPayment{OrderID: *r.OrderID}, nil

	case CodeWithdrawRegistration:
		if r.OrderID == nil || r.LineID == nil {
			return nil, r.missing("order or line")
		}
		return WithdrawRegistration{OrderID: *r.OrderID, LineID: *r.LineID}, nil

	case CodeChangeAddress:
		if r.AccountID == nil {
			return nil, r.missing("account")
		}
		c := ChangeAddress{AccountID: *r.AccountID}
		for i, line := range strings.SplitN(r.Address, "\n", 5) {
			c.Address[i] = line
		}
		return c, nil
	}

	return nil, fmt.Errorf("%w: %q (mutation %d)", ErrUnknownCode, r.Code, r.ID)
}

func (r *MutationRecord) missing(what string) error {
	return fmt.Errorf("%w: %s needs %s (mutation %d)", ErrMissingReference, r.Code, what, r.ID)
}

func ptr[T any](v T) *T {
	return &v
}
