package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/pricing"
	"bestelling-engine/repository"
	"bestelling-engine/utils"
)

// RegistrationPlugin sells seats on offerings of one kind: competition
// entries, event registrations or course enrollments.
type RegistrationPlugin struct {
	kind     models.ProductCode
	vatLabel string
	regs     *repository.RegistrationRepository
	sellers  *repository.SellerRepository
	engine   *pricing.Engine
}

// NewRegistrationPlugin creates a plugin for offerings of the given kind.
func NewRegistrationPlugin(kind models.ProductCode, vatLabel string, store *repository.Store, engine *pricing.Engine) *RegistrationPlugin {
	return &RegistrationPlugin{
		kind:     kind,
		vatLabel: vatLabel,
		regs:     store.Registrations,
		sellers:  store.Sellers,
		engine:   engine,
	}
}

var _ Plugin = (*RegistrationPlugin)(nil)
var _ Withdrawer = (*RegistrationPlugin)(nil)

func (p *RegistrationPlugin) Code() models.ProductCode {
	return p.kind
}

// Reserve takes one seat and creates a reserved registration.
func (p *RegistrationPlugin) Reserve(ctx context.Context, q db.Querier, req ReserveRequest) (*models.OrderLine, error) {
	logger.Info().Msgf("📦 Reserve%s: offering=%d account=%d", p.kind, req.ProductRef, req.AccountID)

	offering, err := p.regs.GetOffering(ctx, q, p.kind, req.ProductRef, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s offering %d: %w", p.kind, req.ProductRef, err)
	}
	if err := p.regs.AdjustSeats(ctx, q, offering.ID, -1); err != nil {
		return nil, fmt.Errorf("failed to take seat on %s offering %d: %w", p.kind, offering.ID, err)
	}

	reg := &models.Registration{
		OfferingID: offering.ID,
		Kind:       p.kind,
		AccountID:  req.AccountID,
		Status:     models.RegistrationReserved,
	}
	if err := p.regs.CreateRegistration(ctx, q, reg); err != nil {
		return nil, err
	}

	return &models.OrderLine{
		Description: offering.Title,
		Price:       offering.Price,
		VATLabel:    p.vatLabel,
		VATAmount:   p.engine.VATFor(p.vatLabel, offering.Price),
		Code:        p.kind,
		ProductRef:  reg.ID,
	}, nil
}

func (p *RegistrationPlugin) registration(ctx context.Context, q db.Querier, line *models.OrderLine) (*models.Registration, bool, error) {
	reg, err := p.regs.GetRegistration(ctx, q, line.ProductRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return reg, true, nil
}

// Release returns the seat and deletes the registration.
func (p *RegistrationPlugin) Release(ctx context.Context, q db.Querier, line *models.OrderLine) error {
	reg, found, err := p.registration(ctx, q, line)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn().Msgf("⚠️ Release%s: registration %d already gone", p.kind, line.ProductRef)
		return nil
	}

	if reg.Status != models.RegistrationWithdrawn {
		if err := p.regs.AdjustSeats(ctx, q, reg.OfferingID, 1); err != nil {
			return err
		}
	}
	return p.regs.DeleteRegistration(ctx, q, reg.ID)
}

func (p *RegistrationPlugin) MarkOrdered(ctx context.Context, q db.Querier, line *models.OrderLine) error {
	reg, found, err := p.registration(ctx, q, line)
	if err != nil || !found {
		return err
	}
	if reg.Status != models.RegistrationReserved {
		return nil
	}
	reg.Status = models.RegistrationOrdered
	return p.regs.UpdateRegistration(ctx, q, reg)
}

// MarkPaid confirms the registration and notifies the organising seller.
func (p *RegistrationPlugin) MarkPaid(ctx context.Context, q db.Querier, line *models.OrderLine, amount decimal.Decimal) ([]models.Notification, error) {
	reg, found, err := p.registration(ctx, q, line)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Warn().Msgf("⚠️ MarkPaid%s: registration %d not found", p.kind, line.ProductRef)
		return nil, nil
	}
	if reg.Status == models.RegistrationPaid || reg.Status == models.RegistrationWithdrawn {
		return nil, nil
	}

	reg.Status = models.RegistrationPaid
	reg.AmountPaid = amount
	if err := p.regs.UpdateRegistration(ctx, q, reg); err != nil {
		return nil, err
	}

	offering, err := p.regs.GetOffering(ctx, q, p.kind, reg.OfferingID, false)
	if err != nil {
		return nil, err
	}
	seller, err := p.sellers.Get(ctx, q, offering.SellerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if seller.Email == "" {
		return nil, nil
	}

	return []models.Notification{{
		Recipient: seller.Email,
		Subject:   fmt.Sprintf("New %s registration: %s", p.kind, offering.Title),
		Body: fmt.Sprintf("Registration %d for %s (%s) has been paid: %s.",
			reg.ID, offering.Title, offering.StartsAt.Format("2006-01-02 15:04"), utils.FormatEUR(amount)),
		OrderID: line.OrderID,
	}}, nil
}

func (p *RegistrationPlugin) SellerID(ctx context.Context, q db.Querier, line *models.OrderLine) (int64, bool, error) {
	reg, found, err := p.registration(ctx, q, line)
	if err != nil || !found {
		return 0, false, err
	}
	offering, err := p.regs.GetOffering(ctx, q, p.kind, reg.OfferingID, false)
	if err != nil {
		return 0, false, err
	}
	return offering.SellerID, true, nil
}

func (p *RegistrationPlugin) Describe(ctx context.Context, q db.Querier, line *models.OrderLine) ([]models.DescribeField, error) {
	fields := []models.DescribeField{{Label: "Product", Value: string(p.kind)}}
	reg, found, err := p.registration(ctx, q, line)
	if err != nil {
		return nil, err
	}
	if !found {
		return append(fields, models.DescribeField{Label: "Title", Value: line.Description}), nil
	}
	offering, err := p.regs.GetOffering(ctx, q, p.kind, reg.OfferingID, false)
	if err != nil {
		return nil, err
	}
	return append(fields,
		models.DescribeField{Label: "Title", Value: offering.Title},
		models.DescribeField{Label: "Date", Value: offering.StartsAt.Format("2006-01-02 15:04")},
		models.DescribeField{Label: "Status", Value: string(reg.Status)},
	), nil
}

// Withdraw marks a registration withdrawn and frees its seat.
func (p *RegistrationPlugin) Withdraw(ctx context.Context, q db.Querier, line *models.OrderLine) (bool, error) {
	reg, found, err := p.registration(ctx, q, line)
	if err != nil {
		return false, err
	}
	if !found || reg.Status == models.RegistrationWithdrawn {
		return false, nil
	}

	if err := p.regs.AdjustSeats(ctx, q, reg.OfferingID, 1); err != nil {
		return false, err
	}
	reg.Status = models.RegistrationWithdrawn
	if err := p.regs.UpdateRegistration(ctx, q, reg); err != nil {
		return false, err
	}
	logger.Info().Msgf("✅ Withdraw%s: registration %d withdrawn", p.kind, reg.ID)
	return true, nil
}
