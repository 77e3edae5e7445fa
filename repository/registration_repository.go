package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bestelling-engine/db"
	"bestelling-engine/models"
)

// RegistrationRepository handles offerings and the seats taken on them
type RegistrationRepository struct{}

// NewRegistrationRepository creates a new RegistrationRepository
func NewRegistrationRepository() *RegistrationRepository {
	return &RegistrationRepository{}
}

// Ensure RegistrationRepository implements RegistrationRepositoryInterface
var _ RegistrationRepositoryInterface = (*RegistrationRepository)(nil)

// CreateOffering inserts an offering.
func (r *RegistrationRepository) CreateOffering(ctx context.Context, q db.Querier, o *models.Offering) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO registration_offerings (kind, title, seller_id, starts_at, price, seats_free)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, string(o.Kind), o.Title, o.SellerID, o.StartsAt.UTC(), o.Price, o.SeatsFree).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to insert offering: %w", err)
	}
	return nil
}

// GetOffering retrieves an offering of the given kind. With lock set the row
// stays locked until the transaction ends.
func (r *RegistrationRepository) GetOffering(ctx context.Context, q db.Querier, kind models.ProductCode, id int64, lock bool) (*models.Offering, error) {
	query := `SELECT id, kind, title, seller_id, starts_at, price, seats_free FROM registration_offerings WHERE id = ? AND kind = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var o models.Offering
	var k string
	err := q.QueryRowContext(ctx, query, id, string(kind)).Scan(&o.ID, &k, &o.Title, &o.SellerID, &o.StartsAt, &o.Price, &o.SeatsFree)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch offering: %w", err)
	}
	o.Kind = models.ProductCode(k)
	return &o, nil
}

// AdjustSeats adds delta to the free seats of an offering. Taking a seat
// (negative delta) fails with ErrNoCapacity when none are left.
func (r *RegistrationRepository) AdjustSeats(ctx context.Context, q db.Querier, offeringID int64, delta int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE registration_offerings SET seats_free = seats_free + ? WHERE id = ? AND seats_free + ? >= 0`,
		delta, offeringID, delta)
	if err != nil {
		return fmt.Errorf("failed to update seats: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNoCapacity
	}
	return nil
}

// CreateRegistration inserts a registration.
func (r *RegistrationRepository) CreateRegistration(ctx context.Context, q db.Querier, reg *models.Registration) error {
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = nowUTC()
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO registrations (offering_id, kind, account_id, status, amount_paid, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, reg.OfferingID, string(reg.Kind), reg.AccountID, string(reg.Status), reg.AmountPaid, reg.CreatedAt).Scan(&reg.ID)
	if err != nil {
		return fmt.Errorf("failed to insert registration: %w", err)
	}
	return nil
}

// GetRegistration retrieves a registration by id.
func (r *RegistrationRepository) GetRegistration(ctx context.Context, q db.Querier, id int64) (*models.Registration, error) {
	var reg models.Registration
	var kind, status string
	err := q.QueryRowContext(ctx, `
		SELECT id, offering_id, kind, account_id, status, amount_paid, created_at
		FROM registrations
		WHERE id = ?
	`, id).Scan(&reg.ID, &reg.OfferingID, &kind, &reg.AccountID, &status, &reg.AmountPaid, &reg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch registration: %w", err)
	}
	reg.Kind = models.ProductCode(kind)
	reg.Status = models.RegistrationStatus(status)
	return &reg, nil
}

// UpdateRegistration writes the status and paid amount of a registration.
func (r *RegistrationRepository) UpdateRegistration(ctx context.Context, q db.Querier, reg *models.Registration) error {
	_, err := q.ExecContext(ctx, `UPDATE registrations SET status = ?, amount_paid = ? WHERE id = ?`,
		string(reg.Status), reg.AmountPaid, reg.ID)
	if err != nil {
		return fmt.Errorf("failed to update registration: %w", err)
	}
	return nil
}

// DeleteRegistration removes a registration.
func (r *RegistrationRepository) DeleteRegistration(ctx context.Context, q db.Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM registrations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete registration: %w", err)
	}
	return nil
}
