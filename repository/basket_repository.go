package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bestelling-engine/db"
	"bestelling-engine/models"
)

const basketColumns = `id, account_id, address_1, address_2, address_3, address_4, address_5, transport, shipping_cost,
	vat_1_pct, vat_1_amount, vat_2_pct, vat_2_amount, vat_3_pct, vat_3_amount, total, updated_at`

// BasketRepository handles database operations for baskets
type BasketRepository struct {
	lines *LineRepository
}

// NewBasketRepository creates a new BasketRepository
func NewBasketRepository(lines *LineRepository) *BasketRepository {
	return &BasketRepository{lines: lines}
}

// Ensure BasketRepository implements BasketRepositoryInterface
var _ BasketRepositoryInterface = (*BasketRepository)(nil)

func scanBasket(s rowScanner) (*models.Basket, error) {
	var b models.Basket
	var transport string
	err := s.Scan(
		&b.ID,
		&b.AccountID,
		&b.Address[0], &b.Address[1], &b.Address[2], &b.Address[3], &b.Address[4],
		&transport,
		&b.ShippingCost,
		&b.VAT[0].Percentage, &b.VAT[0].Amount,
		&b.VAT[1].Percentage, &b.VAT[1].Amount,
		&b.VAT[2].Percentage, &b.VAT[2].Amount,
		&b.Total,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Transport = models.Transport(transport)
	return &b, nil
}

// GetByAccount loads the basket of an account including its lines.
// found is false when the account has no basket.
func (r *BasketRepository) GetByAccount(ctx context.Context, q db.Querier, accountID int64) (*models.Basket, bool, error) {
	b, err := scanBasket(q.QueryRowContext(ctx, `SELECT `+basketColumns+` FROM baskets WHERE account_id = ?`, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to fetch basket: %w", err)
	}

	b.Lines, err = r.lines.ForBasket(ctx, q, b.ID)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Get loads a basket by id including its lines.
func (r *BasketRepository) Get(ctx context.Context, q db.Querier, id int64) (*models.Basket, error) {
	b, err := scanBasket(q.QueryRowContext(ctx, `SELECT `+basketColumns+` FROM baskets WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("basket %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch basket: %w", err)
	}

	b.Lines, err = r.lines.ForBasket(ctx, q, b.ID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetOrCreate returns the basket of an account, creating an empty one on
// first use.
func (r *BasketRepository) GetOrCreate(ctx context.Context, q db.Querier, accountID int64) (*models.Basket, error) {
	b, found, err := r.GetByAccount(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	if found {
		return b, nil
	}

	logger.Info().Msgf("📦 GetOrCreateBasket: creating basket for account=%d", accountID)
	b = &models.Basket{AccountID: accountID, Transport: models.TransportNotApplicable, UpdatedAt: nowUTC()}
	err = q.QueryRowContext(ctx,
		`INSERT INTO baskets (account_id, transport, updated_at) VALUES (?, ?, ?) RETURNING id`,
		accountID, string(b.Transport), b.UpdatedAt,
	).Scan(&b.ID)
	if err != nil {
		logger.Error().Err(err).Msg("❌ GetOrCreateBasket: Error inserting basket")
		return nil, fmt.Errorf("failed to insert basket: %w", err)
	}
	return b, nil
}

// Save writes the basket's address, transport and derived totals.
func (r *BasketRepository) Save(ctx context.Context, q db.Querier, b *models.Basket) error {
	b.UpdatedAt = nowUTC()
	query := `
		UPDATE baskets
		SET address_1 = ?, address_2 = ?, address_3 = ?, address_4 = ?, address_5 = ?,
		    transport = ?, shipping_cost = ?,
		    vat_1_pct = ?, vat_1_amount = ?, vat_2_pct = ?, vat_2_amount = ?, vat_3_pct = ?, vat_3_amount = ?,
		    total = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := q.ExecContext(ctx, query,
		b.Address[0], b.Address[1], b.Address[2], b.Address[3], b.Address[4],
		string(b.Transport), b.ShippingCost,
		b.VAT[0].Percentage, b.VAT[0].Amount,
		b.VAT[1].Percentage, b.VAT[1].Amount,
		b.VAT[2].Percentage, b.VAT[2].Amount,
		b.Total, b.UpdatedAt,
		b.ID,
	)
	if err != nil {
		logger.Error().Err(err).Msgf("❌ SaveBasket: Error updating basket id=%d", b.ID)
		return fmt.Errorf("failed to update basket: %w", err)
	}
	return nil
}

// Delete removes a basket. Lines must have been moved or deleted first.
func (r *BasketRepository) Delete(ctx context.Context, q db.Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM baskets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete basket: %w", err)
	}
	return nil
}

// DeleteEmpty removes every basket without lines that was last touched
// before the cut-off and returns how many were removed.
func (r *BasketRepository) DeleteEmpty(ctx context.Context, q db.Querier, untouchedSince time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM baskets
		WHERE updated_at < ?
		  AND NOT EXISTS (SELECT 1 FROM order_lines WHERE order_lines.basket_id = baskets.id)
	`, untouchedSince.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete empty baskets: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		logger.Info().Msgf("✅ DeleteEmptyBaskets: removed %d empty baskets", n)
	}
	return n, nil
}
