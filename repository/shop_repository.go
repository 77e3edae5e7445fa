package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bestelling-engine/db"
	"bestelling-engine/models"
)

const productColumns = `id, description, price, vat_label, weight_grams, stock_total, stock_reserved, seller_id, is_active`

// ShopRepository handles shop products, their stock counters and the
// reservations (choices) made against them
type ShopRepository struct{}

// NewShopRepository creates a new ShopRepository
func NewShopRepository() *ShopRepository {
	return &ShopRepository{}
}

// Ensure ShopRepository implements ShopRepositoryInterface
var _ ShopRepositoryInterface = (*ShopRepository)(nil)

// CreateProduct inserts a product.
func (r *ShopRepository) CreateProduct(ctx context.Context, q db.Querier, p *models.ShopProduct) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO shop_products (description, price, vat_label, weight_grams, stock_total, stock_reserved, seller_id, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, p.Description, p.Price, p.VATLabel, p.WeightGrams, p.StockTotal, p.StockReserved, p.SellerID, p.IsActive).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to insert shop product: %w", err)
	}
	return nil
}

// GetProduct retrieves a product. With lock set the row stays locked until
// the transaction ends.
func (r *ShopRepository) GetProduct(ctx context.Context, q db.Querier, id int64, lock bool) (*models.ShopProduct, error) {
	query := `SELECT ` + productColumns + ` FROM shop_products WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var p models.ShopProduct
	err := q.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Description, &p.Price, &p.VATLabel, &p.WeightGrams, &p.StockTotal, &p.StockReserved, &p.SellerID, &p.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch shop product: %w", err)
	}
	return &p, nil
}

// ReserveStock moves qty units of a product into reserved stock.
func (r *ShopRepository) ReserveStock(ctx context.Context, q db.Querier, productID int64, qty int) error {
	logger.Info().Msgf("📦 ReserveStock: product=%d qty=%d", productID, qty)

	p, err := r.GetProduct(ctx, q, productID, true)
	if err != nil {
		return err
	}
	if !p.IsActive {
		logger.Warn().Msgf("⚠️ ReserveStock: product %d is not active", productID)
		return fmt.Errorf("product %d is not active: %w", productID, ErrNoCapacity)
	}
	if p.Available() < qty {
		logger.Warn().Msgf("⚠️ ReserveStock: insufficient stock for product %d (available %d, requested %d)", productID, p.Available(), qty)
		return fmt.Errorf("insufficient stock for product %d: %w", productID, ErrNoCapacity)
	}

	if _, err := q.ExecContext(ctx, `UPDATE shop_products SET stock_reserved = stock_reserved + ? WHERE id = ?`, qty, productID); err != nil {
		logger.Error().Err(err).Msg("❌ ReserveStock: Error updating stock_reserved")
		return fmt.Errorf("failed to update stock_reserved: %w", err)
	}
	return nil
}

// ReleaseStock returns qty reserved units to available stock, never going
// below zero reserved.
func (r *ShopRepository) ReleaseStock(ctx context.Context, q db.Querier, productID int64, qty int) error {
	_, err := q.ExecContext(ctx, `
		UPDATE shop_products
		SET stock_reserved = CASE WHEN stock_reserved > ? THEN stock_reserved - ? ELSE 0 END
		WHERE id = ?
	`, qty, qty, productID)
	if err != nil {
		logger.Error().Err(err).Msg("❌ ReleaseStock: Error updating stock_reserved")
		return fmt.Errorf("failed to update stock_reserved: %w", err)
	}
	return nil
}

// SellStock deducts sold units from both total and reserved stock.
func (r *ShopRepository) SellStock(ctx context.Context, q db.Querier, productID int64, qty int) error {
	p, err := r.GetProduct(ctx, q, productID, true)
	if err != nil {
		return err
	}
	if p.StockReserved < qty {
		return fmt.Errorf("product %d has %d reserved, cannot sell %d", productID, p.StockReserved, qty)
	}
	_, err = q.ExecContext(ctx, `
		UPDATE shop_products
		SET stock_total = stock_total - ?,
		    stock_reserved = stock_reserved - ?
		WHERE id = ?
	`, qty, qty, productID)
	if err != nil {
		logger.Error().Err(err).Msg("❌ SellStock: Error updating stock")
		return fmt.Errorf("failed to update stock: %w", err)
	}
	return nil
}

// CreateChoice inserts a reservation.
func (r *ShopRepository) CreateChoice(ctx context.Context, q db.Querier, c *models.ShopChoice) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = nowUTC()
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO shop_choices (product_id, account_id, qty, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, c.ProductID, c.AccountID, c.Qty, string(c.Status), c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to insert shop choice: %w", err)
	}
	return nil
}

// GetChoice retrieves a reservation.
func (r *ShopRepository) GetChoice(ctx context.Context, q db.Querier, id int64) (*models.ShopChoice, error) {
	var c models.ShopChoice
	var status string
	err := q.QueryRowContext(ctx,
		`SELECT id, product_id, account_id, qty, status, created_at FROM shop_choices WHERE id = ?`, id,
	).Scan(&c.ID, &c.ProductID, &c.AccountID, &c.Qty, &status, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch shop choice: %w", err)
	}
	c.Status = models.ChoiceStatus(status)
	return &c, nil
}

// UpdateChoiceStatus changes the status of a reservation.
func (r *ShopRepository) UpdateChoiceStatus(ctx context.Context, q db.Querier, id int64, status models.ChoiceStatus) error {
	if _, err := q.ExecContext(ctx, `UPDATE shop_choices SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("failed to update shop choice: %w", err)
	}
	return nil
}

// DeleteChoice removes a reservation.
func (r *ShopRepository) DeleteChoice(ctx context.Context, q db.Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM shop_choices WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete shop choice: %w", err)
	}
	return nil
}
