package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/utils"
)

var logger = utils.NewLogger("repository")

const lineColumns = `id, basket_id, order_id, description, price, discount, vat_label, vat_amount, code, product_ref, weight_grams, created_at`

// LineRepository handles database operations for order lines
type LineRepository struct{}

// NewLineRepository creates a new LineRepository
func NewLineRepository() *LineRepository {
	return &LineRepository{}
}

// Ensure LineRepository implements LineRepositoryInterface
var _ LineRepositoryInterface = (*LineRepository)(nil)

func scanLine(s rowScanner) (*models.OrderLine, error) {
	var line models.OrderLine
	var basketID, orderID sql.NullInt64
	var code string
	err := s.Scan(
		&line.ID,
		&basketID,
		&orderID,
		&line.Description,
		&line.Price,
		&line.Discount,
		&line.VATLabel,
		&line.VATAmount,
		&code,
		&line.ProductRef,
		&line.WeightGrams,
		&line.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	line.BasketID = int64Ptr(basketID)
	line.OrderID = int64Ptr(orderID)
	line.Code = models.ProductCode(code)
	return &line, nil
}

func (r *LineRepository) queryLines(ctx context.Context, q db.Querier, query string, args ...any) ([]models.OrderLine, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order lines: %w", err)
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		lines = append(lines, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order lines: %w", err)
	}
	return lines, nil
}

// Insert stores a new line. Exactly one of BasketID/OrderID may be set.
func (r *LineRepository) Insert(ctx context.Context, q db.Querier, line *models.OrderLine) error {
	if line.BasketID != nil && line.OrderID != nil {
		return fmt.Errorf("line cannot belong to a basket and an order at the same time")
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = nowUTC()
	}

	query := `
		INSERT INTO order_lines (basket_id, order_id, description, price, discount, vat_label, vat_amount, code, product_ref, weight_grams, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		nullInt64(line.BasketID),
		nullInt64(line.OrderID),
		line.Description,
		line.Price,
		line.Discount,
		line.VATLabel,
		line.VATAmount,
		string(line.Code),
		line.ProductRef,
		line.WeightGrams,
		line.CreatedAt,
	).Scan(&line.ID)
	if err != nil {
		logger.Error().Err(err).Msg("❌ InsertLine: Error inserting line")
		return fmt.Errorf("failed to insert order line: %w", err)
	}

	logger.Debug().Msgf("✅ InsertLine: Successfully created line id=%d code=%s", line.ID, line.Code)
	return nil
}

// Get retrieves a single line by id.
func (r *LineRepository) Get(ctx context.Context, q db.Querier, id int64) (*models.OrderLine, error) {
	line, err := scanLine(q.QueryRowContext(ctx, `SELECT `+lineColumns+` FROM order_lines WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch order line: %w", err)
	}
	return line, nil
}

// ForBasket returns the lines of a basket in insertion order.
func (r *LineRepository) ForBasket(ctx context.Context, q db.Querier, basketID int64) ([]models.OrderLine, error) {
	return r.queryLines(ctx, q, `SELECT `+lineColumns+` FROM order_lines WHERE basket_id = ? ORDER BY id ASC`, basketID)
}

// ForOrder returns the lines of an order in insertion order.
func (r *LineRepository) ForOrder(ctx context.Context, q db.Querier, orderID int64) ([]models.OrderLine, error) {
	return r.queryLines(ctx, q, `SELECT `+lineColumns+` FROM order_lines WHERE order_id = ? ORDER BY id ASC`, orderID)
}

// BasketLinesCreatedBefore returns basket lines older than the cut-off,
// oldest first.
func (r *LineRepository) BasketLinesCreatedBefore(ctx context.Context, q db.Querier, before time.Time) ([]models.OrderLine, error) {
	return r.queryLines(ctx, q, `SELECT `+lineColumns+` FROM order_lines WHERE basket_id IS NOT NULL AND created_at < ? ORDER BY id ASC`, before.UTC())
}

// UpdatePricing stores a recomputed discount and VAT amount.
func (r *LineRepository) UpdatePricing(ctx context.Context, q db.Querier, line *models.OrderLine) error {
	_, err := q.ExecContext(ctx, `UPDATE order_lines SET discount = ?, vat_amount = ? WHERE id = ?`,
		line.Discount, line.VATAmount, line.ID)
	if err != nil {
		return fmt.Errorf("failed to update line pricing: %w", err)
	}
	return nil
}

// MoveToOrder transfers ownership of a basket line to an order. The line must
// still be in the given basket.
func (r *LineRepository) MoveToOrder(ctx context.Context, q db.Querier, lineID, basketID, orderID int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE order_lines SET basket_id = NULL, order_id = ? WHERE id = ? AND basket_id = ?`,
		orderID, lineID, basketID)
	if err != nil {
		return fmt.Errorf("failed to move line to order: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("line %d is not in basket %d: %w", lineID, basketID, ErrNotFound)
	}
	return nil
}

// Delete removes a line.
func (r *LineRepository) Delete(ctx context.Context, q db.Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM order_lines WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete order line: %w", err)
	}
	return nil
}
