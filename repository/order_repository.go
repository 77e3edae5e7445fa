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

const orderColumns = `id, number, account_id, seller_id, seller_name, seller_address, seller_iban, seller_bic, seller_email,
	automated_payment, transport, address_1, address_2, address_3, address_4, address_5, status, log, total,
	vat_1_pct, vat_1_amount, vat_2_pct, vat_2_amount, vat_3_pct, vat_3_amount, created_at`

// OrderRepository handles database operations for orders
type OrderRepository struct {
	lines        *LineRepository
	transactions *TransactionRepository
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(lines *LineRepository, transactions *TransactionRepository) *OrderRepository {
	return &OrderRepository{lines: lines, transactions: transactions}
}

// Ensure OrderRepository implements OrderRepositoryInterface
var _ OrderRepositoryInterface = (*OrderRepository)(nil)

func scanOrder(s rowScanner) (*models.Order, error) {
	var o models.Order
	var transport, status string
	err := s.Scan(
		&o.ID,
		&o.Number,
		&o.AccountID,
		&o.SellerID,
		&o.SellerName,
		&o.SellerAddress,
		&o.SellerIBAN,
		&o.SellerBIC,
		&o.SellerEmail,
		&o.AutomatedPayment,
		&transport,
		&o.Address[0], &o.Address[1], &o.Address[2], &o.Address[3], &o.Address[4],
		&status,
		&o.Log,
		&o.Total,
		&o.VAT[0].Percentage, &o.VAT[0].Amount,
		&o.VAT[1].Percentage, &o.VAT[1].Amount,
		&o.VAT[2].Percentage, &o.VAT[2].Amount,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Transport = models.Transport(transport)
	o.Status = models.OrderStatus(status)
	return &o, nil
}

// Create inserts a new order. Lines are attached separately.
func (r *OrderRepository) Create(ctx context.Context, q db.Querier, o *models.Order) error {
	logger.Info().Msgf("📦 CreateOrder: number=%d account=%d seller=%d", o.Number, o.AccountID, o.SellerID)

	if o.CreatedAt.IsZero() {
		o.CreatedAt = nowUTC()
	}
	query := `
		INSERT INTO orders (number, account_id, seller_id, seller_name, seller_address, seller_iban, seller_bic, seller_email,
			automated_payment, transport, address_1, address_2, address_3, address_4, address_5, status, log, total,
			vat_1_pct, vat_1_amount, vat_2_pct, vat_2_amount, vat_3_pct, vat_3_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		o.Number, o.AccountID, o.SellerID,
		o.SellerName, o.SellerAddress, o.SellerIBAN, o.SellerBIC, o.SellerEmail,
		o.AutomatedPayment, string(o.Transport),
		o.Address[0], o.Address[1], o.Address[2], o.Address[3], o.Address[4],
		string(o.Status), o.Log, o.Total,
		o.VAT[0].Percentage, o.VAT[0].Amount,
		o.VAT[1].Percentage, o.VAT[1].Amount,
		o.VAT[2].Percentage, o.VAT[2].Amount,
		o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		logger.Error().Err(err).Msg("❌ CreateOrder: Error inserting order")
		return fmt.Errorf("failed to insert order: %w", err)
	}

	logger.Info().Msgf("✅ CreateOrder: Successfully created order id=%d number=%d", o.ID, o.Number)
	return nil
}

// Get loads an order with its lines and payment transactions. With lock set
// the order row is locked for the rest of the transaction.
func (r *OrderRepository) Get(ctx context.Context, q db.Querier, id int64, lock bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}

	if o.Lines, err = r.lines.ForOrder(ctx, q, o.ID); err != nil {
		return nil, err
	}
	if o.Transactions, err = r.transactions.ForOrder(ctx, q, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// ListByAccount returns the orders of an account, newest first, without
// lines or transactions.
func (r *OrderRepository) ListByAccount(ctx context.Context, q db.Querier, accountID int64) ([]models.Order, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE account_id = ? ORDER BY id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

// Update writes the mutable parts of an order: status, log, payment mode and
// totals.
func (r *OrderRepository) Update(ctx context.Context, q db.Querier, o *models.Order) error {
	query := `
		UPDATE orders
		SET status = ?, log = ?, automated_payment = ?, total = ?,
		    vat_1_pct = ?, vat_1_amount = ?, vat_2_pct = ?, vat_2_amount = ?, vat_3_pct = ?, vat_3_amount = ?
		WHERE id = ?
	`
	_, err := q.ExecContext(ctx, query,
		string(o.Status), o.Log, o.AutomatedPayment, o.Total,
		o.VAT[0].Percentage, o.VAT[0].Amount,
		o.VAT[1].Percentage, o.VAT[1].Amount,
		o.VAT[2].Percentage, o.VAT[2].Amount,
		o.ID,
	)
	if err != nil {
		logger.Error().Err(err).Msgf("❌ UpdateOrder: Error updating order id=%d", o.ID)
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

// DeleteCreatedBefore purges orders created before the cut-off together with
// their lines and transactions. It returns the number of orders removed.
func (r *OrderRepository) DeleteCreatedBefore(ctx context.Context, q db.Querier, before time.Time) (int64, error) {
	before = before.UTC()

	_, err := q.ExecContext(ctx,
		`DELETE FROM payment_transactions WHERE order_id IN (SELECT id FROM orders WHERE created_at < ?)`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old payment transactions: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`DELETE FROM order_lines WHERE order_id IN (SELECT id FROM orders WHERE created_at < ?)`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old order lines: %w", err)
	}
	result, err := q.ExecContext(ctx, `DELETE FROM orders WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old orders: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
