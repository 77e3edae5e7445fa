package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
)

const transactionColumns = `id, order_id, kind, reference, amount, received, created_at`

// TransactionRepository handles database operations for payment transactions
type TransactionRepository struct{}

// NewTransactionRepository creates a new TransactionRepository
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{}
}

// Ensure TransactionRepository implements TransactionRepositoryInterface
var _ TransactionRepositoryInterface = (*TransactionRepository)(nil)

func scanTransaction(s rowScanner) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	var kind string
	if err := s.Scan(&t.ID, &t.OrderID, &kind, &t.Reference, &t.Amount, &t.Received, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Kind = models.TransactionKind(kind)
	return &t, nil
}

// Create inserts a payment transaction linked to an order.
func (r *TransactionRepository) Create(ctx context.Context, q db.Querier, t *models.PaymentTransaction) error {
	logger.Info().Msgf("💰 CreateTransaction: order=%d kind=%s amount=%s received=%t", t.OrderID, t.Kind, t.Amount, t.Received)

	if t.Amount.IsNegative() {
		return fmt.Errorf("amount must not be negative")
	}
	if t.Reference == "" {
		return fmt.Errorf("reference is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = nowUTC()
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO payment_transactions (order_id, kind, reference, amount, received, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, t.OrderID, string(t.Kind), t.Reference, t.Amount, t.Received, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		logger.Error().Err(err).Msg("❌ CreateTransaction: Error inserting transaction")
		return fmt.Errorf("failed to insert payment transaction: %w", err)
	}

	logger.Info().Msgf("✅ CreateTransaction: Successfully created transaction id=%d", t.ID)
	return nil
}

// ForOrder lists the transactions of an order, oldest first.
func (r *TransactionRepository) ForOrder(ctx context.Context, q db.Querier, orderID int64) ([]models.PaymentTransaction, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE order_id = ? ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment transactions: %w", err)
	}
	defer rows.Close()

	var out []models.PaymentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment transaction: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment transactions: %w", err)
	}
	return out, nil
}

// FindByReference returns the provider transaction with the given external
// reference.
func (r *TransactionRepository) FindByReference(ctx context.Context, q db.Querier, reference string) (*models.PaymentTransaction, bool, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE reference = ? AND kind = ? ORDER BY id DESC LIMIT 1`,
		reference, string(models.TransactionProvider)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to fetch payment transaction: %w", err)
	}
	return t, true, nil
}

// MarkReceived records that the money of a transaction has arrived.
func (r *TransactionRepository) MarkReceived(ctx context.Context, q db.Querier, id int64, amount decimal.Decimal) error {
	_, err := q.ExecContext(ctx, `UPDATE payment_transactions SET received = ?, amount = ? WHERE id = ?`, true, amount, id)
	if err != nil {
		return fmt.Errorf("failed to mark payment transaction received: %w", err)
	}
	return nil
}
