package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
)

const mutationColumns = `id, code, account_id, line_id, order_id, product_code, product_ref, quantity, amount,
	transport, success, reference, address, is_processed, created_at`

// MutationRepository handles database operations for mutation records
type MutationRepository struct{}

// NewMutationRepository creates a new MutationRepository
func NewMutationRepository() *MutationRepository {
	return &MutationRepository{}
}

// Ensure MutationRepository implements MutationRepositoryInterface
var _ MutationRepositoryInterface = (*MutationRepository)(nil)

func scanMutation(s rowScanner) (*models.MutationRecord, error) {
	var m models.MutationRecord
	var code, productCode, transport string
	var accountID, lineID, orderID, productRef sql.NullInt64
	var amount decimal.NullDecimal
	var success sql.NullBool
	err := s.Scan(
		&m.ID,
		&code,
		&accountID,
		&lineID,
		&orderID,
		&productCode,
		&productRef,
		&m.Quantity,
		&amount,
		&transport,
		&success,
		&m.Reference,
		&m.Address,
		&m.Processed,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Code = models.MutationCode(code)
	m.AccountID = int64Ptr(accountID)
	m.LineID = int64Ptr(lineID)
	m.OrderID = int64Ptr(orderID)
	m.ProductCode = models.ProductCode(productCode)
	m.ProductRef = int64Ptr(productRef)
	m.Transport = models.Transport(transport)
	if amount.Valid {
		v := amount.Decimal
		m.Amount = &v
	}
	if success.Valid {
		v := success.Bool
		m.Success = &v
	}
	return &m, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// Insert appends a mutation record.
func (r *MutationRepository) Insert(ctx context.Context, q db.Querier, m *models.MutationRecord) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO mutations (code, account_id, line_id, order_id, product_code, product_ref, quantity, amount,
			transport, success, reference, address, is_processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		string(m.Code),
		nullInt64(m.AccountID),
		nullInt64(m.LineID),
		nullInt64(m.OrderID),
		string(m.ProductCode),
		nullInt64(m.ProductRef),
		m.Quantity,
		nullDecimal(m.Amount),
		string(m.Transport),
		nullBool(m.Success),
		m.Reference,
		m.Address,
		false,
		m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		logger.Error().Err(err).Msgf("❌ InsertMutation: Error inserting %s", m.Code)
		return fmt.Errorf("failed to insert mutation: %w", err)
	}
	return nil
}

// FindUnprocessedDuplicate looks for a not yet processed record with the same
// code and the same payload as m.
func (r *MutationRepository) FindUnprocessedDuplicate(ctx context.Context, q db.Querier, m *models.MutationRecord) (int64, bool, error) {
	conds := []string{"is_processed = ?", "code = ?", "product_code = ?", "quantity = ?", "transport = ?", "reference = ?", "address = ?"}
	args := []any{false, string(m.Code), string(m.ProductCode), m.Quantity, string(m.Transport), m.Reference, m.Address}

	optional := func(column string, valid bool, value any) {
		if !valid {
			conds = append(conds, column+" IS NULL")
			return
		}
		conds = append(conds, column+" = ?")
		args = append(args, value)
	}
	optional("account_id", m.AccountID != nil, nullInt64(m.AccountID))
	optional("line_id", m.LineID != nil, nullInt64(m.LineID))
	optional("order_id", m.OrderID != nil, nullInt64(m.OrderID))
	optional("product_ref", m.ProductRef != nil, nullInt64(m.ProductRef))
	optional("amount", m.Amount != nil, nullDecimal(m.Amount))
	optional("success", m.Success != nil, nullBool(m.Success))

	query := `SELECT id FROM mutations WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY id ASC LIMIT 1`

	var id int64
	err := q.QueryRowContext(ctx, query, args...).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to look up duplicate mutation: %w", err)
	}
	return id, true, nil
}

// Get loads a single record.
func (r *MutationRepository) Get(ctx context.Context, q db.Querier, id int64) (*models.MutationRecord, error) {
	m, err := scanMutation(q.QueryRowContext(ctx, `SELECT `+mutationColumns+` FROM mutations WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch mutation: %w", err)
	}
	return m, nil
}

// MaxID returns the highest record id, or 0 when the table is empty.
func (r *MutationRepository) MaxID(ctx context.Context, q db.Querier) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM mutations`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to fetch highest mutation id: %w", err)
	}
	return id, nil
}

// UnprocessedAfter returns the ids of unprocessed records with an id above
// afterID, in ascending order.
func (r *MutationRepository) UnprocessedAfter(ctx context.Context, q db.Querier, afterID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM mutations WHERE is_processed = ? AND id > ? ORDER BY id ASC`, false, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to select unprocessed mutations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan mutation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unprocessed mutations: %w", err)
	}
	return ids, nil
}

// MarkProcessed flips the processed flag. It reports false when the record
// was already processed.
func (r *MutationRepository) MarkProcessed(ctx context.Context, q db.Querier, id int64) (bool, error) {
	result, err := q.ExecContext(ctx, `UPDATE mutations SET is_processed = ? WHERE id = ? AND is_processed = ?`, true, id, false)
	if err != nil {
		return false, fmt.Errorf("failed to mark mutation processed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// IsProcessed reports the processed flag of a record.
func (r *MutationRepository) IsProcessed(ctx context.Context, q db.Querier, id int64) (bool, error) {
	var processed bool
	err := q.QueryRowContext(ctx, `SELECT is_processed FROM mutations WHERE id = ?`, id).Scan(&processed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to fetch mutation state: %w", err)
	}
	return processed, nil
}

// CountUnprocessed returns the number of records waiting for the processor.
func (r *MutationRepository) CountUnprocessed(ctx context.Context, q db.Querier) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations WHERE is_processed = ?`, false).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unprocessed mutations: %w", err)
	}
	return n, nil
}

// DeleteProcessedBefore purges processed records created before the cut-off.
func (r *MutationRepository) DeleteProcessedBefore(ctx context.Context, q db.Querier, before time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM mutations WHERE is_processed = ? AND created_at < ?`, true, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old mutations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
