package repository

import (
	"context"
	"fmt"

	"bestelling-engine/db"
)

// CounterRepository allocates order numbers from the single-row counter
type CounterRepository struct{}

// NewCounterRepository creates a new CounterRepository
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{}
}

// Ensure CounterRepository implements CounterRepositoryInterface
var _ CounterRepositoryInterface = (*CounterRepository)(nil)

// Ensure seeds the counter so that the first allocated number is start. An
// existing counter is left untouched.
func (r *CounterRepository) Ensure(ctx context.Context, q db.Querier, start int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO order_number_counter (id, last_number) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`,
		start-1)
	if err != nil {
		return fmt.Errorf("failed to seed order number counter: %w", err)
	}
	return nil
}

// NextOrderNumber increments the counter and returns the new value. The
// increment and the read are a single statement, so the row stays locked
// until the surrounding transaction ends.
func (r *CounterRepository) NextOrderNumber(ctx context.Context, q db.Querier) (int64, error) {
	var number int64
	err := q.QueryRowContext(ctx,
		`UPDATE order_number_counter SET last_number = last_number + 1 WHERE id = 1 RETURNING last_number`,
	).Scan(&number)
	if err != nil {
		logger.Error().Err(err).Msg("❌ NextOrderNumber: Error incrementing counter")
		return 0, fmt.Errorf("failed to allocate order number: %w", err)
	}
	logger.Debug().Msgf("✅ NextOrderNumber: allocated %d", number)
	return number, nil
}
