package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bestelling-engine/db"
	"bestelling-engine/repository"
)

// emptyBasketGrace keeps recently touched empty baskets, which may still hold
// an address or transport choice.
const emptyBasketGrace = 24 * time.Hour

// ColdStart releases basket reservations older than the reservation expiry.
// It runs before the main loop so a restarted processor heals itself.
func (p *Processor) ColdStart(ctx context.Context) error {
	maxID, err := p.store.Mutations.MaxID(ctx, p.db)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	pending, err := p.store.Mutations.CountUnprocessed(ctx, p.db)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	logger.Info().Msgf("🔄 ColdStart: highest mutation id %d, %d unprocessed", maxID, pending)

	if p.settings.ReservationExpiry <= 0 {
		return nil
	}

	cutoff := p.now().Add(-p.settings.ReservationExpiry)
	expired, err := p.store.Lines.BasketLinesCreatedBefore(ctx, p.db, cutoff)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if len(expired) == 0 {
		return nil
	}

	var baskets []int64
	seen := make(map[int64]bool)
	for _, line := range expired {
		if line.BasketID == nil || seen[*line.BasketID] {
			continue
		}
		seen[*line.BasketID] = true
		baskets = append(baskets, *line.BasketID)
	}

	run := newRunContext(p.now())
	released := 0
	for _, basketID := range baskets {
		n, err := p.expireBasket(ctx, run, basketID, cutoff)
		if err != nil {
			if isStorageError(err) {
				return fmt.Errorf("%w: %v", ErrStorage, err)
			}
			// one broken basket must not keep the processor from starting
			logger.Error().Err(err).Msgf("❌ ColdStart: failed to expire basket %d", basketID)
			continue
		}
		released += n
	}

	logger.Info().Msgf("✅ ColdStart: released %d expired reservations in %d baskets", released, len(baskets))
	return nil
}

func (p *Processor) expireBasket(ctx context.Context, run *runContext, basketID int64, cutoff time.Time) (int, error) {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	basket, err := p.store.Baskets.Get(ctx, tx, basketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	h := &handlerCtx{run: run, q: tx, now: p.now()}
	released := 0
	for _, line := range append(basket.Lines[:0:0], basket.Lines...) {
		if !line.CreatedAt.Before(cutoff) {
			continue
		}
		if err := p.dropLine(ctx, h, basket, &line); err != nil {
			return 0, err
		}
		released++
	}

	if err := p.recalculate(ctx, tx, basket); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return released, nil
}

// sweepIfDue runs the retention sweep when the sweep interval has passed
// since the last one. Sweeping from the loop keeps the processor the only
// writer. A failed sweep is retried an hour later.
func (p *Processor) sweepIfDue(ctx context.Context) {
	if p.maintenance == nil {
		return
	}
	now := p.now()
	if now.Before(p.nextSweep) {
		return
	}
	if _, err := p.maintenance.Sweep(ctx, now); err != nil {
		logger.Error().Err(err).Msg("❌ Sweep: retention sweep failed, retrying in 1h")
		p.nextSweep = now.Add(time.Hour)
		return
	}
	p.nextSweep = now.Add(p.settings.SweepInterval)
}

// SweepResult counts what a retention sweep removed.
type SweepResult struct {
	Orders    int64
	Mutations int64
	Baskets   int64
}

// Maintenance purges data past the retention window.
type Maintenance struct {
	db        *db.DB
	store     *repository.Store
	retention time.Duration
}

// NewMaintenance creates the retention sweeper.
func NewMaintenance(database *db.DB, store *repository.Store, retention time.Duration) *Maintenance {
	return &Maintenance{db: database, store: store, retention: retention}
}

// Sweep removes orders and processed mutation records older than the
// retention window and baskets left empty.
func (m *Maintenance) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	cutoff := now.Add(-m.retention)

	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	if result.Orders, err = m.store.Orders.DeleteCreatedBefore(ctx, tx, cutoff); err != nil {
		return result, err
	}
	if result.Mutations, err = m.store.Mutations.DeleteProcessedBefore(ctx, tx, cutoff); err != nil {
		return result, err
	}
	if result.Baskets, err = m.store.Baskets.DeleteEmpty(ctx, tx, now.Add(-emptyBasketGrace)); err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return SweepResult{}, fmt.Errorf("failed to commit retention sweep: %w", err)
	}

	logger.Info().Msgf("✅ Sweep: removed %d orders, %d mutations and %d empty baskets older than %s",
		result.Orders, result.Mutations, result.Baskets, cutoff.Format("2006-01-02"))
	return result, nil
}
