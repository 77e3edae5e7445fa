package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/repository"
)

// runContext holds lookups cached for one processing pass. It is built at the
// start of a pass and dropped at its end.
type runContext struct {
	started  time.Time
	sellers  map[int64]*models.Seller
	targets  map[int64]int64
	keyValid map[int64]bool
}

func newRunContext(now time.Time) *runContext {
	return &runContext{
		started:  now,
		sellers:  make(map[int64]*models.Seller),
		targets:  make(map[int64]int64),
		keyValid: make(map[int64]bool),
	}
}

// handlerCtx is what a single handler invocation works with: the pass, the
// transaction and the notifications to send once it commits.
type handlerCtx struct {
	run    *runContext
	q      db.Querier
	now    time.Time
	record *models.MutationRecord
	outbox []models.Notification
}

func (h *handlerCtx) notify(notes ...models.Notification) {
	h.outbox = append(h.outbox, notes...)
}

func (p *Processor) seller(ctx context.Context, h *handlerCtx, id int64) (*models.Seller, error) {
	if s, ok := h.run.sellers[id]; ok {
		return s, nil
	}
	s, err := p.store.Sellers.Get(ctx, h.q, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("seller %d does not exist: %w", id, err)
		}
		return nil, err
	}
	h.run.sellers[id] = s
	return s, nil
}

// payoutTarget resolves the seller that actually receives the money for
// sellerID, applying the umbrella override.
func (p *Processor) payoutTarget(ctx context.Context, h *handlerCtx, sellerID int64) (int64, error) {
	if target, ok := h.run.targets[sellerID]; ok {
		return target, nil
	}
	s, err := p.seller(ctx, h, sellerID)
	if err != nil {
		return 0, err
	}
	target := sellerID
	if s.ViaUmbrella && p.settings.UmbrellaSellerID != 0 {
		target = p.settings.UmbrellaSellerID
	}
	h.run.targets[sellerID] = target
	return target, nil
}

// automatedPayment reports whether the seller's payment key is accepted by
// the provider. Failures degrade to manual transfer.
func (p *Processor) automatedPayment(ctx context.Context, h *handlerCtx, s *models.Seller) bool {
	if ok, cached := h.run.keyValid[s.ID]; cached {
		return ok
	}
	ok := false
	switch {
	case p.payments == nil || s.PaymentKey == "":
	default:
		if err := p.payments.CheckAccess(ctx, s.PaymentKey); err != nil {
			logger.Warn().Err(err).Msgf("⚠️ PaymentKeyCheck: seller %d cannot use automated payment", s.ID)
		} else {
			ok = true
		}
	}
	h.run.keyValid[s.ID] = ok
	return ok
}
