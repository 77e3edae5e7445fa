// Package mutation serialises every basket and order change through a single
// consumer. Producers append records with Queue; one Processor executes them
// in insertion order.
package mutation

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/plugin"
	"bestelling-engine/pricing"
	"bestelling-engine/repository"
	"bestelling-engine/service"
	"bestelling-engine/utils"
	"bestelling-engine/wake"
)

var logger = utils.NewLogger("mutation")

// ErrStorage marks a failure of the store itself, as opposed to a failure of
// the record being handled. The processor pauses and retries on it.
var ErrStorage = errors.New("storage unavailable")

// Settings tunes the processor.
type Settings struct {
	PollInterval      time.Duration
	StoragePause      time.Duration
	ReservationExpiry time.Duration
	UmbrellaSellerID  int64
	ReturnURL         string
	Currency          string
	// SweepInterval spaces the retention sweeps run by Run; 24h by default.
	SweepInterval     time.Duration
}

// Deps are the collaborators of the processor.
type Deps struct {
	DB       *db.DB
	Store    *repository.Store
	Plugins  *plugin.Registry
	Engine   *pricing.Engine
	Payments service.PaymentProviderInterface
	Notifier service.NotifierInterface
	Alerter  *service.Alerter
	Wake     wake.Channel

	// Maintenance, when set, is swept from the processor loop.
	Maintenance *Maintenance
}

// Processor is the single consumer of mutation records. Only one may run per
// deployment.
type Processor struct {
	db       *db.DB
	store    *repository.Store
	plugins  *plugin.Registry
	engine   *pricing.Engine
	payments service.PaymentProviderInterface
	notifier service.NotifierInterface
	alerter  *service.Alerter
	wake     wake.Channel
	settings Settings
	now      func() time.Time

	// records whose handler failed in this process; skipped until restart or Redrive
	failed  map[int64]struct{}
	redrive atomic.Bool

	maintenance *Maintenance
	nextSweep   time.Time
}

// NewProcessor creates a processor.
func NewProcessor(deps Deps, settings Settings) *Processor {
	if settings.PollInterval <= 0 {
		settings.PollInterval = 5 * time.Second
	}
	if settings.StoragePause <= 0 {
		settings.StoragePause = 2 * time.Second
	}
	if settings.SweepInterval <= 0 {
		settings.SweepInterval = 24 * time.Hour
	}
	if settings.Currency == "" {
		settings.Currency = "EUR"
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = service.LogNotifier{}
	}
	w := deps.Wake
	if w == nil {
		w = wake.NewLocal()
	}
	return &Processor{
		db:       deps.DB,
		store:    deps.Store,
		plugins:  deps.Plugins,
		engine:   deps.Engine,
		payments: deps.Payments,
		notifier: notifier,
		alerter:  deps.Alerter,
		wake:     w,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		failed:   make(map[int64]struct{}),

		maintenance: deps.Maintenance,
	}
}

// RunOptions bound a Run.
type RunOptions struct {
	// Duration is the maximum run time; zero runs until ctx is done.
	Duration time.Duration
	// StopMinute, when set, stops the run at the first wall-clock minute
	// (0-59) equal to it, at least one minute after start.
	StopMinute *int
}

func (o RunOptions) deadline(start time.Time) time.Time {
	var deadline time.Time
	if o.Duration > 0 {
		deadline = start.Add(o.Duration)
	}
	if o.StopMinute != nil && *o.StopMinute >= 0 && *o.StopMinute < 60 {
		stop := start.Truncate(time.Minute).Add(time.Minute)
		for stop.Minute() != *o.StopMinute {
			stop = stop.Add(time.Minute)
		}
		if deadline.IsZero() || stop.Before(deadline) {
			deadline = stop
		}
	}
	return deadline
}

// Run performs cold-start recovery and then processes records until ctx is
// done or the options' deadline passes.
func (p *Processor) Run(ctx context.Context, opts RunOptions) error {
	start := p.now()
	deadline := opts.deadline(start)
	if deadline.IsZero() {
		logger.Info().Msg("🚀 Processor: starting")
	} else {
		logger.Info().Msgf("🚀 Processor: starting, running until %s", deadline.Format(time.RFC3339))
	}

	for {
		err := p.ColdStart(ctx)
		if err == nil {
			break
		}
		if !p.pause(ctx, err) {
			return nil
		}
	}

	for {
		if _, err := p.ProcessPending(ctx); err != nil {
			if !p.pause(ctx, err) {
				return nil
			}
			continue
		}
		p.sweepIfDue(ctx)

		wait := p.settings.PollInterval
		if !deadline.IsZero() {
			left := deadline.Sub(p.now())
			if left <= 0 {
				logger.Info().Msg("🛑 Processor: run time over, stopping")
				return nil
			}
			if left < wait {
				wait = left
			}
		}
		p.wake.Wait(ctx, wait)
		if ctx.Err() != nil {
			logger.Info().Msg("🛑 Processor: stopped")
			return nil
		}
	}
}

// pause logs a storage failure and sleeps before the next attempt. It
// returns false when ctx ended meanwhile.
func (p *Processor) pause(ctx context.Context, err error) bool {
	logger.Error().Err(err).Msgf("❌ Processor: storage failure, retrying in %s", p.settings.StoragePause)
	timer := time.NewTimer(p.settings.StoragePause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Redrive makes the next pass forget earlier handler failures, so failed
// records are attempted again. Safe to call while Run is active.
func (p *Processor) Redrive() {
	p.redrive.Store(true)
}

// ProcessPending runs one pass: every unprocessed record not known to fail is
// handled in ascending id order. It returns the number of records marked
// processed. A storage failure ends the pass early with an ErrStorage error;
// the record in flight stays unprocessed.
func (p *Processor) ProcessPending(ctx context.Context) (int, error) {
	maxID, err := p.store.Mutations.MaxID(ctx, p.db)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	ids, err := p.store.Mutations.UnprocessedAfter(ctx, p.db, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if p.redrive.Swap(false) && len(p.failed) > 0 {
		logger.Info().Msgf("🔁 Redrive: retrying %d failed records", len(p.failed))
		p.failed = make(map[int64]struct{})
	}

	run := newRunContext(p.now())
	processed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, failed := p.failed[id]; failed {
			continue
		}

		ok, err := p.processOne(ctx, run, id)
		if err != nil {
			return processed, err
		}
		if ok {
			processed++
		}
	}

	if processed > 0 {
		logger.Info().Msgf("✅ ProcessPending: processed %d records (highest id %d)", processed, maxID)
	}
	return processed, nil
}

// processOne handles a single record inside its own transaction and marks it
// processed in that same transaction.
func (p *Processor) processOne(ctx context.Context, run *runContext, id int64) (bool, error) {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	// load fresh so the effects of the previous record are visible
	rec, err := p.store.Mutations.Get(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if rec.Processed {
		return false, nil
	}

	h := &handlerCtx{run: run, q: tx, now: p.now(), record: rec}
	if err := p.dispatch(ctx, h, rec); err != nil {
		_ = tx.Rollback()
		if isStorageError(err) {
			return false, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		p.fail(ctx, rec, err)
		return false, nil
	}

	if _, err := p.store.Mutations.MarkProcessed(ctx, tx, rec.ID); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: failed to commit mutation %d: %v", ErrStorage, rec.ID, err)
	}

	logger.Debug().Msgf("✅ Mutation %d (%s) processed", rec.ID, rec.Code)

	if len(h.outbox) > 0 {
		if err := p.notifier.Send(ctx, h.outbox...); err != nil {
			logger.Error().Err(err).Msgf("❌ Mutation %d: notifications not queued", rec.ID)
		}
	}
	return true, nil
}

// dispatch converts the record into its command and runs the handler.
// Panics are turned into errors carrying the stack.
func (p *Processor) dispatch(ctx context.Context, h *handlerCtx, rec *models.MutationRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	cmd, err := rec.Command()
	if err != nil {
		return err
	}

	switch c := cmd.(type) {
	case models.ReserveProduct:
		return p.reserveProduct(ctx, h, c)
	case models.RemoveFromBasket:
		return p.removeFromBasket(ctx, h, c)
	case models.MaterializeOrders:
		return p.materializeOrders(ctx, h, c)
	case models.PaymentConcluded:
		return p.paymentConcluded(ctx, h, c)
	case models.ManualTransferReceived:
		return p.manualTransfer(ctx, h, c)
	case models.CancelOrder:
		return p.cancelOrder(ctx, h, c)
	case models.ChangeTransport:
		return p.changeTransport(ctx, h, c)
	case models.StartPayment:
		return p.startPayment(ctx, h, c)
	case models.WithdrawRegistration:
		return p.withdrawRegistration(ctx, h, c)
	case models.ChangeAddress:
		return p.changeAddress(ctx, h, c)
	}
	return fmt.Errorf("%w: %T", models.ErrUnknownCode, cmd)
}

// fail records a handler failure: the record stays unprocessed, is skipped by
// later passes of this process and operators are alerted once per day per
// distinct failure.
func (p *Processor) fail(ctx context.Context, rec *models.MutationRecord, err error) {
	p.failed[rec.ID] = struct{}{}

	event := logger.Error().Err(err).Int64("mutation", rec.ID).Str("code", string(rec.Code))
	var pe *panicError
	if errors.As(err, &pe) {
		event = event.Str("stack", string(pe.stack))
	}
	event.Msg("❌ Mutation failed, left unprocessed")

	if p.alerter == nil {
		return
	}
	key := fmt.Sprintf("%s:%s", rec.Code, firstLine(err.Error()))
	body := fmt.Sprintf("Mutation %d (%s) failed and was left unprocessed.\n\n%v", rec.ID, rec.Code, err)
	if pe != nil {
		body += "\n\n" + string(pe.stack)
	}
	p.alerter.Alert(ctx, key, fmt.Sprintf("Mutation %s failed", rec.Code), body)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// isStorageError reports whether err means the store went away rather than
// the record being bad. Connection loss inside a handler counts too.
func isStorageError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
