package mutation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"bestelling-engine/models"
	"bestelling-engine/plugin"
	"bestelling-engine/repository"
	"bestelling-engine/service"
	"bestelling-engine/utils"
)

// loadOrder locks and loads an order. found is false when it doesn't exist.
func (p *Processor) loadOrder(ctx context.Context, h *handlerCtx, id int64) (*models.Order, bool, error) {
	order, err := p.store.Orders.Get(ctx, h.q, id, true)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return order, true, nil
}

// settle moves an order to AFGEROND when everything is paid. It reports
// whether the order is now completed.
func (p *Processor) settle(ctx context.Context, h *handlerCtx, o *models.Order) (bool, error) {
	received := o.Received()
	if received.LessThan(o.Total) && !utils.NearlyZero(o.Total.Sub(received)) {
		return false, nil
	}

	o.Status = models.StatusCompleted
	o.AppendLog(h.now, "Fully paid (%s received), order completed", utils.FormatEUR(received))
	if err := p.markLinesPaid(ctx, h, o); err != nil {
		return false, err
	}
	h.notify(models.Notification{
		Recipient: accountRecipient(o.AccountID),
		Subject:   fmt.Sprintf("Payment received for order %s", o.Reference()),
		Body:      fmt.Sprintf("We received %s for order %s. Thank you.", utils.FormatEUR(received), o.Reference()),
		OrderID:   &o.ID,
	})
	return true, nil
}

func (p *Processor) markLinesPaid(ctx context.Context, h *handlerCtx, o *models.Order) error {
	for i := range o.Lines {
		line := &o.Lines[i]
		pl, err := p.plugins.For(line.Code)
		if err != nil {
			return err
		}
		notes, err := pl.MarkPaid(ctx, h.q, line, line.Net())
		if err != nil {
			return fmt.Errorf("failed to mark line %d paid: %w", line.ID, err)
		}
		h.notify(notes...)
	}
	return nil
}

func (p *Processor) paymentConcluded(ctx context.Context, h *handlerCtx, c models.PaymentConcluded) error {
	logger.Info().Msgf("📦 PaymentConcluded: order=%d succeeded=%t reference=%s", c.OrderID, c.Succeeded, c.Reference)

	order, found, err := p.loadOrder(ctx, h, c.OrderID)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn().Msgf("⚠️ PaymentConcluded: order %d not found", c.OrderID)
		return nil
	}
	if order.Status != models.StatusPaymentActive {
		logger.Warn().Msgf("⚠️ PaymentConcluded: order %d is %s, not awaiting payment", order.ID, order.Status)
		return nil
	}
	if c.Reference != "" {
		if reason := staleReference(order, c.Reference); reason != "" {
			logger.Warn().Msgf("⚠️ PaymentConcluded: ignoring %s for order %d, %s", c.Reference, order.ID, reason)
			return nil
		}
	}

	if !c.Succeeded {
		order.Status = models.StatusFailed
		order.AppendLog(h.now, "Payment %s failed", c.Reference)
		return p.store.Orders.Update(ctx, h.q, order)
	}

	if err := p.reconcileProviderPayment(ctx, h, order, c); err != nil {
		return err
	}

	completed, err := p.settle(ctx, h, order)
	if err != nil {
		return err
	}
	if !completed {
		order.Status = models.StatusFailed
		order.AppendLog(h.now, "Payment %s did not cover the total: %s of %s received",
			c.Reference, utils.FormatEUR(order.Received()), utils.FormatEUR(order.Total))
	}
	return p.store.Orders.Update(ctx, h.q, order)
}

// staleReference reports why a provider conclusion no longer applies to the
// order, or "" when reference is the live payment. The live payment is the
// newest provider transaction still awaiting money.
func staleReference(o *models.Order, reference string) string {
	var live, match *models.PaymentTransaction
	for i := range o.Transactions {
		t := &o.Transactions[i]
		if t.Kind != models.TransactionProvider {
			continue
		}
		if t.Reference == reference {
			match = t
		}
		if !t.Received && (live == nil || t.ID > live.ID) {
			live = t
		}
	}
	switch {
	case match != nil && match.Received:
		return "payment already received"
	case live != nil && match == nil:
		return "unknown payment, " + live.Reference + " is active"
	case live != nil && match.ID != live.ID:
		return "superseded by " + live.Reference
	}
	return ""
}

// reconcileProviderPayment marks the provider transaction with the concluded
// reference as received, creating it when it is unknown.
func (p *Processor) reconcileProviderPayment(ctx context.Context, h *handlerCtx, o *models.Order, c models.PaymentConcluded) error {
	for i := range o.Transactions {
		t := &o.Transactions[i]
		if t.Kind != models.TransactionProvider || (c.Reference != "" && t.Reference != c.Reference) {
			continue
		}
		if t.Received {
			return nil
		}
		amount := t.Amount
		if c.Amount.IsPositive() {
			amount = c.Amount
		}
		if err := p.store.Transactions.MarkReceived(ctx, h.q, t.ID, amount); err != nil {
			return err
		}
		t.Received = true
		t.Amount = amount
		o.AppendLog(h.now, "Payment %s received: %s", t.Reference, utils.FormatEUR(amount))
		return nil
	}

	if !c.Amount.IsPositive() {
		return nil
	}
	reference := c.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	t := models.PaymentTransaction{
		OrderID:   o.ID,
		Kind:      models.TransactionProvider,
		Reference: reference,
		Amount:    c.Amount,
		Received:  true,
		CreatedAt: h.now,
	}
	if err := p.store.Transactions.Create(ctx, h.q, &t); err != nil {
		return err
	}
	o.Transactions = append(o.Transactions, t)
	o.AppendLog(h.now, "Payment %s received: %s", t.Reference, utils.FormatEUR(t.Amount))
	return nil
}

func (p *Processor) manualTransfer(ctx context.Context, h *handlerCtx, c models.ManualTransferReceived) error {
	logger.Info().Msgf("📦 ManualTransfer: order=%d amount=%s", c.OrderID, c.Amount)

	order, found, err := p.loadOrder(ctx, h, c.OrderID)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn().Msgf("⚠️ ManualTransfer: order %d not found", c.OrderID)
		return nil
	}
	if order.Status.Terminal() {
		logger.Warn().Msgf("⚠️ ManualTransfer: order %d is already %s", order.ID, order.Status)
		return nil
	}

	reference := c.Reference
	if reference == "" {
		reference = "manual-" + uuid.NewString()
	}
	t := models.PaymentTransaction{
		OrderID:   order.ID,
		Kind:      models.TransactionManual,
		Reference: reference,
		Amount:    c.Amount,
		Received:  true,
		CreatedAt: h.now,
	}
	if err := p.store.Transactions.Create(ctx, h.q, &t); err != nil {
		return err
	}
	order.Transactions = append(order.Transactions, t)
	order.AppendLog(h.now, "Bank transfer received: %s", utils.FormatEUR(c.Amount))

	completed, err := p.settle(ctx, h, order)
	if err != nil {
		return err
	}
	if !completed && order.Status != models.StatusPaymentActive {
		order.Status = models.StatusPaymentActive
		order.AppendLog(h.now, "Partially paid, %s outstanding", utils.FormatEUR(order.Total.Sub(order.Received())))
	}
	return p.store.Orders.Update(ctx, h.q, order)
}

func (p *Processor) cancelOrder(ctx context.Context, h *handlerCtx, c models.CancelOrder) error {
	logger.Info().Msgf("📦 CancelOrder: order=%d", c.OrderID)

	order, found, err := p.loadOrder(ctx, h, c.OrderID)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn().Msgf("⚠️ CancelOrder: order %d not found", c.OrderID)
		return nil
	}
	if order.Status != models.StatusNew && order.Status != models.StatusPaymentActive {
		logger.Warn().Msgf("⚠️ CancelOrder: order %d is %s, cannot cancel", order.ID, order.Status)
		return nil
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		pl, err := p.plugins.For(line.Code)
		if err != nil {
			return err
		}
		if err := pl.Release(ctx, h.q, line); err != nil {
			return fmt.Errorf("failed to release line %d: %w", line.ID, err)
		}
	}

	if err := p.refundProviderPayments(ctx, h, order); err != nil {
		return err
	}

	order.Status = models.StatusCancelled
	order.AppendLog(h.now, "Order cancelled")
	return p.store.Orders.Update(ctx, h.q, order)
}

// refundProviderPayments asks the provider to refund every received provider
// payment. A refused refund is logged on the order for manual follow-up.
func (p *Processor) refundProviderPayments(ctx context.Context, h *handlerCtx, o *models.Order) error {
	var paid []models.PaymentTransaction
	for _, t := range o.Transactions {
		if t.Kind == models.TransactionProvider && t.Received && t.Amount.IsPositive() {
			paid = append(paid, t)
		}
	}
	if len(paid) == 0 {
		return nil
	}

	seller, err := p.seller(ctx, h, o.SellerID)
	if err != nil {
		return err
	}
	for _, t := range paid {
		if p.payments == nil {
			o.AppendLog(h.now, "Refund of %s for %s must be done manually", utils.FormatEUR(t.Amount), t.Reference)
			continue
		}
		refundID, err := p.payments.StartRefund(ctx, seller.PaymentKey, t.Reference, t.Amount)
		if err != nil {
			logger.Warn().Err(err).Msgf("⚠️ CancelOrder: refund of %s on order %d failed", t.Reference, o.ID)
			o.AppendLog(h.now, "Refund of %s for %s failed, refund manually", utils.FormatEUR(t.Amount), t.Reference)
			continue
		}
		refund := models.PaymentTransaction{
			OrderID:   o.ID,
			Kind:      models.TransactionRefund,
			Reference: refundID,
			Amount:    t.Amount,
			Received:  true,
			CreatedAt: h.now,
		}
		if err := p.store.Transactions.Create(ctx, h.q, &refund); err != nil {
			return err
		}
		o.Transactions = append(o.Transactions, refund)
		o.AppendLog(h.now, "Refunded %s (%s)", utils.FormatEUR(t.Amount), refundID)
	}
	return nil
}

func (p *Processor) startPayment(ctx context.Context, h *handlerCtx, c models.StartPayment) error {
	logger.Info().Msgf("📦 StartPayment: order=%d", c.OrderID)

	order, found, err := p.loadOrder(ctx, h, c.OrderID)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn().Msgf("⚠️ StartPayment: order %d not found", c.OrderID)
		return nil
	}
	if order.Status == models.StatusFailed {
		order.Status = models.StatusNew
		order.AppendLog(h.now, "Payment retried")
	}
	if order.Status != models.StatusNew {
		logger.Warn().Msgf("⚠️ StartPayment: order %d is %s, cannot start payment", order.ID, order.Status)
		return nil
	}

	outstanding := order.Total.Sub(order.Received())
	if utils.NearlyZero(outstanding) || outstanding.IsNegative() {
		if _, err := p.settle(ctx, h, order); err != nil {
			return err
		}
		return p.store.Orders.Update(ctx, h.q, order)
	}

	seller, err := p.seller(ctx, h, order.SellerID)
	if err != nil {
		return err
	}
	if !order.AutomatedPayment || p.payments == nil {
		order.AppendLog(h.now, "Automated payment unavailable, awaiting bank transfer")
		return p.store.Orders.Update(ctx, h.q, order)
	}

	start, err := p.payments.StartPayment(ctx, seller.PaymentKey, service.PaymentRequest{
		Reference:   order.Reference(),
		Description: fmt.Sprintf("Order %s", order.Reference()),
		Amount:      outstanding,
		Currency:    p.settings.Currency,
		ReturnURL:   p.settings.ReturnURL,
	})
	if err != nil {
		if errors.Is(err, service.ErrPaymentKey) {
			order.AutomatedPayment = false
		}
		order.AppendLog(h.now, "Starting payment failed: %v", err)
		return p.store.Orders.Update(ctx, h.q, order)
	}

	t := models.PaymentTransaction{
		OrderID:   order.ID,
		Kind:      models.TransactionProvider,
		Reference: start.ID,
		Amount:    outstanding,
		CreatedAt: h.now,
	}
	if err := p.store.Transactions.Create(ctx, h.q, &t); err != nil {
		return err
	}
	order.Status = models.StatusPaymentActive
	order.AppendLog(h.now, "Payment %s started for %s", start.ID, utils.FormatEUR(outstanding))
	return p.store.Orders.Update(ctx, h.q, order)
}

func (p *Processor) withdrawRegistration(ctx context.Context, h *handlerCtx, c models.WithdrawRegistration) error {
	logger.Info().Msgf("📦 WithdrawRegistration: order=%d line=%d", c.OrderID, c.LineID)

	order, found, err := p.loadOrder(ctx, h, c.OrderID)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn().Msgf("⚠️ WithdrawRegistration: order %d not found", c.OrderID)
		return nil
	}
	if order.Status != models.StatusCompleted {
		logger.Warn().Msgf("⚠️ WithdrawRegistration: order %d is %s, cancel it instead", order.ID, order.Status)
		return nil
	}

	var line *models.OrderLine
	for i := range order.Lines {
		if order.Lines[i].ID == c.LineID {
			line = &order.Lines[i]
		}
	}
	if line == nil {
		logger.Warn().Msgf("⚠️ WithdrawRegistration: line %d not on order %d", c.LineID, order.ID)
		return nil
	}

	pl, err := p.plugins.For(line.Code)
	if err != nil {
		return err
	}
	w, ok := pl.(plugin.Withdrawer)
	if !ok {
		logger.Warn().Msgf("⚠️ WithdrawRegistration: %s lines cannot be withdrawn", line.Code)
		return nil
	}
	withdrawn, err := w.Withdraw(ctx, h.q, line)
	if err != nil {
		return fmt.Errorf("failed to withdraw line %d: %w", line.ID, err)
	}
	if !withdrawn {
		logger.Warn().Msgf("⚠️ WithdrawRegistration: line %d already withdrawn", line.ID)
		return nil
	}

	order.AppendLog(h.now, "Withdrawn from %s", line.Description)
	return p.store.Orders.Update(ctx, h.q, order)
}
