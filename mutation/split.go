package mutation

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bestelling-engine/models"
	"bestelling-engine/utils"
)

// partyGroup is the set of basket lines billed to one receiving party.
type partyGroup struct {
	sellerID int64
	lines    []models.OrderLine
	weight   int
}

// splitByParty groups basket lines by their payout target, in the order the
// targets first appear.
func (p *Processor) splitByParty(ctx context.Context, h *handlerCtx, lines []models.OrderLine) ([]*partyGroup, error) {
	var groups []*partyGroup
	byTarget := make(map[int64]*partyGroup)

	for _, line := range lines {
		pl, err := p.plugins.For(line.Code)
		if err != nil {
			return nil, err
		}
		sellerID, ok, err := pl.SellerID(ctx, h.q, &line)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve receiving party of line %d: %w", line.ID, err)
		}
		if !ok {
			sellerID = p.settings.UmbrellaSellerID
		}
		if sellerID == 0 {
			return nil, fmt.Errorf("line %d (%s) has no receiving party", line.ID, line.Code)
		}

		target, err := p.payoutTarget(ctx, h, sellerID)
		if err != nil {
			return nil, err
		}

		g, ok := byTarget[target]
		if !ok {
			g = &partyGroup{sellerID: target}
			byTarget[target] = g
			groups = append(groups, g)
		}
		g.lines = append(g.lines, line)
		g.weight += line.WeightGrams
	}
	return groups, nil
}

func (p *Processor) materializeOrders(ctx context.Context, h *handlerCtx, c models.MaterializeOrders) error {
	logger.Info().Msgf("📦 MaterializeOrders: account=%d", c.AccountID)

	basket, found, err := p.store.Baskets.GetByAccount(ctx, h.q, c.AccountID)
	if err != nil {
		return err
	}
	if !found || len(basket.Lines) == 0 {
		logger.Warn().Msgf("⚠️ MaterializeOrders: account %d has nothing to order", c.AccountID)
		return nil
	}

	groups, err := p.splitByParty(ctx, h, basket.Lines)
	if err != nil {
		return err
	}

	// the basket's shipping cost travels with the heaviest group
	shippingLine, ships := p.plugins.Shipping().ShippingLine(basket.Lines, basket.Transport)
	heaviest := groups[0]
	for _, g := range groups[1:] {
		if g.weight > heaviest.weight {
			heaviest = g
		}
	}

	for _, g := range groups {
		var extra *models.OrderLine
		if ships && g == heaviest {
			extra = shippingLine
		}
		if _, err := p.createOrder(ctx, h, basket, g, extra); err != nil {
			return err
		}
	}

	if err := p.store.Baskets.Delete(ctx, h.q, basket.ID); err != nil {
		return err
	}
	logger.Info().Msgf("✅ MaterializeOrders: basket %d split into %d orders", basket.ID, len(groups))
	return nil
}

func (p *Processor) createOrder(ctx context.Context, h *handlerCtx, basket *models.Basket, g *partyGroup, shippingLine *models.OrderLine) (*models.Order, error) {
	seller, err := p.seller(ctx, h, g.sellerID)
	if err != nil {
		return nil, err
	}
	number, err := p.store.Counter.NextOrderNumber(ctx, h.q)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		Number:           number,
		AccountID:        basket.AccountID,
		SellerID:         seller.ID,
		SellerName:       seller.Name,
		SellerAddress:    seller.Address,
		SellerIBAN:       seller.IBAN,
		SellerBIC:        seller.BIC,
		SellerEmail:      seller.Email,
		AutomatedPayment: p.automatedPayment(ctx, h, seller),
		Transport:        basket.Transport,
		Address:          basket.Address,
		Status:           models.StatusNew,
		CreatedAt:        h.now,
	}
	order.Lines = append(order.Lines, g.lines...)
	if shippingLine != nil {
		order.Lines = append(order.Lines, *shippingLine)
	}
	p.orderTotals(order)

	order.AppendLog(h.now, "Order created with %d lines, total %s", len(order.Lines), utils.FormatEUR(order.Total))
	if !order.AutomatedPayment {
		order.AppendLog(h.now, "Automated payment unavailable, awaiting bank transfer")
	}
	free := utils.NearlyZero(order.Total)
	if free {
		order.Status = models.StatusCompleted
		order.AppendLog(h.now, "Nothing to pay, order completed")
	}

	if err := p.store.Orders.Create(ctx, h.q, order); err != nil {
		return nil, err
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		if line.Code == models.ProductShipping && line.ID == 0 {
			line.OrderID = &order.ID
			line.CreatedAt = h.now
			if err := p.store.Lines.Insert(ctx, h.q, line); err != nil {
				return nil, err
			}
			continue
		}
		if err := p.store.Lines.MoveToOrder(ctx, h.q, line.ID, basket.ID, order.ID); err != nil {
			return nil, err
		}
		line.BasketID = nil
		line.OrderID = &order.ID

		pl, err := p.plugins.For(line.Code)
		if err != nil {
			return nil, err
		}
		if err := pl.MarkOrdered(ctx, h.q, line); err != nil {
			return nil, fmt.Errorf("failed to mark line %d ordered: %w", line.ID, err)
		}
	}

	body, err := p.describeOrder(ctx, h, order)
	if err != nil {
		return nil, err
	}
	h.notify(models.Notification{
		Recipient: accountRecipient(order.AccountID),
		Subject:   fmt.Sprintf("Order %s confirmed", order.Reference()),
		Body:      body,
		OrderID:   &order.ID,
	})

	if free {
		if err := p.markLinesPaid(ctx, h, order); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// describeOrder renders the confirmation text of an order.
func (p *Processor) describeOrder(ctx context.Context, h *handlerCtx, o *models.Order) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s at %s\n\n", o.Reference(), o.SellerName)
	for i := range o.Lines {
		line := &o.Lines[i]
		pl, err := p.plugins.For(line.Code)
		if err != nil {
			return "", err
		}
		fields, err := pl.Describe(ctx, h.q, line)
		if err != nil {
			return "", fmt.Errorf("failed to describe line %d: %w", line.ID, err)
		}
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f.Label+": "+f.Value)
		}
		fmt.Fprintf(&b, "- %s  %s\n", strings.Join(parts, ", "), utils.FormatEUR(line.Net()))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", utils.FormatEUR(o.Total))
	for _, v := range o.VAT {
		if v.Percentage != "" && !v.Amount.IsZero() {
			fmt.Fprintf(&b, "VAT %s%%: %s\n", v.Percentage, utils.FormatEUR(v.Amount))
		}
	}
	if o.Status != models.StatusCompleted && !o.AutomatedPayment && o.Total.GreaterThan(decimal.Zero) {
		fmt.Fprintf(&b, "\nPlease transfer %s to %s (%s) quoting %s.\n", utils.FormatEUR(o.Total), o.SellerIBAN, o.SellerName, o.Reference())
	}
	if addr := o.AddressBlock(); addr != "" && o.Transport == models.TransportShip {
		fmt.Fprintf(&b, "\nShipping to:\n%s\n", addr)
	}
	return b.String(), nil
}

func accountRecipient(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}
