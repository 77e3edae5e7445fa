package mutation

import (
	"context"

	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
)

// recalculate refreshes discounts, shipping, VAT and total of a basket and
// persists it.
func (p *Processor) recalculate(ctx context.Context, q db.Querier, b *models.Basket) error {
	for _, line := range p.engine.ApplyDiscounts(b.Lines) {
		line.VATAmount = p.engine.VATFor(line.VATLabel, line.Net())
		if err := p.store.Lines.UpdatePricing(ctx, q, line); err != nil {
			return err
		}
	}

	b.ShippingCost = p.plugins.Shipping().Cost(b.Lines, b.Transport)
	totals := p.engine.Totals(b.Lines, b.ShippingCost)
	b.VAT = totals.VAT
	b.Total = totals.Total

	return p.store.Baskets.Save(ctx, q, b)
}

// orderTotals sets VAT buckets and total of an order from its lines, which
// include the shipping line.
func (p *Processor) orderTotals(o *models.Order) {
	totals := p.engine.Totals(o.Lines, decimal.Zero)
	o.VAT = totals.VAT
	o.Total = totals.Total
}
