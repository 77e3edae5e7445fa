package plugin

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/pricing"
)

// ShippingPlugin derives a shipping line from the weight of other lines. It
// owns no domain reservations.
type ShippingPlugin struct {
	engine *pricing.Engine
}

// NewShippingPlugin creates the shipping plugin.
func NewShippingPlugin(engine *pricing.Engine) *ShippingPlugin {
	return &ShippingPlugin{engine: engine}
}

var _ Plugin = (*ShippingPlugin)(nil)

func (p *ShippingPlugin) Code() models.ProductCode {
	return models.ProductShipping
}

// Cost returns the shipping cost for a set of lines. Existing shipping lines
// are ignored.
func (p *ShippingPlugin) Cost(lines []models.OrderLine, transport models.Transport) decimal.Decimal {
	return p.engine.Shipping(weightOf(lines), transport)
}

// ShippingLine builds the line carrying the shipping cost of lines, or
// returns false when nothing needs to be shipped.
func (p *ShippingPlugin) ShippingLine(lines []models.OrderLine, transport models.Transport) (*models.OrderLine, bool) {
	weight := weightOf(lines)
	cost := p.engine.Shipping(weight, transport)
	if !cost.IsPositive() {
		return nil, false
	}
	label := p.engine.ShippingVATLabel()
	return &models.OrderLine{
		Description: fmt.Sprintf("Shipping (%d g)", weight),
		Price:       cost,
		VATLabel:    label,
		VATAmount:   p.engine.VATFor(label, cost),
		Code:        models.ProductShipping,
	}, true
}

func weightOf(lines []models.OrderLine) int {
	weight := 0
	for _, l := range lines {
		if l.Code == models.ProductShipping {
			continue
		}
		weight += l.WeightGrams
	}
	return weight
}

func (p *ShippingPlugin) Reserve(context.Context, db.Querier, ReserveRequest) (*models.OrderLine, error) {
	return nil, ErrNotReservable
}

func (p *ShippingPlugin) Release(context.Context, db.Querier, *models.OrderLine) error {
	return nil
}

func (p *ShippingPlugin) MarkOrdered(context.Context, db.Querier, *models.OrderLine) error {
	return nil
}

func (p *ShippingPlugin) MarkPaid(context.Context, db.Querier, *models.OrderLine, decimal.Decimal) ([]models.Notification, error) {
	return nil, nil
}

func (p *ShippingPlugin) SellerID(context.Context, db.Querier, *models.OrderLine) (int64, bool, error) {
	return 0, false, nil
}

func (p *ShippingPlugin) Describe(_ context.Context, _ db.Querier, line *models.OrderLine) ([]models.DescribeField, error) {
	return []models.DescribeField{{Label: "Shipping", Value: line.Description}}, nil
}
