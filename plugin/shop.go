package plugin

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/pricing"
	"bestelling-engine/repository"
)

// ShopPlugin sells shop products from stock.
type ShopPlugin struct {
	shop   *repository.ShopRepository
	engine *pricing.Engine
}

// NewShopPlugin creates the shop plugin.
func NewShopPlugin(store *repository.Store, engine *pricing.Engine) *ShopPlugin {
	return &ShopPlugin{shop: store.Shop, engine: engine}
}

var _ Plugin = (*ShopPlugin)(nil)

func (p *ShopPlugin) Code() models.ProductCode {
	return models.ProductShop
}

// Reserve moves Quantity units into reserved stock.
func (p *ShopPlugin) Reserve(ctx context.Context, q db.Querier, req ReserveRequest) (*models.OrderLine, error) {
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	logger.Info().Msgf("📦 ReserveShop: product=%d qty=%d account=%d", req.ProductRef, qty, req.AccountID)

	if err := p.shop.ReserveStock(ctx, q, req.ProductRef, qty); err != nil {
		return nil, fmt.Errorf("failed to reserve product %d: %w", req.ProductRef, err)
	}
	product, err := p.shop.GetProduct(ctx, q, req.ProductRef, false)
	if err != nil {
		return nil, err
	}

	choice := &models.ShopChoice{ProductID: product.ID, AccountID: req.AccountID, Qty: qty, Status: models.ChoiceReserved}
	if err := p.shop.CreateChoice(ctx, q, choice); err != nil {
		return nil, err
	}

	price := product.Price.Mul(decimal.NewFromInt(int64(qty)))
	description := product.Description
	if qty > 1 {
		description = fmt.Sprintf("%dx %s", qty, product.Description)
	}
	return &models.OrderLine{
		Description: description,
		Price:       price,
		VATLabel:    product.VATLabel,
		VATAmount:   p.engine.VATFor(product.VATLabel, price),
		Code:        models.ProductShop,
		ProductRef:  choice.ID,
		WeightGrams: product.WeightGrams * qty,
	}, nil
}

func (p *ShopPlugin) choice(ctx context.Context, q db.Querier, line *models.OrderLine) (*models.ShopChoice, bool, error) {
	c, err := p.shop.GetChoice(ctx, q, line.ProductRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return c, true, nil
}

// Release returns reserved units to stock and drops the reservation.
func (p *ShopPlugin) Release(ctx context.Context, q db.Querier, line *models.OrderLine) error {
	c, found, err := p.choice(ctx, q, line)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn().Msgf("⚠️ ReleaseShop: choice %d already gone", line.ProductRef)
		return nil
	}
	if c.Status != models.ChoiceSold {
		if err := p.shop.ReleaseStock(ctx, q, c.ProductID, c.Qty); err != nil {
			return err
		}
	}
	return p.shop.DeleteChoice(ctx, q, c.ID)
}

func (p *ShopPlugin) MarkOrdered(ctx context.Context, q db.Querier, line *models.OrderLine) error {
	c, found, err := p.choice(ctx, q, line)
	if err != nil || !found {
		return err
	}
	if c.Status != models.ChoiceReserved {
		return nil
	}
	return p.shop.UpdateChoiceStatus(ctx, q, c.ID, models.ChoiceOrdered)
}

// MarkPaid turns reserved units into sold units.
func (p *ShopPlugin) MarkPaid(ctx context.Context, q db.Querier, line *models.OrderLine, _ decimal.Decimal) ([]models.Notification, error) {
	c, found, err := p.choice(ctx, q, line)
	if err != nil {
		return nil, err
	}
	if !found || c.Status == models.ChoiceSold {
		return nil, nil
	}
	if err := p.shop.SellStock(ctx, q, c.ProductID, c.Qty); err != nil {
		return nil, err
	}
	return nil, p.shop.UpdateChoiceStatus(ctx, q, c.ID, models.ChoiceSold)
}

func (p *ShopPlugin) SellerID(ctx context.Context, q db.Querier, line *models.OrderLine) (int64, bool, error) {
	c, found, err := p.choice(ctx, q, line)
	if err != nil || !found {
		return 0, false, err
	}
	product, err := p.shop.GetProduct(ctx, q, c.ProductID, false)
	if err != nil {
		return 0, false, err
	}
	return product.SellerID, true, nil
}

func (p *ShopPlugin) Describe(ctx context.Context, q db.Querier, line *models.OrderLine) ([]models.DescribeField, error) {
	fields := []models.DescribeField{{Label: "Product", Value: line.Description}}
	c, found, err := p.choice(ctx, q, line)
	if err != nil {
		return nil, err
	}
	if found {
		fields = append(fields, models.DescribeField{Label: "Quantity", Value: strconv.Itoa(c.Qty)})
	}
	if line.WeightGrams > 0 {
		fields = append(fields, models.DescribeField{Label: "Weight", Value: fmt.Sprintf("%d g", line.WeightGrams)})
	}
	return fields, nil
}
