package mutation

import (
	"context"
	"errors"
	"fmt"

	"bestelling-engine/models"
	"bestelling-engine/plugin"
	"bestelling-engine/repository"
)

func (p *Processor) reserveProduct(ctx context.Context, h *handlerCtx, c models.ReserveProduct) error {
	logger.Info().Msgf("📦 ReserveProduct: account=%d product=%s ref=%d qty=%d", c.AccountID, c.Product, c.ProductRef, c.Quantity)

	pl, err := p.plugins.For(c.Product)
	if err != nil {
		return err
	}

	line, err := pl.Reserve(ctx, h.q, plugin.ReserveRequest{AccountID: c.AccountID, ProductRef: c.ProductRef, Quantity: c.Quantity})
	if err != nil {
		if errors.Is(err, repository.ErrNoCapacity) || errors.Is(err, repository.ErrNotFound) || errors.Is(err, plugin.ErrNotReservable) {
			logger.Warn().Err(err).Msgf("⚠️ ReserveProduct: %s %d not reserved for account %d", c.Product, c.ProductRef, c.AccountID)
			return nil
		}
		return fmt.Errorf("failed to reserve %s %d: %w", c.Product, c.ProductRef, err)
	}

	basket, err := p.store.Baskets.GetOrCreate(ctx, h.q, c.AccountID)
	if err != nil {
		return err
	}
	line.BasketID = &basket.ID
	line.CreatedAt = h.now
	if err := p.store.Lines.Insert(ctx, h.q, line); err != nil {
		return err
	}
	basket.Lines = append(basket.Lines, *line)

	if err := p.recalculate(ctx, h.q, basket); err != nil {
		return err
	}
	logger.Info().Msgf("✅ ReserveProduct: line %d added to basket %d, total %s", line.ID, basket.ID, basket.Total)
	return nil
}

func (p *Processor) removeFromBasket(ctx context.Context, h *handlerCtx, c models.RemoveFromBasket) error {
	logger.Info().Msgf("📦 RemoveFromBasket: account=%d line=%d", c.AccountID, c.LineID)

	basket, found, err := p.store.Baskets.GetByAccount(ctx, h.q, c.AccountID)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn().Msgf("⚠️ RemoveFromBasket: account %d has no basket", c.AccountID)
		return nil
	}
	line, found := basket.FindLine(c.LineID)
	if !found {
		logger.Warn().Msgf("⚠️ RemoveFromBasket: line %d not in basket %d", c.LineID, basket.ID)
		return nil
	}

	if err := p.dropLine(ctx, h, basket, line); err != nil {
		return err
	}
	return p.recalculate(ctx, h.q, basket)
}

// dropLine releases a basket line's reservation and deletes it.
func (p *Processor) dropLine(ctx context.Context, h *handlerCtx, basket *models.Basket, line *models.OrderLine) error {
	pl, err := p.plugins.For(line.Code)
	if err != nil {
		return err
	}
	if err := pl.Release(ctx, h.q, line); err != nil {
		return fmt.Errorf("failed to release line %d: %w", line.ID, err)
	}
	if err := p.store.Lines.Delete(ctx, h.q, line.ID); err != nil {
		return err
	}

	id := line.ID
	kept := basket.Lines[:0]
	for _, l := range basket.Lines {
		if l.ID != id {
			kept = append(kept, l)
		}
	}
	basket.Lines = kept
	return nil
}

func (p *Processor) changeTransport(ctx context.Context, h *handlerCtx, c models.ChangeTransport) error {
	logger.Info().Msgf("📦 ChangeTransport: account=%d transport=%s", c.AccountID, c.Transport)

	basket, err := p.store.Baskets.GetOrCreate(ctx, h.q, c.AccountID)
	if err != nil {
		return err
	}
	basket.Transport = c.Transport
	return p.recalculate(ctx, h.q, basket)
}

func (p *Processor) changeAddress(ctx context.Context, h *handlerCtx, c models.ChangeAddress) error {
	logger.Info().Msgf("📦 ChangeAddress: account=%d", c.AccountID)

	basket, err := p.store.Baskets.GetOrCreate(ctx, h.q, c.AccountID)
	if err != nil {
		return err
	}
	basket.Address = c.Address
	return p.store.Baskets.Save(ctx, h.q, basket)
}
