package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/pricing"
	"bestelling-engine/repository"
	"bestelling-engine/utils"
)

var logger = utils.NewLogger("plugin")

// ErrUnknownProduct is returned by Registry.For for a code without a plugin.
var ErrUnknownProduct = errors.New("unknown product code")

// ErrNotReservable is returned when a product cannot be reserved directly.
var ErrNotReservable = errors.New("product cannot be reserved")

// ReserveRequest asks a plugin to reserve a product for an account.
type ReserveRequest struct {
	AccountID  int64
	ProductRef int64
	Quantity   int
}

// Plugin is the capability set every product domain implements. All methods
// run inside the processor's transaction and must only use q.
type Plugin interface {
	Code() models.ProductCode

	// Reserve creates the domain reservation and returns an unsaved line
	// whose ProductRef points at it.
	Reserve(ctx context.Context, q db.Querier, req ReserveRequest) (*models.OrderLine, error)

	// Release undoes the reservation of a line. Releasing a line whose
	// reservation is already gone is a no-op.
	Release(ctx context.Context, q db.Querier, line *models.OrderLine) error

	MarkOrdered(ctx context.Context, q db.Querier, line *models.OrderLine) error

	// MarkPaid records payment of a line and returns follow-up notifications.
	MarkPaid(ctx context.Context, q db.Querier, line *models.OrderLine, amount decimal.Decimal) ([]models.Notification, error)

	// SellerID resolves the receiving party of a line. ok is false when the
	// line has no receiving party of its own.
	SellerID(ctx context.Context, q db.Querier, line *models.OrderLine) (id int64, ok bool, err error)

	Describe(ctx context.Context, q db.Querier, line *models.OrderLine) ([]models.DescribeField, error)
}

// Withdrawer is implemented by plugins whose paid lines can be withdrawn
// from after the order completed.
type Withdrawer interface {
	// Withdraw reports false when the line was already withdrawn.
	Withdraw(ctx context.Context, q db.Querier, line *models.OrderLine) (bool, error)
}

// Registry maps every product code to its plugin. The set of codes is closed.
type Registry struct {
	competition *RegistrationPlugin
	event       *RegistrationPlugin
	course      *RegistrationPlugin
	shop        *ShopPlugin
	shipping    *ShippingPlugin
}

// NewRegistry builds the plugins for all known product codes.
func NewRegistry(store *repository.Store, engine *pricing.Engine) *Registry {
	vat := engine.Config().VAT
	return &Registry{
		competition: NewRegistrationPlugin(models.ProductCompetition, "", store, engine),
		event:       NewRegistrationPlugin(models.ProductEvent, vat.High, store, engine),
		course:      NewRegistrationPlugin(models.ProductCourse, vat.Low, store, engine),
		shop:        NewShopPlugin(store, engine),
		shipping:    NewShippingPlugin(engine),
	}
}

// For returns the plugin owning lines with the given code.
func (r *Registry) For(code models.ProductCode) (Plugin, error) {
	switch code {
	case models.ProductCompetition:
		return r.competition, nil
	case models.ProductEvent:
		return r.event, nil
	case models.ProductCourse:
		return r.course, nil
	case models.ProductShop:
		return r.shop, nil
	case models.ProductShipping:
		return r.shipping, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, code)
}

// Shipping returns the shipping plugin.
func (r *Registry) Shipping() *ShippingPlugin {
	return r.shipping
}
