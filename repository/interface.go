package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
)

// LineRepositoryInterface defines the contract for order line storage
type LineRepositoryInterface interface {
	Insert(ctx context.Context, q db.Querier, line *models.OrderLine) error
	Get(ctx context.Context, q db.Querier, id int64) (*models.OrderLine, error)
	ForBasket(ctx context.Context, q db.Querier, basketID int64) ([]models.OrderLine, error)
	ForOrder(ctx context.Context, q db.Querier, orderID int64) ([]models.OrderLine, error)
	BasketLinesCreatedBefore(ctx context.Context, q db.Querier, before time.Time) ([]models.OrderLine, error)
	UpdatePricing(ctx context.Context, q db.Querier, line *models.OrderLine) error
	MoveToOrder(ctx context.Context, q db.Querier, lineID, basketID, orderID int64) error
	Delete(ctx context.Context, q db.Querier, id int64) error
}

// BasketRepositoryInterface defines the contract for basket storage
type BasketRepositoryInterface interface {
	Get(ctx context.Context, q db.Querier, id int64) (*models.Basket, error)
	GetByAccount(ctx context.Context, q db.Querier, accountID int64) (*models.Basket, bool, error)
	GetOrCreate(ctx context.Context, q db.Querier, accountID int64) (*models.Basket, error)
	Save(ctx context.Context, q db.Querier, b *models.Basket) error
	Delete(ctx context.Context, q db.Querier, id int64) error
	DeleteEmpty(ctx context.Context, q db.Querier, untouchedSince time.Time) (int64, error)
}

// OrderRepositoryInterface defines the contract for order storage
type OrderRepositoryInterface interface {
	Create(ctx context.Context, q db.Querier, o *models.Order) error
	Get(ctx context.Context, q db.Querier, id int64, lock bool) (*models.Order, error)
	ListByAccount(ctx context.Context, q db.Querier, accountID int64) ([]models.Order, error)
	Update(ctx context.Context, q db.Querier, o *models.Order) error
	DeleteCreatedBefore(ctx context.Context, q db.Querier, before time.Time) (int64, error)
}

// TransactionRepositoryInterface defines the contract for payment transaction storage
type TransactionRepositoryInterface interface {
	Create(ctx context.Context, q db.Querier, t *models.PaymentTransaction) error
	ForOrder(ctx context.Context, q db.Querier, orderID int64) ([]models.PaymentTransaction, error)
	FindByReference(ctx context.Context, q db.Querier, reference string) (*models.PaymentTransaction, bool, error)
	MarkReceived(ctx context.Context, q db.Querier, id int64, amount decimal.Decimal) error
}

// MutationRepositoryInterface defines the contract for mutation record storage
type MutationRepositoryInterface interface {
	Insert(ctx context.Context, q db.Querier, m *models.MutationRecord) error
	FindUnprocessedDuplicate(ctx context.Context, q db.Querier, m *models.MutationRecord) (int64, bool, error)
	Get(ctx context.Context, q db.Querier, id int64) (*models.MutationRecord, error)
	MaxID(ctx context.Context, q db.Querier) (int64, error)
	UnprocessedAfter(ctx context.Context, q db.Querier, afterID int64) ([]int64, error)
	MarkProcessed(ctx context.Context, q db.Querier, id int64) (bool, error)
	IsProcessed(ctx context.Context, q db.Querier, id int64) (bool, error)
	CountUnprocessed(ctx context.Context, q db.Querier) (int64, error)
	DeleteProcessedBefore(ctx context.Context, q db.Querier, before time.Time) (int64, error)
}

// CounterRepositoryInterface defines the contract for order number allocation
type CounterRepositoryInterface interface {
	Ensure(ctx context.Context, q db.Querier, start int64) error
	NextOrderNumber(ctx context.Context, q db.Querier) (int64, error)
}

// SellerRepositoryInterface defines the contract for seller storage
type SellerRepositoryInterface interface {
	Create(ctx context.Context, q db.Querier, s *models.Seller) error
	Get(ctx context.Context, q db.Querier, id int64) (*models.Seller, error)
}

// RegistrationRepositoryInterface defines the contract for offerings and registrations
type RegistrationRepositoryInterface interface {
	CreateOffering(ctx context.Context, q db.Querier, o *models.Offering) error
	GetOffering(ctx context.Context, q db.Querier, kind models.ProductCode, id int64, lock bool) (*models.Offering, error)
	AdjustSeats(ctx context.Context, q db.Querier, offeringID int64, delta int) error
	CreateRegistration(ctx context.Context, q db.Querier, reg *models.Registration) error
	GetRegistration(ctx context.Context, q db.Querier, id int64) (*models.Registration, error)
	UpdateRegistration(ctx context.Context, q db.Querier, reg *models.Registration) error
	DeleteRegistration(ctx context.Context, q db.Querier, id int64) error
}

// ShopRepositoryInterface defines the contract for shop products and stock
type ShopRepositoryInterface interface {
	CreateProduct(ctx context.Context, q db.Querier, p *models.ShopProduct) error
	GetProduct(ctx context.Context, q db.Querier, id int64, lock bool) (*models.ShopProduct, error)
	ReserveStock(ctx context.Context, q db.Querier, productID int64, qty int) error
	ReleaseStock(ctx context.Context, q db.Querier, productID int64, qty int) error
	SellStock(ctx context.Context, q db.Querier, productID int64, qty int) error
	CreateChoice(ctx context.Context, q db.Querier, c *models.ShopChoice) error
	GetChoice(ctx context.Context, q db.Querier, id int64) (*models.ShopChoice, error)
	UpdateChoiceStatus(ctx context.Context, q db.Querier, id int64, status models.ChoiceStatus) error
	DeleteChoice(ctx context.Context, q db.Querier, id int64) error
}

// Store bundles every repository so callers receive one value
type Store struct {
	Lines         *LineRepository
	Baskets       *BasketRepository
	Orders        *OrderRepository
	Transactions  *TransactionRepository
	Mutations     *MutationRepository
	Counter       *CounterRepository
	Sellers       *SellerRepository
	Registrations *RegistrationRepository
	Shop          *ShopRepository
}

// NewStore wires all repositories together
func NewStore() *Store {
	lines := NewLineRepository()
	transactions := NewTransactionRepository()
	return &Store{
		Lines:         lines,
		Baskets:       NewBasketRepository(lines),
		Orders:        NewOrderRepository(lines, transactions),
		Transactions:  transactions,
		Mutations:     NewMutationRepository(),
		Counter:       NewCounterRepository(),
		Sellers:       NewSellerRepository(),
		Registrations: NewRegistrationRepository(),
		Shop:          NewShopRepository(),
	}
}
