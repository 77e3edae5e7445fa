package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bestelling-engine/db"
	"bestelling-engine/models"
)

// SellerRepository handles database operations for receiving parties
type SellerRepository struct{}

// NewSellerRepository creates a new SellerRepository
func NewSellerRepository() *SellerRepository {
	return &SellerRepository{}
}

// Ensure SellerRepository implements SellerRepositoryInterface
var _ SellerRepositoryInterface = (*SellerRepository)(nil)

// Create inserts a seller.
func (r *SellerRepository) Create(ctx context.Context, q db.Querier, s *models.Seller) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO sellers (name, address, iban, bic, email, payment_key, via_umbrella)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, s.Name, s.Address, s.IBAN, s.BIC, s.Email, s.PaymentKey, s.ViaUmbrella).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert seller: %w", err)
	}
	return nil
}

// Get retrieves a seller by id.
func (r *SellerRepository) Get(ctx context.Context, q db.Querier, id int64) (*models.Seller, error) {
	var s models.Seller
	err := q.QueryRowContext(ctx, `
		SELECT id, name, address, iban, bic, email, payment_key, via_umbrella
		FROM sellers
		WHERE id = ?
	`, id).Scan(&s.ID, &s.Name, &s.Address, &s.IBAN, &s.BIC, &s.Email, &s.PaymentKey, &s.ViaUmbrella)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch seller: %w", err)
	}
	return &s, nil
}
