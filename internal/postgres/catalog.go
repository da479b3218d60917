package postgres

import (
	"context"

	"github.com/ariefcatur/go-pos-ledger/internal/inventory"
)

// Catalog writes below serve fixtures and bootstrap scripts; catalog
// management proper lives outside this service.

func (s *Store) CreateOrganization(ctx context.Context, id, name string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO organizations (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, name)
	return err
}

func (s *Store) CreateProduct(ctx context.Context, p inventory.Product) error {
	if p.Status == "" {
		p.Status = inventory.StatusActive
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, org_id, name, status, stock_qty) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.OrgID, p.Name, p.Status, p.StockQty)
	return err
}

func (s *Store) CreateUnit(ctx context.Context, u inventory.Unit) error {
	if u.Status == "" {
		u.Status = inventory.StatusActive
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO units (id, org_id, name, status) VALUES ($1, $2, $3, $4)`,
		u.ID, u.OrgID, u.Name, u.Status)
	return err
}

func (s *Store) CreateTaxRate(ctx context.Context, r inventory.TaxRate) error {
	if r.Status == "" {
		r.Status = inventory.StatusActive
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO tax_rates (id, org_id, name, rate, status) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.OrgID, r.Name, r.Rate, r.Status)
	return err
}

// GetProduct is an unlocked read of the current stock.
func (s *Store) GetProduct(ctx context.Context, orgID, productID string) (inventory.Product, error) {
	return getProduct(ctx, s.pool, orgID, productID)
}
