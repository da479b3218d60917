package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/inventory"
)

// ErrStaleStatus means the row no longer holds the status a StatusChange was
// computed from. With the order row locked this indicates a store bug.
var ErrStaleStatus = errors.New("order: status changed concurrently")

// CatalogLookup resolves active, tenant-owned catalog references.
type CatalogLookup interface {
	GetProduct(ctx context.Context, orgID, productID string) (inventory.Product, error)
	GetUnit(ctx context.Context, orgID, unitID string) (inventory.Unit, error)
	GetTaxRate(ctx context.Context, orgID, taxRateID string) (inventory.TaxRate, error)
}

// Tx is everything an order use case touches inside one transaction.
type Tx interface {
	inventory.Tx
	audit.Tx
	CatalogLookup

	// LockOrder takes the exclusive row lock and returns the current row.
	LockOrder(ctx context.Context, orgID, orderID string) (Order, error)
	ListItems(ctx context.Context, orgID, orderID string) ([]OrderItem, error)
	InsertOrder(ctx context.Context, o Order) error
	InsertItem(ctx context.Context, it OrderItem) error
	// UpdateOrderStatus writes c.To() only where the row still holds c.From().
	UpdateOrderStatus(ctx context.Context, c StatusChange) error
	UpdateOrderTotals(ctx context.Context, orgID, orderID string, t Totals, at time.Time) error
	// CapturedTotal sums the amount of the order's captured payments.
	CapturedTotal(ctx context.Context, orgID, orderID string) (decimal.Decimal, error)
}

// Store opens scoped transactions and serves unlocked reads.
type Store interface {
	audit.Reader

	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetOrder(ctx context.Context, orgID, orderID string) (Order, error)
	ListOrders(ctx context.Context, orgID string) ([]Order, error)
	ListItems(ctx context.Context, orgID, orderID string) ([]OrderItem, error)
}

func itemLines(items []OrderItem) []inventory.Line {
	lines := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Qty: it.Qty})
	}
	return lines
}
