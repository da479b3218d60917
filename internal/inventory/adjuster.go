package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// Direction selects the sign of a stock adjustment.
type Direction int

const (
	WriteOff Direction = iota // deduct on pay
	Restore                   // return on cancel
)

// Line is one requested quantity of a product. Lines may repeat a product.
type Line struct {
	ProductID string
	Qty       decimal.Decimal
}

// ShortageError details the first product that cannot cover its demand.
type ShortageError struct {
	ProductID string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("product %s: required %s, available %s", e.ProductID, e.Required.StringFixed(3), e.Available.StringFixed(3))
}

func (e *ShortageError) Unwrap() error { return ErrInsufficientStock }

// Tx is the product-row access the Adjuster needs inside one transaction.
type Tx interface {
	// LockProducts locks every listed product of the org in a single
	// id-ordered query and returns them keyed by id.
	LockProducts(ctx context.Context, orgID string, ids []string) (map[string]Product, error)
	// AdjustProductStock adds delta to stock_qty and returns the new value.
	AdjustProductStock(ctx context.Context, orgID, productID string, delta decimal.Decimal) (decimal.Decimal, error)
}

// Aggregate sums quantities per product and returns one line per product,
// ordered by product id.
func Aggregate(lines []Line) []Line {
	sums := make(map[string]decimal.Decimal, len(lines))
	for _, l := range lines {
		sums[l.ProductID] = sums[l.ProductID].Add(l.Qty)
	}
	out := make([]Line, 0, len(sums))
	for id, qty := range sums {
		out = append(out, Line{ProductID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

type Adjuster struct{}

func NewAdjuster() *Adjuster { return &Adjuster{} }

// Adjustment is a locked, validated set of per-product deltas waiting to be applied.
type Adjustment struct {
	orgID     string
	direction Direction
	lines     []Line
	products  map[string]Product
}

// Lines returns the aggregated lines.
func (a *Adjustment) Lines() []Line { return append([]Line(nil), a.lines...) }

// Product returns the locked row as read before the adjustment.
func (a *Adjustment) Product(id string) (Product, bool) {
	p, ok := a.products[id]
	return p, ok
}

// Prepare aggregates lines, locks the referenced products and, for WriteOff,
// checks every product covers its aggregated demand. Nothing is written.
func (a *Adjuster) Prepare(ctx context.Context, tx Tx, orgID string, dir Direction, lines []Line) (*Adjustment, error) {
	agg := Aggregate(lines)
	ids := make([]string, 0, len(agg))
	for _, l := range agg {
		ids = append(ids, l.ProductID)
	}

	locked, err := tx.LockProducts(ctx, orgID, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	for _, l := range agg {
		p, ok := locked[l.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, l.ProductID)
		}
		if dir == WriteOff && p.StockQty.LessThan(l.Qty) {
			return nil, &ShortageError{ProductID: l.ProductID, Required: l.Qty, Available: p.StockQty}
		}
	}
	return &Adjustment{orgID: orgID, direction: dir, lines: agg, products: locked}, nil
}

// Apply writes the signed deltas. Callers must roll back the enclosing
// transaction on error: earlier products may already be adjusted.
func (a *Adjustment) Apply(ctx context.Context, tx Tx) error {
	for _, l := range a.lines {
		delta := l.Qty
		if a.direction == WriteOff {
			delta = delta.Neg()
		}
		next, err := tx.AdjustProductStock(ctx, a.orgID, l.ProductID, delta)
		if err != nil {
			return fmt.Errorf("adjust stock for product %s: %w", l.ProductID, err)
		}
		if a.direction == WriteOff && next.IsNegative() {
			return &ShortageError{ProductID: l.ProductID, Required: l.Qty, Available: next.Add(l.Qty)}
		}
	}
	return nil
}
