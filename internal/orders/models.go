package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrOrderNotFound = errors.New("order: not found")

// Order status is read-only outside this package: stores rebuild it with
// Rehydrate and persist changes only through a StatusChange.
type Order struct {
	ID        string
	OrgID     string
	status    Status
	Subtotal  decimal.Decimal
	TaxTotal  decimal.Decimal
	Total     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o Order) Status() Status { return o.status }

// NewDraft builds a fresh order with zero totals.
func NewDraft(id, orgID string, now time.Time) Order {
	return Order{
		ID:        id,
		OrgID:     orgID,
		status:    StatusDraft,
		Subtotal:  decimal.Zero,
		TaxTotal:  decimal.Zero,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Rehydrate restores the persisted status of an order loaded from storage.
func Rehydrate(o Order, status Status) Order {
	o.status = status
	return o
}

// StatusChange is a validated transition. Only the lifecycle engine can
// construct one, and it is the only argument stores accept to write status.
type StatusChange struct {
	orgID   string
	orderID string
	from    Status
	to      Status
	at      time.Time
}

func (c StatusChange) OrgID() string   { return c.orgID }
func (c StatusChange) OrderID() string { return c.orderID }
func (c StatusChange) From() Status    { return c.from }
func (c StatusChange) To() Status      { return c.to }
func (c StatusChange) At() time.Time   { return c.at }

func (o Order) transition(to Status, at time.Time) (Order, StatusChange, bool) {
	if o.status == to || !CanTransition(o.status, to).OK {
		return o, StatusChange{}, false
	}
	change := StatusChange{orgID: o.OrgID, orderID: o.ID, from: o.status, to: to, at: at}
	o.status = to
	o.UpdatedAt = at
	return o, change, true
}

// OrderItem is immutable once its order leaves draft. ProductName is the
// product's name at the time the item was added. TaxRate is the percent of
// the referenced tax rate, loaded for totals.
type OrderItem struct {
	ID          string
	OrgID       string
	OrderID     string
	ProductID   string
	ProductName string
	UnitID      string
	TaxRateID   string
	TaxRate     decimal.Decimal
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
	CreatedAt   time.Time
}

type Totals struct {
	Subtotal decimal.Decimal
	TaxTotal decimal.Decimal
	Total    decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// RecomputeTotals derives totals from the line items: subtotal is the sum of
// qty*unit_price, tax is each line base times rate/100, all rounded to cents
// with banker's rounding.
func RecomputeTotals(items []OrderItem) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, it := range items {
		base := it.Qty.Mul(it.UnitPrice)
		subtotal = subtotal.Add(base)
		tax = tax.Add(base.Mul(it.TaxRate).Div(hundred))
	}
	subtotal = subtotal.RoundBank(2)
	tax = tax.RoundBank(2)
	return Totals{Subtotal: subtotal, TaxTotal: tax, Total: subtotal.Add(tax).RoundBank(2)}
}

func (o Order) withTotals(t Totals, at time.Time) Order {
	o.Subtotal, o.TaxTotal, o.Total = t.Subtotal, t.TaxTotal, t.Total
	o.UpdatedAt = at
	return o
}
