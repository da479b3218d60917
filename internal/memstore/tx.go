package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/inventory"
	"github.com/ariefcatur/go-pos-ledger/internal/orders"
	"github.com/ariefcatur/go-pos-ledger/internal/payments"
)

// Tx implements orders.Tx and payments.Tx over a private snapshot.
type Tx struct {
	store *Store
	data  *state
}

var (
	_ orders.Tx   = (*Tx)(nil)
	_ payments.Tx = (*Tx)(nil)
)

func (t *Tx) LockProducts(_ context.Context, orgID string, ids []string) (map[string]inventory.Product, error) {
	t.store.productLocks++
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	out := make(map[string]inventory.Product, len(sorted))
	for _, id := range sorted {
		if p, ok := t.data.products[id]; ok && p.OrgID == orgID {
			out[id] = p
		}
	}
	return out, nil
}

func (t *Tx) AdjustProductStock(_ context.Context, orgID, productID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.store.faults.AdjustStock[productID]; err != nil {
		return decimal.Zero, err
	}
	p, ok := t.data.products[productID]
	if !ok || p.OrgID != orgID {
		return decimal.Zero, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, productID)
	}
	next := p.StockQty.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: products.stock_qty >= 0 (product %s)", ErrCheckViolation, productID)
	}
	p.StockQty = next
	p.UpdatedAt = time.Now().UTC()
	t.data.products[productID] = p
	return next, nil
}

func (t *Tx) GetProduct(_ context.Context, orgID, productID string) (inventory.Product, error) {
	p, ok := t.data.products[productID]
	if !ok || p.OrgID != orgID {
		return inventory.Product{}, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, productID)
	}
	return p, nil
}

func (t *Tx) GetUnit(_ context.Context, orgID, unitID string) (inventory.Unit, error) {
	u, ok := t.data.units[unitID]
	if !ok || u.OrgID != orgID {
		return inventory.Unit{}, fmt.Errorf("%w: %s", inventory.ErrUnitNotFound, unitID)
	}
	return u, nil
}

func (t *Tx) GetTaxRate(_ context.Context, orgID, taxRateID string) (inventory.TaxRate, error) {
	r, ok := t.data.taxRates[taxRateID]
	if !ok || r.OrgID != orgID {
		return inventory.TaxRate{}, fmt.Errorf("%w: %s", inventory.ErrTaxRateNotFound, taxRateID)
	}
	return r, nil
}

func (t *Tx) InsertOrderEvent(_ context.Context, ev audit.OrderStatusEvent) error {
	if err := t.store.faults.OrderEvent; err != nil {
		return err
	}
	t.data.orderEvents = append(t.data.orderEvents, ev)
	return nil
}

func (t *Tx) InsertPaymentEvent(_ context.Context, ev audit.PaymentEvent) error {
	if err := t.store.faults.PaymentEvent; err != nil {
		return err
	}
	t.data.paymentEvents = append(t.data.paymentEvents, ev)
	return nil
}

func (t *Tx) LockOrder(_ context.Context, orgID, orderID string) (orders.Order, error) {
	return t.data.order(orgID, orderID)
}

func (t *Tx) ListItems(_ context.Context, orgID, orderID string) ([]orders.OrderItem, error) {
	return t.data.listItems(orgID, orderID), nil
}

func (t *Tx) InsertOrder(_ context.Context, o orders.Order) error {
	if _, ok := t.data.orders[o.ID]; ok {
		return fmt.Errorf("%w: orders.id %s", ErrUniqueViolation, o.ID)
	}
	t.data.orders[o.ID] = o
	return nil
}

func (t *Tx) InsertItem(_ context.Context, it orders.OrderItem) error {
	if _, err := t.data.order(it.OrgID, it.OrderID); err != nil {
		return err
	}
	t.data.items = append(t.data.items, it)
	return nil
}

func (t *Tx) UpdateOrderStatus(_ context.Context, c orders.StatusChange) error {
	o, err := t.data.order(c.OrgID(), c.OrderID())
	if err != nil {
		return err
	}
	if o.Status() != c.From() {
		return orders.ErrStaleStatus
	}
	o = orders.Rehydrate(o, c.To())
	o.UpdatedAt = c.At()
	t.data.orders[o.ID] = o
	return nil
}

func (t *Tx) UpdateOrderTotals(_ context.Context, orgID, orderID string, tot orders.Totals, at time.Time) error {
	o, err := t.data.order(orgID, orderID)
	if err != nil {
		return err
	}
	o.Subtotal, o.TaxTotal, o.Total = tot.Subtotal, tot.TaxTotal, tot.Total
	o.UpdatedAt = at
	t.data.orders[o.ID] = o
	return nil
}

func (t *Tx) CapturedTotal(_ context.Context, orgID, orderID string) (decimal.Decimal, error) {
	return t.data.capturedTotal(orgID, orderID), nil
}

func (t *Tx) LockPayment(_ context.Context, orgID, paymentID string) (payments.Payment, error) {
	return t.data.payment(orgID, paymentID)
}

func (t *Tx) LockPaymentByIdempotencyKey(_ context.Context, orgID, key string) (payments.Payment, error) {
	for _, p := range t.data.payments {
		if p.OrgID == orgID && p.IdempotencyKey != "" && p.IdempotencyKey == key {
			return p, nil
		}
	}
	return payments.Payment{}, payments.ErrPaymentNotFound
}

func (t *Tx) OrderExists(_ context.Context, orgID, orderID string) (bool, error) {
	_, err := t.data.order(orgID, orderID)
	return err == nil, nil
}

func (t *Tx) InsertPayment(_ context.Context, p payments.Payment) error {
	for _, existing := range t.data.payments {
		if existing.OrgID != p.OrgID {
			continue
		}
		if p.IdempotencyKey != "" && existing.IdempotencyKey == p.IdempotencyKey {
			return fmt.Errorf("%w: (org_id, idempotency_key)", ErrUniqueViolation)
		}
		if p.ExternalID != "" && existing.ExternalID == p.ExternalID {
			return fmt.Errorf("%w: (org_id, external_id)", ErrUniqueViolation)
		}
	}
	t.data.payments[p.ID] = p
	return nil
}

func (t *Tx) UpdatePaymentStatus(_ context.Context, c payments.StatusChange) error {
	p, err := t.data.payment(c.OrgID(), c.PaymentID())
	if err != nil {
		return err
	}
	if p.Status() != c.From() {
		return payments.ErrStaleStatus
	}
	p = payments.Rehydrate(p, c.To())
	if payload := c.ProviderPayload(); payload != nil {
		p.RawProviderPayload = payload
	}
	p.UpdatedAt = c.At()
	t.data.payments[p.ID] = p
	return nil
}
