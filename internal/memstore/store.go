// Package memstore is an in-memory ledger store for tests. A transaction
// holds one store-wide lock for its whole duration, which serializes writers
// the way row locks do, and works on a snapshot that is dropped when the
// callback fails.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/inventory"
	"github.com/ariefcatur/go-pos-ledger/internal/orders"
	"github.com/ariefcatur/go-pos-ledger/internal/payments"
)

var (
	ErrUniqueViolation = errors.New("memstore: unique constraint violated")
	ErrCheckViolation  = errors.New("memstore: check constraint violated")
)

type state struct {
	products      map[string]inventory.Product
	units         map[string]inventory.Unit
	taxRates      map[string]inventory.TaxRate
	orders        map[string]orders.Order
	items         []orders.OrderItem
	payments      map[string]payments.Payment
	orderEvents   []audit.OrderStatusEvent
	paymentEvents []audit.PaymentEvent
}

func newState() *state {
	return &state{
		products: map[string]inventory.Product{},
		units:    map[string]inventory.Unit{},
		taxRates: map[string]inventory.TaxRate{},
		orders:   map[string]orders.Order{},
		payments: map[string]payments.Payment{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.taxRates {
		c.taxRates[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.items = append([]orders.OrderItem(nil), s.items...)
	c.orderEvents = append([]audit.OrderStatusEvent(nil), s.orderEvents...)
	c.paymentEvents = append([]audit.PaymentEvent(nil), s.paymentEvents...)
	return c
}

// Faults makes selected writes fail so tests can observe rollback.
type Faults struct {
	// AdjustStock fails AdjustProductStock for the given product id.
	AdjustStock  map[string]error
	OrderEvent   error
	PaymentEvent error
}

type Store struct {
	mu     sync.Mutex
	data   *state
	faults Faults

	productLocks int
}

func New() *Store {
	return &Store{data: newState()}
}

// Orders exposes the store through the order engine's port.
func (s *Store) Orders() orders.Store { return OrderStore{s} }

// Payments exposes the store through the payment engine's port.
func (s *Store) Payments() payments.Store { return PaymentStore{s} }

func (s *Store) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// ProductLockCalls counts LockProducts calls across all transactions.
func (s *Store) ProductLockCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.productLocks
}

func (s *Store) within(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{store: s, data: s.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

type OrderStore struct{ *Store }

func (o OrderStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return o.within(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type PaymentStore struct{ *Store }

func (p PaymentStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx payments.Tx) error) error {
	return p.within(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// Seeding bypasses the engines so fixtures can start at any status.

func (s *Store) SeedProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = inventory.StatusActive
	}
	s.data.products[p.ID] = p
}

func (s *Store) SeedUnit(u inventory.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Status == "" {
		u.Status = inventory.StatusActive
	}
	s.data.units[u.ID] = u
}

func (s *Store) SeedTaxRate(r inventory.TaxRate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Status == "" {
		r.Status = inventory.StatusActive
	}
	s.data.taxRates[r.ID] = r
}

func (s *Store) SeedOrder(o orders.Order, items ...orders.OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.orders[o.ID] = o
	for _, it := range items {
		it.OrderID = o.ID
		it.OrgID = o.OrgID
		s.data.items = append(s.data.items, it)
	}
}

func (s *Store) SeedPayment(p payments.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.payments[p.ID] = p
}

// Product returns the committed product row.
func (s *Store) Product(id string) (inventory.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.products[id]
	return p, ok
}

// Reads see committed state only.

func (s *Store) GetOrder(_ context.Context, orgID, orderID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.order(orgID, orderID)
}

func (s *Store) ListOrders(_ context.Context, orgID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0)
	for _, o := range s.data.orders {
		if o.OrgID == orgID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListItems(_ context.Context, orgID, orderID string) ([]orders.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listItems(orgID, orderID), nil
}

func (s *Store) GetPayment(_ context.Context, orgID, paymentID string) (payments.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.payment(orgID, paymentID)
}

func (s *Store) ListPayments(_ context.Context, orgID, orderID string) ([]payments.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]payments.Payment, 0)
	for _, p := range s.data.payments {
		if p.OrgID == orgID && p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CapturedTotal(_ context.Context, orgID, orderID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.capturedTotal(orgID, orderID), nil
}

func (s *Store) ListOrderEvents(_ context.Context, orgID, orderID string) ([]audit.OrderStatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.OrderStatusEvent, 0)
	for i := len(s.data.orderEvents) - 1; i >= 0; i-- {
		ev := s.data.orderEvents[i]
		if ev.OrgID == orgID && ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) ListPaymentEvents(_ context.Context, orgID, paymentID string) ([]audit.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.PaymentEvent, 0)
	for i := len(s.data.paymentEvents) - 1; i >= 0; i-- {
		ev := s.data.paymentEvents[i]
		if ev.OrgID == orgID && ev.PaymentID == paymentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (d *state) order(orgID, orderID string) (orders.Order, error) {
	o, ok := d.orders[orderID]
	if !ok || o.OrgID != orgID {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
	}
	return o, nil
}

func (d *state) payment(orgID, paymentID string) (payments.Payment, error) {
	p, ok := d.payments[paymentID]
	if !ok || p.OrgID != orgID {
		return payments.Payment{}, fmt.Errorf("%w: %s", payments.ErrPaymentNotFound, paymentID)
	}
	return p, nil
}

func (d *state) listItems(orgID, orderID string) []orders.OrderItem {
	out := make([]orders.OrderItem, 0)
	for _, it := range d.items {
		if it.OrgID != orgID || it.OrderID != orderID {
			continue
		}
		if r, ok := d.taxRates[it.TaxRateID]; ok {
			it.TaxRate = r.Rate
		}
		out = append(out, it)
	}
	return out
}

func (d *state) capturedTotal(orgID, orderID string) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range d.payments {
		if p.OrgID == orgID && p.OrderID == orderID && p.Status() == payments.StatusCaptured {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}
