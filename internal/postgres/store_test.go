package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/inventory"
	"github.com/ariefcatur/go-pos-ledger/internal/orders"
	"github.com/ariefcatur/go-pos-ledger/internal/payments"
	"github.com/ariefcatur/go-pos-ledger/internal/validation"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set, skipping Postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dsn, 16)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

type pgFixture struct {
	store    *Store
	orders   *orders.Engine
	payments *payments.Engine
	org      string
	unit     string
	rate     string
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	store := NewStore(testPool(t))
	ctx := context.Background()

	f := &pgFixture{store: store, org: uuid.NewString(), unit: uuid.NewString(), rate: uuid.NewString()}
	require.NoError(t, store.CreateOrganization(ctx, f.org, "test org"))
	require.NoError(t, store.CreateUnit(ctx, inventory.Unit{ID: f.unit, OrgID: f.org, Name: "pc"}))
	require.NoError(t, store.CreateTaxRate(ctx, inventory.TaxRate{ID: f.rate, OrgID: f.org, Name: "VAT", Rate: decimal.NewFromInt(10)}))

	var err error
	f.orders, err = orders.NewEngine(orders.EngineDeps{Store: store.Orders()})
	require.NoError(t, err)
	f.payments, err = payments.NewEngine(payments.EngineDeps{Store: store.Payments()})
	require.NoError(t, err)
	return f
}

func (f *pgFixture) product(t *testing.T, stock string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, f.store.CreateProduct(context.Background(), inventory.Product{
		ID: id, OrgID: f.org, Name: "product " + id[:8], StockQty: decimal.RequireFromString(stock),
	}))
	return id
}

func (f *pgFixture) stock(t *testing.T, productID string) string {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), f.org, productID)
	require.NoError(t, err)
	return p.StockQty.StringFixed(3)
}

func (f *pgFixture) draft(t *testing.T, lines map[string]string) orders.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.orders.CreateOrder(ctx, f.org)
	require.NoError(t, err)
	for product, qty := range lines {
		_, o, err = f.orders.AddItem(ctx, f.org, o.ID, orders.ItemInput{
			ProductID: product, UnitID: f.unit, TaxRateID: f.rate,
			Qty: decimal.RequireFromString(qty), UnitPrice: decimal.RequireFromString("1.00"),
		})
		require.NoError(t, err)
	}
	return o
}

func (f *pgFixture) capture(t *testing.T, o orders.Order) {
	t.Helper()
	ctx := context.Background()
	p, _, err := f.payments.Create(ctx, payments.CreateInput{
		OrgID: f.org, OrderID: o.ID, Tender: payments.TenderCash, Amount: o.Total,
	})
	require.NoError(t, err)
	_, err = f.payments.Capture(ctx, p, audit.System, nil)
	require.NoError(t, err)
}

func TestPostgresPayCancelRoundTrip(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	p1 := f.product(t, "10")

	o := f.draft(t, map[string]string{p1: "2.5"})
	assert.Equal(t, "2.75", o.Total.StringFixed(2))
	f.capture(t, o)

	paid, err := f.orders.PayOrder(ctx, o, audit.Actor("cashier"))
	require.NoError(t, err)
	assert.Equal(t, "7.500", f.stock(t, p1))

	_, err = f.orders.PayOrder(ctx, o, audit.Actor("cashier"))
	assert.ErrorIs(t, err, validation.ErrAlreadyInState)
	assert.Equal(t, "7.500", f.stock(t, p1))

	_, err = f.orders.CancelOrder(ctx, paid, audit.System)
	require.NoError(t, err)
	assert.Equal(t, "10.000", f.stock(t, p1))

	evs, err := f.store.ListOrderEvents(ctx, f.org, o.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "cancelled", evs[0].ToStatus)
	assert.True(t, evs[0].Actor.IsSystem())
	assert.Equal(t, audit.Actor("cashier"), evs[1].Actor)
}

func TestPostgresAggregatedStockCheck(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	p1 := f.product(t, "4")

	o, err := f.orders.CreateOrder(ctx, f.org)
	require.NoError(t, err)
	for _, qty := range []string{"2", "3"} {
		_, o, err = f.orders.AddItem(ctx, f.org, o.ID, orders.ItemInput{
			ProductID: p1, UnitID: f.unit, TaxRateID: f.rate,
			Qty: decimal.RequireFromString(qty), UnitPrice: decimal.RequireFromString("1.00"),
		})
		require.NoError(t, err)
	}
	f.capture(t, o)

	_, err = f.orders.PayOrder(ctx, o, audit.System)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, "4.000", f.stock(t, p1))

	got, err := f.store.GetOrder(ctx, f.org, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDraft, got.Status())
}

func TestPostgresConcurrentPaySerializesOnOrderLock(t *testing.T) {
	f := newPGFixture(t)
	p1 := f.product(t, "100")
	o := f.draft(t, map[string]string{p1: "1"})
	f.capture(t, o)

	const workers = 6
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orders.PayOrder(context.Background(), o, audit.System)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, validation.ErrAlreadyInState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, "99.000", f.stock(t, p1))
}

func TestPostgresPaymentIdempotencyAndUniqueExternalID(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	o := f.draft(t, nil)

	in := payments.CreateInput{
		OrgID: f.org, OrderID: o.ID, Tender: payments.TenderCard,
		Amount: decimal.RequireFromString("5.00"), IdempotencyKey: "k-1",
	}
	first, created, err := f.payments.Create(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := f.payments.Create(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	evs, err := f.store.ListPaymentEvents(ctx, f.org, first.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 1)

	dup := payments.CreateInput{OrgID: f.org, OrderID: o.ID, Tender: payments.TenderCard, Amount: in.Amount, ExternalID: "psp-1"}
	_, _, err = f.payments.Create(ctx, dup)
	require.NoError(t, err)
	_, _, err = f.payments.Create(ctx, dup)
	assert.True(t, IsUniqueViolation(err))
}

func TestPostgresAuthorizePersistsPayload(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	o := f.draft(t, nil)

	p, _, err := f.payments.Create(ctx, payments.CreateInput{
		OrgID: f.org, OrderID: o.ID, Tender: payments.TenderCard, Amount: decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)
	_, err = f.payments.Authorize(ctx, p, audit.System, nil)
	require.NoError(t, err)

	stored, err := f.store.GetPayment(ctx, f.org, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusAuthorized, stored.Status())
	assert.JSONEq(t, `{"ok":true,"provider":"manual","note":"authorized manually"}`, string(stored.RawProviderPayload))
}

func TestPostgresAuditRowsAreAppendOnly(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	o := f.draft(t, nil)
	_, err := f.orders.CancelDraftOrder(ctx, o, audit.System)
	require.NoError(t, err)

	_, err = f.store.pool.Exec(ctx, `UPDATE order_status_events SET reason = 'x' WHERE order_id = $1`, o.ID)
	assert.Error(t, err)
	_, err = f.store.pool.Exec(ctx, `DELETE FROM order_status_events WHERE order_id = $1`, o.ID)
	assert.Error(t, err)
}
