package orders_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/events"
	"github.com/ariefcatur/go-pos-ledger/internal/inventory"
	"github.com/ariefcatur/go-pos-ledger/internal/memstore"
	"github.com/ariefcatur/go-pos-ledger/internal/orders"
	"github.com/ariefcatur/go-pos-ledger/internal/payments"
	"github.com/ariefcatur/go-pos-ledger/internal/validation"
)

const (
	orgA    = "org-a"
	orgB    = "org-b"
	cashier = audit.Actor("user-1")
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

type fixture struct {
	store  *memstore.Store
	engine *orders.Engine
	pub    *recordingPublisher
	seq    int
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		pub:   &recordingPublisher{},
		now:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	engine, err := orders.NewEngine(orders.EngineDeps{
		Store:     f.store.Orders(),
		Publisher: f.pub,
		Clock:     func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.engine = engine

	f.store.SeedUnit(inventory.Unit{ID: "unit-pc", OrgID: orgA, Name: "pc"})
	f.store.SeedTaxRate(inventory.TaxRate{ID: "vat-20", OrgID: orgA, Name: "VAT", Rate: d("20")})
	return f
}

func (f *fixture) nextID(prefix string) string {
	f.seq++
	return prefix + "-" + strconv.Itoa(f.seq)
}

func (f *fixture) product(id, stock string) {
	f.store.SeedProduct(inventory.Product{ID: id, OrgID: orgA, Name: "Product " + id, StockQty: d(stock)})
}

type line struct {
	product string
	qty     string
}

// order seeds an order at status with the given total and lines.
func (f *fixture) order(status orders.Status, total string, lines ...line) orders.Order {
	o := orders.NewDraft(f.nextID("order"), orgA, f.now)
	o.Total = d(total)
	o.Subtotal = d(total)
	o = orders.Rehydrate(o, status)

	items := make([]orders.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, orders.OrderItem{
			ID:          f.nextID("item"),
			ProductID:   l.product,
			ProductName: "Product " + l.product,
			UnitID:      "unit-pc",
			TaxRateID:   "vat-20",
			Qty:         d(l.qty),
			UnitPrice:   d("1.00"),
		})
	}
	f.store.SeedOrder(o, items...)
	return o
}

func (f *fixture) captured(o orders.Order, amount string) {
	f.store.SeedPayment(payments.Rehydrate(payments.Payment{
		ID:       f.nextID("payment"),
		OrgID:    o.OrgID,
		OrderID:  o.ID,
		Tender:   payments.TenderCash,
		Amount:   d(amount),
		Currency: payments.DefaultCurrency,
		Provider: payments.DefaultProvider,
	}, payments.StatusCaptured))
}

func (f *fixture) stock(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	p, ok := f.store.Product(id)
	require.True(t, ok)
	return p.StockQty
}

func (f *fixture) status(t *testing.T, o orders.Order) orders.Status {
	t.Helper()
	got, err := f.engine.GetOrder(context.Background(), o.OrgID, o.ID)
	require.NoError(t, err)
	return got.Status()
}

func (f *fixture) history(t *testing.T, o orders.Order) []audit.OrderStatusEvent {
	t.Helper()
	evs, err := f.engine.History(context.Background(), o.OrgID, o.ID)
	require.NoError(t, err)
	return evs
}

func requireMessage(t *testing.T, err error, field, message string) {
	t.Helper()
	require.Error(t, err)
	v, ok := validation.As(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Equal(t, field, v.Field)
	assert.Equal(t, message, v.Message)
}

func TestPayOrderWritesOffAggregatedStock(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "10")
	f.product("p2", "5.500")
	o := f.order(orders.StatusDraft, "12.00", line{"p1", "2"}, line{"p2", "1.250"}, line{"p1", "3"})
	f.captured(o, "12.00")

	paid, err := f.engine.PayOrder(context.Background(), o, cashier)
	require.NoError(t, err)

	assert.Equal(t, orders.StatusPaid, paid.Status())
	assert.Equal(t, orders.StatusPaid, f.status(t, o))
	assert.True(t, f.stock(t, "p1").Equal(d("5")))
	assert.True(t, f.stock(t, "p2").Equal(d("4.250")))
	assert.Equal(t, 1, f.store.ProductLockCalls())

	evs := f.history(t, o)
	require.Len(t, evs, 1)
	assert.Equal(t, "draft", evs[0].FromStatus)
	assert.Equal(t, "paid", evs[0].ToStatus)
	assert.Equal(t, cashier, evs[0].Actor)

	require.Equal(t, 1, f.pub.count())
	assert.Equal(t, events.EventOrderStatusChanged, f.pub.envs[0].EventType)
	assert.Equal(t, o.ID, f.pub.envs[0].CorrelationID)
}

func TestPayOrderChecksAggregatedQuantityNotLines(t *testing.T) {
	f := newFixture(t)
	f.product("pa", "4")
	o := f.order(orders.StatusDraft, "5.00", line{"pa", "2"}, line{"pa", "3"})
	f.captured(o, "5.00")

	_, err := f.engine.PayOrder(context.Background(), o, cashier)
	requireMessage(t, err, "order", "Insufficient stock.")
	assert.ErrorIs(t, err, validation.ErrPrecondition)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	assert.True(t, f.stock(t, "pa").Equal(d("4")))
	assert.Equal(t, orders.StatusDraft, f.status(t, o))
	assert.Empty(t, f.history(t, o))
	assert.Zero(t, f.pub.count())
}

func TestPayOrderRequiresCapturedPaymentCoveringTotal(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "10")
	o := f.order(orders.StatusDraft, "10.00", line{"p1", "2"})
	f.captured(o, "4.00")
	f.store.SeedPayment(payments.Rehydrate(payments.Payment{
		ID: "authorized-only", OrgID: orgA, OrderID: o.ID, Amount: d("100.00"),
	}, payments.StatusAuthorized))

	_, err := f.engine.PayOrder(context.Background(), o, cashier)
	requireMessage(t, err, "payment", "Cannot pay order without captured payment covering order total.")

	assert.True(t, f.stock(t, "p1").Equal(d("10")))
	assert.Equal(t, orders.StatusDraft, f.status(t, o))

	f.captured(o, "6.00")
	_, err = f.engine.PayOrder(context.Background(), o, cashier)
	require.NoError(t, err)
	assert.True(t, f.stock(t, "p1").Equal(d("8")))
}

func TestPayOrderReportsStockBeforePayment(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "1")
	o := f.order(orders.StatusDraft, "10.00", line{"p1", "2"})

	_, err := f.engine.PayOrder(context.Background(), o, cashier)
	requireMessage(t, err, "order", "Insufficient stock.")
}

func TestPayOrderWithoutItems(t *testing.T) {
	f := newFixture(t)
	o := f.order(orders.StatusDraft, "0.00")

	_, err := f.engine.PayOrder(context.Background(), o, cashier)
	requireMessage(t, err, "order", "Cannot pay order without items.")
	assert.Equal(t, orders.StatusDraft, f.status(t, o))
}

func TestPayOrderTwiceFailsAndKeepsStock(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "10")
	o := f.order(orders.StatusDraft, "3.00", line{"p1", "3"})
	f.captured(o, "3.00")

	paid, err := f.engine.PayOrder(context.Background(), o, cashier)
	require.NoError(t, err)

	_, err = f.engine.PayOrder(context.Background(), paid, cashier)
	requireMessage(t, err, "status", "Order is already paid.")
	assert.ErrorIs(t, err, validation.ErrAlreadyInState)

	// stale snapshot still says draft; the locked re-read catches it
	_, err = f.engine.PayOrder(context.Background(), o, cashier)
	requireMessage(t, err, "status", "Order is already paid.")

	assert.True(t, f.stock(t, "p1").Equal(d("7")))
	assert.Len(t, f.history(t, o), 1)
}

func TestPayCancelledOrderIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "10")
	o := f.order(orders.StatusCancelled, "1.00", line{"p1", "1"})

	_, err := f.engine.PayOrder(context.Background(), o, cashier)
	requireMessage(t, err, "status", "Invalid status transition.")
	assert.ErrorIs(t, err, validation.ErrInvalidTransition)
}

func TestPayOrderRollsBackPartialWriteOff(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "10")
	f.product("p2", "10")
	o := f.order(orders.StatusDraft, "2.00", line{"p1", "1"}, line{"p2", "1"})
	f.captured(o, "2.00")

	boom := errors.New("disk full")
	f.store.SetFaults(memstore.Faults{AdjustStock: map[string]error{"p2": boom}})

	_, err := f.engine.PayOrder(context.Background(), o, cashier)
	require.ErrorIs(t, err, boom)

	assert.True(t, f.stock(t, "p1").Equal(d("10")))
	assert.True(t, f.stock(t, "p2").Equal(d("10")))
	assert.Equal(t, orders.StatusDraft, f.status(t, o))
	assert.Empty(t, f.history(t, o))
}

func TestPayOrderRollsBackWhenAuditInsertFails(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "10")
	o := f.order(orders.StatusDraft, "1.00", line{"p1", "1"})
	f.captured(o, "1.00")

	f.store.SetFaults(memstore.Faults{OrderEvent: errors.New("insert failed")})

	_, err := f.engine.PayOrder(context.Background(), o, cashier)
	require.Error(t, err)
	assert.True(t, f.stock(t, "p1").Equal(d("10")))
	assert.Equal(t, orders.StatusDraft, f.status(t, o))
}

func TestPayThenCancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "7.125")
	f.product("p2", "3")
	o := f.order(orders.StatusDraft, "4.00", line{"p1", "1.125"}, line{"p2", "2"}, line{"p1", "0.875"})
	f.captured(o, "4.00")

	paid, err := f.engine.PayOrder(context.Background(), o, cashier)
	require.NoError(t, err)
	assert.True(t, f.stock(t, "p1").Equal(d("5.125")))

	cancelled, err := f.engine.CancelOrder(context.Background(), paid, audit.System)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status())

	assert.True(t, f.stock(t, "p1").Equal(d("7.125")))
	assert.True(t, f.stock(t, "p2").Equal(d("3")))

	evs := f.history(t, o)
	require.Len(t, evs, 2)
	assert.Equal(t, "paid", evs[0].FromStatus)
	assert.Equal(t, "cancelled", evs[0].ToStatus)
	assert.True(t, evs[0].Actor.IsSystem())
}

func TestCancelOrderTwiceDoesNotRestoreAgain(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "5")
	o := f.order(orders.StatusPaid, "2.00", line{"p1", "2"})

	_, err := f.engine.CancelOrder(context.Background(), o, cashier)
	require.NoError(t, err)
	assert.True(t, f.stock(t, "p1").Equal(d("7")))

	_, err = f.engine.CancelOrder(context.Background(), o, cashier)
	requireMessage(t, err, "status", "Order is already cancelled.")
	assert.True(t, f.stock(t, "p1").Equal(d("7")))
	assert.Len(t, f.history(t, o), 1)
}

func TestCancelOrderRequiresPaid(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "5")
	o := f.order(orders.StatusDraft, "1.00", line{"p1", "1"})

	_, err := f.engine.CancelOrder(context.Background(), o, cashier)
	requireMessage(t, err, "status", "Only paid orders can be cancelled.")
	assert.ErrorIs(t, err, validation.ErrInvalidTransition)
	assert.True(t, f.stock(t, "p1").Equal(d("5")))
}

func TestCancelOrderRollsBackPartialRestore(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "1")
	f.product("p2", "1")
	o := f.order(orders.StatusPaid, "2.00", line{"p1", "1"}, line{"p2", "1"})
	f.store.SetFaults(memstore.Faults{AdjustStock: map[string]error{"p2": errors.New("lock timeout")}})

	_, err := f.engine.CancelOrder(context.Background(), o, cashier)
	require.Error(t, err)
	assert.True(t, f.stock(t, "p1").Equal(d("1")))
	assert.Equal(t, orders.StatusPaid, f.status(t, o))
}

func TestCancelDraftOrderLeavesStock(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "5")
	o := f.order(orders.StatusDraft, "1.00", line{"p1", "1"})

	cancelled, err := f.engine.CancelDraftOrder(context.Background(), o, cashier)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status())
	assert.True(t, f.stock(t, "p1").Equal(d("5")))
	assert.Zero(t, f.store.ProductLockCalls())
	require.Len(t, f.history(t, o), 1)

	_, err = f.engine.CancelDraftOrder(context.Background(), o, cashier)
	requireMessage(t, err, "status", "Order is already cancelled.")
}

func TestCancelDraftOrderRejectsPaid(t *testing.T) {
	f := newFixture(t)
	o := f.order(orders.StatusPaid, "1.00")

	_, err := f.engine.CancelDraftOrder(context.Background(), o, cashier)
	requireMessage(t, err, "status", "Only draft orders can be cancelled.")
}

func TestOperationsAreTenantScoped(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "5")
	o := f.order(orders.StatusDraft, "1.00", line{"p1", "1"})
	f.captured(o, "1.00")

	foreign := o
	foreign.OrgID = orgB
	_, err := f.engine.PayOrder(context.Background(), foreign, cashier)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	assert.Equal(t, orders.StatusDraft, f.status(t, o))
}

func TestUpdateStatusDispatch(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "5")

	draft := f.order(orders.StatusDraft, "1.00", line{"p1", "1"})
	got, err := f.engine.UpdateStatus(context.Background(), draft, orders.StatusCancelled, cashier)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status())
	assert.True(t, f.stock(t, "p1").Equal(d("5")))

	paid := f.order(orders.StatusPaid, "1.00", line{"p1", "1"})
	_, err = f.engine.UpdateStatus(context.Background(), paid, orders.StatusCancelled, cashier)
	require.NoError(t, err)
	assert.True(t, f.stock(t, "p1").Equal(d("6")))

	toPay := f.order(orders.StatusDraft, "1.00", line{"p1", "1"})
	f.captured(toPay, "1.00")
	got, err = f.engine.UpdateStatus(context.Background(), toPay, orders.StatusPaid, cashier)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status())

	_, err = f.engine.UpdateStatus(context.Background(), got, orders.StatusDraft, cashier)
	requireMessage(t, err, "status", "Invalid status transition.")

	_, err = f.engine.UpdateStatus(context.Background(), got, orders.Status("shipped"), cashier)
	assert.ErrorIs(t, err, validation.ErrInvalidTransition)
}

func TestConcurrentPayOrderSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "100")
	o := f.order(orders.StatusDraft, "3.00", line{"p1", "3"})
	f.captured(o, "3.00")

	const workers = 8
	var ok, already int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.PayOrder(context.Background(), o, cashier)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, validation.ErrAlreadyInState):
				atomic.AddInt32(&already, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, workers-1, already)
	assert.True(t, f.stock(t, "p1").Equal(d("97")))
	assert.Len(t, f.history(t, o), 1)
}

func TestConcurrentPayAndCancelOnSharedProduct(t *testing.T) {
	f := newFixture(t)
	f.product("shared", "10")
	toPay := f.order(orders.StatusDraft, "4.00", line{"shared", "4"})
	f.captured(toPay, "4.00")
	toCancel := f.order(orders.StatusPaid, "3.00", line{"shared", "3"})

	var wg sync.WaitGroup
	var payErr, cancelErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, payErr = f.engine.PayOrder(context.Background(), toPay, cashier) }()
	go func() { defer wg.Done(); _, cancelErr = f.engine.CancelOrder(context.Background(), toCancel, cashier) }()
	wg.Wait()

	require.NoError(t, payErr)
	require.NoError(t, cancelErr)
	assert.True(t, f.stock(t, "shared").Equal(d("9")))
}
