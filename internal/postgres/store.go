package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/orders"
	"github.com/ariefcatur/go-pos-ledger/internal/payments"
)

// Store is the ledger on Postgres. Row locks are taken with SELECT ... FOR
// UPDATE inside the transaction opened by WithinTx.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Orders() orders.Store { return OrderStore{s} }

func (s *Store) Payments() payments.Store { return PaymentStore{s} }

func (s *Store) within(ctx context.Context, fn func(tx *Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(&Tx{tx: pgTx}); err != nil {
		return err // rollback via defer
	}
	return pgTx.Commit(ctx)
}

type OrderStore struct{ *Store }

func (o OrderStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return o.within(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type PaymentStore struct{ *Store }

func (p PaymentStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx payments.Tx) error) error {
	return p.within(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

func (s *Store) GetOrder(ctx context.Context, orgID, orderID string) (orders.Order, error) {
	return getOrder(ctx, s.pool, orgID, orderID, false)
}

func (s *Store) ListOrders(ctx context.Context, orgID string) ([]orders.Order, error) {
	return listOrders(ctx, s.pool, orgID)
}

func (s *Store) ListItems(ctx context.Context, orgID, orderID string) ([]orders.OrderItem, error) {
	return listItems(ctx, s.pool, orgID, orderID)
}

func (s *Store) GetPayment(ctx context.Context, orgID, paymentID string) (payments.Payment, error) {
	return getPayment(ctx, s.pool, orgID, paymentID, false)
}

func (s *Store) ListPayments(ctx context.Context, orgID, orderID string) ([]payments.Payment, error) {
	return listPayments(ctx, s.pool, orgID, orderID)
}

func (s *Store) CapturedTotal(ctx context.Context, orgID, orderID string) (decimal.Decimal, error) {
	return capturedTotal(ctx, s.pool, orgID, orderID)
}

func (s *Store) ListOrderEvents(ctx context.Context, orgID, orderID string) ([]audit.OrderStatusEvent, error) {
	return listOrderEvents(ctx, s.pool, orgID, orderID)
}

func (s *Store) ListPaymentEvents(ctx context.Context, orgID, paymentID string) ([]audit.PaymentEvent, error) {
	return listPaymentEvents(ctx, s.pool, orgID, paymentID)
}
