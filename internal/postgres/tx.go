package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/inventory"
	"github.com/ariefcatur/go-pos-ledger/internal/orders"
	"github.com/ariefcatur/go-pos-ledger/internal/payments"
)

// Tx implements orders.Tx and payments.Tx on one pgx transaction.
type Tx struct {
	tx pgx.Tx
}

var (
	_ orders.Tx   = (*Tx)(nil)
	_ payments.Tx = (*Tx)(nil)
)

// LockProducts locks all rows in one id-ordered statement so concurrent
// settlements acquire product locks in the same order.
func (t *Tx) LockProducts(ctx context.Context, orgID string, ids []string) (map[string]inventory.Product, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, org_id, name, status, stock_qty, created_at, updated_at
		FROM products
		WHERE org_id = $1 AND id = ANY($2::uuid[])
		ORDER BY id
		FOR UPDATE`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]inventory.Product, len(ids))
	for rows.Next() {
		var p inventory.Product
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &p.StockQty, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (t *Tx) AdjustProductStock(ctx context.Context, orgID, productID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var next decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET stock_qty = stock_qty + $3, updated_at = now()
		WHERE org_id = $1 AND id = $2
		RETURNING stock_qty`, orgID, productID, delta).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, productID)
	}
	return next, err
}

func (t *Tx) GetProduct(ctx context.Context, orgID, productID string) (inventory.Product, error) {
	return getProduct(ctx, t.tx, orgID, productID)
}

func (t *Tx) GetUnit(ctx context.Context, orgID, unitID string) (inventory.Unit, error) {
	var u inventory.Unit
	err := t.tx.QueryRow(ctx, `SELECT id, org_id, name, status FROM units WHERE org_id = $1 AND id = $2`,
		orgID, unitID).Scan(&u.ID, &u.OrgID, &u.Name, &u.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Unit{}, fmt.Errorf("%w: %s", inventory.ErrUnitNotFound, unitID)
	}
	return u, err
}

func (t *Tx) GetTaxRate(ctx context.Context, orgID, taxRateID string) (inventory.TaxRate, error) {
	var r inventory.TaxRate
	err := t.tx.QueryRow(ctx, `SELECT id, org_id, name, rate, status FROM tax_rates WHERE org_id = $1 AND id = $2`,
		orgID, taxRateID).Scan(&r.ID, &r.OrgID, &r.Name, &r.Rate, &r.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.TaxRate{}, fmt.Errorf("%w: %s", inventory.ErrTaxRateNotFound, taxRateID)
	}
	return r, err
}

func (t *Tx) InsertOrderEvent(ctx context.Context, ev audit.OrderStatusEvent) error {
	return insertOrderEvent(ctx, t.tx, ev)
}

func (t *Tx) InsertPaymentEvent(ctx context.Context, ev audit.PaymentEvent) error {
	return insertPaymentEvent(ctx, t.tx, ev)
}

func (t *Tx) LockOrder(ctx context.Context, orgID, orderID string) (orders.Order, error) {
	return getOrder(ctx, t.tx, orgID, orderID, true)
}

func (t *Tx) ListItems(ctx context.Context, orgID, orderID string) ([]orders.OrderItem, error) {
	return listItems(ctx, t.tx, orgID, orderID)
}

func (t *Tx) InsertOrder(ctx context.Context, o orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, org_id, status, subtotal, tax_total, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.OrgID, string(o.Status()), o.Subtotal, o.TaxTotal, o.Total, touch(o.CreatedAt), touch(o.UpdatedAt))
	return err
}

func (t *Tx) InsertItem(ctx context.Context, it orders.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (id, org_id, order_id, product_id, product_name, unit_id, tax_rate_id, qty, unit_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		it.ID, it.OrgID, it.OrderID, it.ProductID, it.ProductName, it.UnitID, it.TaxRateID,
		it.Qty, it.UnitPrice, touch(it.CreatedAt))
	return err
}

// UpdateOrderStatus is the only statement that writes orders.status.
func (t *Tx) UpdateOrderStatus(ctx context.Context, c orders.StatusChange) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $4, updated_at = $5
		WHERE org_id = $1 AND id = $2 AND status = $3`,
		c.OrgID(), c.OrderID(), string(c.From()), string(c.To()), touch(c.At()))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrStaleStatus
	}
	return nil
}

func (t *Tx) UpdateOrderTotals(ctx context.Context, orgID, orderID string, tot orders.Totals, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE orders SET subtotal = $3, tax_total = $4, total = $5, updated_at = $6
		WHERE org_id = $1 AND id = $2`,
		orgID, orderID, tot.Subtotal, tot.TaxTotal, tot.Total, touch(at))
	return err
}

func (t *Tx) CapturedTotal(ctx context.Context, orgID, orderID string) (decimal.Decimal, error) {
	return capturedTotal(ctx, t.tx, orgID, orderID)
}

func (t *Tx) LockPayment(ctx context.Context, orgID, paymentID string) (payments.Payment, error) {
	return getPayment(ctx, t.tx, orgID, paymentID, true)
}

func (t *Tx) LockPaymentByIdempotencyKey(ctx context.Context, orgID, key string) (payments.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+`
		FROM order_payments WHERE org_id = $1 AND idempotency_key = $2 FOR UPDATE`, orgID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return payments.Payment{}, payments.ErrPaymentNotFound
	}
	return p, err
}

func (t *Tx) OrderExists(ctx context.Context, orgID, orderID string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE org_id = $1 AND id = $2)`,
		orgID, orderID).Scan(&ok)
	return ok, err
}

func (t *Tx) InsertPayment(ctx context.Context, p payments.Payment) error {
	var raw any
	if len(p.RawProviderPayload) > 0 {
		raw = string(p.RawProviderPayload)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_payments (id, org_id, order_id, tender, status, amount, currency,
			idempotency_key, external_id, provider, raw_provider_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13)`,
		p.ID, p.OrgID, p.OrderID, string(p.Tender), string(p.Status()), p.Amount, p.Currency,
		nullable(p.IdempotencyKey), nullable(p.ExternalID), p.Provider, raw,
		touch(p.CreatedAt), touch(p.UpdatedAt))
	return err
}

// UpdatePaymentStatus is the only statement that writes order_payments.status.
func (t *Tx) UpdatePaymentStatus(ctx context.Context, c payments.StatusChange) error {
	var raw any
	if payload := c.ProviderPayload(); len(payload) > 0 {
		raw = string(payload)
	}
	ct, err := t.tx.Exec(ctx, `
		UPDATE order_payments
		SET status = $4, raw_provider_payload = COALESCE($5::jsonb, raw_provider_payload), updated_at = $6
		WHERE org_id = $1 AND id = $2 AND status = $3`,
		c.OrgID(), c.PaymentID(), string(c.From()), string(c.To()), raw, touch(c.At()))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return payments.ErrStaleStatus
	}
	return nil
}
