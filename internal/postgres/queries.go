package postgres

import (
	"context"
	"encoding/json"
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

const (
	orderColumns   = `id, org_id, status, subtotal, tax_total, total, created_at, updated_at`
	paymentColumns = `id, org_id, order_id, tender, status, amount, currency, idempotency_key,
		external_id, provider, raw_provider_payload, created_at, updated_at`
)

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	var status string
	if err := row.Scan(&o.ID, &o.OrgID, &status, &o.Subtotal, &o.TaxTotal, &o.Total, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return orders.Order{}, err
	}
	return orders.Rehydrate(o, orders.Status(status)), nil
}

func scanPayment(row pgx.Row) (payments.Payment, error) {
	var p payments.Payment
	var tender, status string
	var key, external *string
	var raw []byte
	if err := row.Scan(&p.ID, &p.OrgID, &p.OrderID, &tender, &status, &p.Amount, &p.Currency,
		&key, &external, &p.Provider, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return payments.Payment{}, err
	}
	p.Tender = payments.Tender(tender)
	p.IdempotencyKey = deref(key)
	p.ExternalID = deref(external)
	if raw != nil {
		p.RawProviderPayload = json.RawMessage(raw)
	}
	return payments.Rehydrate(p, payments.Status(status)), nil
}

func getOrder(ctx context.Context, q querier, orgID, orderID string, lock bool) (orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE org_id = $1 AND id = $2`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, orgID, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
	}
	return o, err
}

func listOrders(ctx context.Context, q querier, orgID string) ([]orders.Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE org_id = $1 ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]orders.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// listItems joins the tax rate so totals can be recomputed from the rows.
func listItems(ctx context.Context, q querier, orgID, orderID string) ([]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT i.id, i.org_id, i.order_id, i.product_id, i.product_name, i.unit_id,
		       i.tax_rate_id, r.rate, i.qty, i.unit_price, i.created_at
		FROM order_items i
		JOIN tax_rates r ON r.org_id = i.org_id AND r.id = i.tax_rate_id
		WHERE i.org_id = $1 AND i.order_id = $2
		ORDER BY i.created_at, i.id`, orgID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]orders.OrderItem, 0)
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrgID, &it.OrderID, &it.ProductID, &it.ProductName, &it.UnitID,
			&it.TaxRateID, &it.TaxRate, &it.Qty, &it.UnitPrice, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func capturedTotal(ctx context.Context, q querier, orgID, orderID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM order_payments
		WHERE org_id = $1 AND order_id = $2 AND status = $3`,
		orgID, orderID, string(payments.StatusCaptured)).Scan(&sum)
	return sum, err
}

func getPayment(ctx context.Context, q querier, orgID, paymentID string, lock bool) (payments.Payment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM order_payments WHERE org_id = $1 AND id = $2`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanPayment(q.QueryRow(ctx, sql, orgID, paymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return payments.Payment{}, fmt.Errorf("%w: %s", payments.ErrPaymentNotFound, paymentID)
	}
	return p, err
}

func listPayments(ctx context.Context, q querier, orgID, orderID string) ([]payments.Payment, error) {
	rows, err := q.Query(ctx, `SELECT `+paymentColumns+` FROM order_payments
		WHERE org_id = $1 AND order_id = $2 ORDER BY created_at, id`, orgID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]payments.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func listOrderEvents(ctx context.Context, q querier, orgID, orderID string) ([]audit.OrderStatusEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT id, org_id, order_id, actor_id, from_status, to_status, reason, metadata, created_at
		FROM order_status_events
		WHERE org_id = $1 AND order_id = $2
		ORDER BY created_at DESC, id DESC`, orgID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.OrderStatusEvent, 0)
	for rows.Next() {
		var ev audit.OrderStatusEvent
		var actor *string
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.OrderID, &actor, &ev.FromStatus, &ev.ToStatus,
			&ev.Reason, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Actor = audit.Actor(deref(actor))
		out = append(out, ev)
	}
	return out, rows.Err()
}

func listPaymentEvents(ctx context.Context, q querier, orgID, paymentID string) ([]audit.PaymentEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT id, org_id, payment_id, actor_id, from_status, to_status, action, metadata, created_at
		FROM payment_events
		WHERE org_id = $1 AND payment_id = $2
		ORDER BY created_at DESC, id DESC`, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.PaymentEvent, 0)
	for rows.Next() {
		var ev audit.PaymentEvent
		var actor, from *string
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.PaymentID, &actor, &from, &ev.ToStatus,
			&ev.Action, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Actor = audit.Actor(deref(actor))
		ev.FromStatus = deref(from)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func getProduct(ctx context.Context, q querier, orgID, productID string) (inventory.Product, error) {
	var p inventory.Product
	err := q.QueryRow(ctx, `
		SELECT id, org_id, name, status, stock_qty, created_at, updated_at
		FROM products WHERE org_id = $1 AND id = $2`, orgID, productID).
		Scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &p.StockQty, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, productID)
	}
	return p, err
}

func insertOrderEvent(ctx context.Context, q querier, ev audit.OrderStatusEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO order_status_events (id, org_id, order_id, actor_id, from_status, to_status, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.OrgID, ev.OrderID, nullable(string(ev.Actor)), ev.FromStatus, ev.ToStatus,
		ev.Reason, ev.Metadata, ev.CreatedAt)
	return err
}

func insertPaymentEvent(ctx context.Context, q querier, ev audit.PaymentEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO payment_events (id, org_id, payment_id, actor_id, from_status, to_status, action, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.OrgID, ev.PaymentID, nullable(string(ev.Actor)), nullable(ev.FromStatus), ev.ToStatus,
		ev.Action, ev.Metadata, ev.CreatedAt)
	return err
}

func touch(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at
}
