package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/inventory"
	"github.com/ariefcatur/go-pos-ledger/internal/validation"
)

func newUUID() string { return uuid.NewString() }

// ItemInput references catalog rows by id; the product name is snapshotted
// from the product, never taken from the caller.
type ItemInput struct {
	ProductID string          `json:"product_id"`
	UnitID    string          `json:"unit_id"`
	TaxRateID string          `json:"tax_rate_id"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateOrder inserts an empty draft for the org.
func (e *Engine) CreateOrder(ctx context.Context, orgID string) (Order, error) {
	if strings.TrimSpace(orgID) == "" {
		return Order{}, validation.New(validation.ErrPrecondition, "org", "Organization is required.")
	}
	o := NewDraft(e.newID(), orgID, e.now())
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertOrder(ctx, o)
	})
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// AddItem appends a line to a draft order and recomputes its totals in the
// same transaction. Catalog references must be active and owned by the org.
func (e *Engine) AddItem(ctx context.Context, orgID, orderID string, in ItemInput) (OrderItem, Order, error) {
	ctx, span := e.start(ctx, "orders.AddItem", Order{ID: orderID, OrgID: orgID})
	defer span.End()

	if err := validateItemInput(in); err != nil {
		return OrderItem{}, Order{}, err
	}

	var item OrderItem
	var updated Order
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, orgID, orderID)
		if err != nil {
			return err
		}
		if locked.Status() != StatusDraft {
			return validation.New(validation.ErrPrecondition, "order", "Cannot modify items for non-draft order.")
		}

		product, err := tx.GetProduct(ctx, orgID, in.ProductID)
		if err != nil || product.Status != inventory.StatusActive {
			return catalogError(err, inventory.ErrProductNotFound, "product", "Invalid product.")
		}
		unit, err := tx.GetUnit(ctx, orgID, in.UnitID)
		if err != nil || unit.Status != inventory.StatusActive {
			return catalogError(err, inventory.ErrUnitNotFound, "unit", "Invalid unit.")
		}
		rate, err := tx.GetTaxRate(ctx, orgID, in.TaxRateID)
		if err != nil || rate.Status != inventory.StatusActive {
			return catalogError(err, inventory.ErrTaxRateNotFound, "tax_rate", "Invalid tax_rate.")
		}

		now := e.now()
		item = OrderItem{
			ID:          e.newID(),
			OrgID:       orgID,
			OrderID:     locked.ID,
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitID:      unit.ID,
			TaxRateID:   rate.ID,
			TaxRate:     rate.Rate,
			Qty:         in.Qty,
			UnitPrice:   in.UnitPrice,
			CreatedAt:   now,
		}
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}

		items, err := tx.ListItems(ctx, orgID, locked.ID)
		if err != nil {
			return err
		}
		totals := RecomputeTotals(items)
		if err := tx.UpdateOrderTotals(ctx, orgID, locked.ID, totals, now); err != nil {
			return err
		}
		updated = locked.withTotals(totals, now)
		return nil
	})
	if err != nil {
		return OrderItem{}, Order{}, e.reject(ctx, span, "add_item", Order{ID: orderID, OrgID: orgID}, err)
	}
	return item, updated, nil
}

func validateItemInput(in ItemInput) error {
	switch {
	case strings.TrimSpace(in.ProductID) == "":
		return validation.New(validation.ErrPrecondition, "product", "This field is required.")
	case strings.TrimSpace(in.UnitID) == "":
		return validation.New(validation.ErrPrecondition, "unit", "This field is required.")
	case strings.TrimSpace(in.TaxRateID) == "":
		return validation.New(validation.ErrPrecondition, "tax_rate", "This field is required.")
	case !in.Qty.IsPositive():
		return validation.New(validation.ErrPrecondition, "qty", "Ensure this value is greater than 0.")
	case !in.Qty.Equal(in.Qty.Round(3)):
		return validation.New(validation.ErrPrecondition, "qty", "Ensure that there are no more than 3 decimal places.")
	case in.UnitPrice.IsNegative():
		return validation.New(validation.ErrPrecondition, "unit_price", "Ensure this value is greater than or equal to 0.")
	case !in.UnitPrice.Equal(in.UnitPrice.Round(2)):
		return validation.New(validation.ErrPrecondition, "unit_price", "Ensure that there are no more than 2 decimal places.")
	}
	return nil
}

// catalogError turns a missing or inactive reference into a field error.
// Other store failures pass through.
func catalogError(err, notFound error, field, message string) error {
	if err != nil && !errors.Is(err, notFound) {
		return err
	}
	return validation.Wrap(validation.ErrPrecondition, field, message, notFound)
}

func (e *Engine) GetOrder(ctx context.Context, orgID, orderID string) (Order, error) {
	return e.store.GetOrder(ctx, orgID, orderID)
}

func (e *Engine) ListOrders(ctx context.Context, orgID string) ([]Order, error) {
	return e.store.ListOrders(ctx, orgID)
}

// ListItems returns the order's lines in insertion order.
func (e *Engine) ListItems(ctx context.Context, orgID, orderID string) ([]OrderItem, error) {
	if _, err := e.store.GetOrder(ctx, orgID, orderID); err != nil {
		return nil, err
	}
	return e.store.ListItems(ctx, orgID, orderID)
}

// History returns the order's status events, newest first.
func (e *Engine) History(ctx context.Context, orgID, orderID string) ([]audit.OrderStatusEvent, error) {
	if _, err := e.store.GetOrder(ctx, orgID, orderID); err != nil {
		return nil, err
	}
	return e.store.ListOrderEvents(ctx, orgID, orderID)
}
