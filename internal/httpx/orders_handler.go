package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/observability"
	"github.com/ariefcatur/go-pos-ledger/internal/orders"
	"github.com/ariefcatur/go-pos-ledger/internal/redisx"
)

// StatusCache is the read side of the projected status cache.
type StatusCache interface {
	GetStatus(ctx context.Context, keyFmt, id string) (redisx.StatusEntry, bool, error)
}

type OrdersHandler struct {
	Orders     *orders.Engine
	Cache      StatusCache // optional
	IsConflict ConflictFunc
}

type orderResp struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"org_id"`
	Status      orders.Status   `json:"status"`
	AllowedNext []orders.Status `json:"allowed_next"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxTotal    decimal.Decimal `json:"tax_total"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toOrderResp(o orders.Order) orderResp {
	return orderResp{
		ID:          o.ID,
		OrgID:       o.OrgID,
		Status:      o.Status(),
		AllowedNext: orders.AllowedNext(o.Status()),
		Subtotal:    o.Subtotal,
		TaxTotal:    o.TaxTotal,
		Total:       o.Total,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

type itemResp struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitID      string          `json:"unit_id"`
	TaxRateID   string          `json:"tax_rate_id"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toItemResp(it orders.OrderItem) itemResp {
	return itemResp{
		ID:          it.ID,
		OrderID:     it.OrderID,
		ProductID:   it.ProductID,
		ProductName: it.ProductName,
		UnitID:      it.UnitID,
		TaxRateID:   it.TaxRateID,
		TaxRate:     it.TaxRate,
		Qty:         it.Qty,
		UnitPrice:   it.UnitPrice,
		CreatedAt:   it.CreatedAt,
	}
}

type orderEventResp struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor,omitempty"`
	FromStatus string         `json:"from_status"`
	ToStatus   string         `json:"to_status"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type updateStatusReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireOrg)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Patch("/orders/{id}", h.updateStatus)
		r.Get("/orders/{id}/status", h.getOrderStatus)
		r.Post("/orders/{id}/pay", h.payOrder)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
		r.Get("/orders/{id}/items", h.listItems)
		r.Post("/orders/{id}/items", h.addItem)
		r.Get("/orders/{id}/status-events", h.listStatusEvents)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.CreateOrder(r.Context(), orgID(r))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListOrders(r.Context(), orgID(r))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	out := make([]orderResp, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderResp(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

// getOrderStatus serves the projected cache entry when it belongs to the
// caller's org, else reads the ledger.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	org, id := orgID(r), chi.URLParam(r, "id")

	// 1) coba cache
	if entry, ok := cachedStatus(r, h.Cache, redisx.KeyOrderStatus, org, id); ok {
		writeJSON(w, http.StatusOK, entry)
		return
	}

	// 2) fallback DB
	o, err := h.Orders.GetOrder(r.Context(), org, id)
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, redisx.StatusEntry{ID: o.ID, OrgID: o.OrgID, Status: string(o.Status()), UpdatedAt: o.UpdatedAt})
}

func cachedStatus(r *http.Request, cache StatusCache, keyFmt, org, id string) (redisx.StatusEntry, bool) {
	if cache == nil {
		return redisx.StatusEntry{}, false
	}
	entry, ok, err := cache.GetStatus(r.Context(), keyFmt, id)
	if err != nil {
		observability.FromContext(r.Context()).Warn("status cache read", zap.Error(err))
		return redisx.StatusEntry{}, false
	}
	return entry, ok && entry.OrgID == org
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := decodeBody(r, &req); err != nil {
		writeErrors(w, http.StatusBadRequest, "non_field_errors", "Invalid JSON.")
		return
	}
	if req.Status == "" {
		writeErrors(w, http.StatusBadRequest, "status", "This field is required.")
		return
	}
	h.apply(w, r, func(ctx context.Context, o orders.Order, a audit.Actor) (orders.Order, error) {
		return h.Orders.UpdateStatus(ctx, o, req.Status, a)
	})
}

func (h *OrdersHandler) payOrder(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.Orders.PayOrder)
}

// cancelOrder cancels a draft without touching stock, or a paid order with
// a stock restore.
func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(ctx context.Context, o orders.Order, a audit.Actor) (orders.Order, error) {
		return h.Orders.UpdateStatus(ctx, o, orders.StatusCancelled, a)
	})
}

type orderOp func(ctx context.Context, o orders.Order, a audit.Actor) (orders.Order, error)

func (h *OrdersHandler) apply(w http.ResponseWriter, r *http.Request, op orderOp) {
	o, err := h.Orders.GetOrder(r.Context(), orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	o, err = op(r.Context(), o, actor(r))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Orders.ListItems(r.Context(), orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	out := make([]itemResp, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResp(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var in orders.ItemInput
	if err := decodeBody(r, &in); err != nil {
		writeErrors(w, http.StatusBadRequest, "non_field_errors", "Invalid JSON.")
		return
	}
	item, o, err := h.Orders.AddItem(r.Context(), orgID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": toItemResp(item), "order": toOrderResp(o)})
}

func (h *OrdersHandler) listStatusEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := h.Orders.History(r.Context(), orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	out := make([]orderEventResp, 0, len(evs))
	for _, ev := range evs {
		out = append(out, orderEventResp{
			ID:         ev.ID,
			Actor:      string(ev.Actor),
			FromStatus: ev.FromStatus,
			ToStatus:   ev.ToStatus,
			Reason:     ev.Reason,
			Metadata:   ev.Metadata,
			CreatedAt:  ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
