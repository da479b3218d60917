package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/payments"
	"github.com/ariefcatur/go-pos-ledger/internal/redisx"
)

type PaymentsHandler struct {
	Payments   *payments.Engine
	Cache      StatusCache // optional
	IsConflict ConflictFunc
}

type paymentResp struct {
	ID                 string          `json:"id"`
	OrgID              string          `json:"org_id"`
	OrderID            string          `json:"order_id"`
	Tender             payments.Tender `json:"tender"`
	Status             payments.Status `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	IdempotencyKey     string          `json:"idempotency_key,omitempty"`
	ExternalID         string          `json:"external_id,omitempty"`
	Provider           string          `json:"provider"`
	RawProviderPayload json.RawMessage `json:"raw_provider_payload,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func toPaymentResp(p payments.Payment) paymentResp {
	return paymentResp{
		ID:                 p.ID,
		OrgID:              p.OrgID,
		OrderID:            p.OrderID,
		Tender:             p.Tender,
		Status:             p.Status(),
		Amount:             p.Amount,
		Currency:           p.Currency,
		IdempotencyKey:     p.IdempotencyKey,
		ExternalID:         p.ExternalID,
		Provider:           p.Provider,
		RawProviderPayload: p.RawProviderPayload,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

type paymentEventResp struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor,omitempty"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status"`
	Action     string         `json:"action"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type createPaymentReq struct {
	Tender         payments.Tender `json:"tender"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
	ExternalID     string          `json:"external_id"`
	Provider       string          `json:"provider"`
	Metadata       map[string]any  `json:"metadata"`
}

type paymentActionReq struct {
	Metadata map[string]any `json:"metadata"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireOrg)
		r.Get("/orders/{id}/payments", h.listPayments)
		r.Post("/orders/{id}/payments", h.createPayment)
		r.Get("/payments/{id}", h.getPayment)
		r.Get("/payments/{id}/status", h.getPaymentStatus)
		r.Get("/payments/{id}/events", h.listEvents)
		r.Post("/payments/{id}/authorize", h.action(h.Payments.Authorize))
		r.Post("/payments/{id}/capture", h.action(h.Payments.Capture))
		r.Post("/payments/{id}/refund", h.action(h.Payments.Refund))
		r.Post("/payments/{id}/void", h.action(h.Payments.Void))
	})
}

func (h *PaymentsHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentReq
	if err := decodeBody(r, &req); err != nil {
		writeErrors(w, http.StatusBadRequest, "non_field_errors", "Invalid JSON.")
		return
	}
	// header menang atas body
	key := req.IdempotencyKey
	if hk := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)); hk != "" {
		key = hk
	}
	p, created, err := h.Payments.Create(r.Context(), payments.CreateInput{
		OrgID:          orgID(r),
		OrderID:        chi.URLParam(r, "id"),
		Tender:         req.Tender,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Actor:          actor(r),
		IdempotencyKey: key,
		ExternalID:     req.ExternalID,
		Provider:       req.Provider,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, toPaymentResp(p))
}

func (h *PaymentsHandler) listPayments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Payments.ListPayments(r.Context(), orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	out := make([]paymentResp, 0, len(list))
	for _, p := range list {
		out = append(out, toPaymentResp(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PaymentsHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payments.GetPayment(r.Context(), orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResp(p))
}

func (h *PaymentsHandler) getPaymentStatus(w http.ResponseWriter, r *http.Request) {
	org, id := orgID(r), chi.URLParam(r, "id")
	if entry, ok := cachedStatus(r, h.Cache, redisx.KeyPaymentStatus, org, id); ok {
		writeJSON(w, http.StatusOK, entry)
		return
	}
	p, err := h.Payments.GetPayment(r.Context(), org, id)
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, redisx.StatusEntry{ID: p.ID, OrgID: p.OrgID, Status: string(p.Status()), UpdatedAt: p.UpdatedAt})
}

type paymentOp func(ctx context.Context, p payments.Payment, a audit.Actor, metadata map[string]any) (payments.Payment, error)

func (h *PaymentsHandler) action(op paymentOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req paymentActionReq
		if err := decodeBody(r, &req); err != nil {
			writeErrors(w, http.StatusBadRequest, "non_field_errors", "Invalid JSON.")
			return
		}
		p, err := h.Payments.GetPayment(r.Context(), orgID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, h.IsConflict, err)
			return
		}
		p, err = op(r.Context(), p, actor(r), req.Metadata)
		if err != nil {
			writeError(w, r, h.IsConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentResp(p))
	}
}

func (h *PaymentsHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := h.Payments.History(r.Context(), orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.IsConflict, err)
		return
	}
	out := make([]paymentEventResp, 0, len(evs))
	for _, ev := range evs {
		out = append(out, paymentEventResp{
			ID:         ev.ID,
			Actor:      string(ev.Actor),
			FromStatus: ev.FromStatus,
			ToStatus:   ev.ToStatus,
			Action:     ev.Action,
			Metadata:   ev.Metadata,
			CreatedAt:  ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
