package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-ledger/internal/observability"
	"github.com/ariefcatur/go-pos-ledger/internal/orders"
	"github.com/ariefcatur/go-pos-ledger/internal/payments"
	"github.com/ariefcatur/go-pos-ledger/internal/validation"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrors(w http.ResponseWriter, code int, field, message string) {
	writeJSON(w, code, map[string]any{"errors": map[string][]string{field: {message}}})
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ConflictFunc reports store constraint violations, e.g. a duplicate
// external_id, that map to 409.
type ConflictFunc func(error) bool

func writeError(w http.ResponseWriter, r *http.Request, isConflict ConflictFunc, err error) {
	if fields := validation.Fields(err); fields != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": fields})
		return
	}
	switch {
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, payments.ErrOrderNotFound),
		errors.Is(err, payments.ErrPaymentNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, orders.ErrStaleStatus),
		errors.Is(err, payments.ErrStaleStatus),
		isConflict != nil && isConflict(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict"})
	default:
		// termasuk ErrUnknownProvider: salah konfigurasi, bukan salah client
		observability.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
