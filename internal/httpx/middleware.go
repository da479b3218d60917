package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/observability"
)

const (
	HeaderOrgID          = "X-Org-ID"
	HeaderActorID        = "X-Actor-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type orgKey struct{}

// requestLogger puts a request-scoped logger on the context and logs one
// line per completed request.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	base = observability.OrNop(base)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(observability.WithLogger(r.Context(), logger)))

			fields := []zap.Field{
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("bytes", ww.BytesWritten()),
			}
			switch {
			case ww.Status() >= http.StatusInternalServerError:
				logger.Error("request completed", fields...)
			case ww.Status() >= http.StatusBadRequest:
				logger.Warn("request completed", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}

// requireOrg resolves the tenant from X-Org-ID. Every domain route is
// tenant-scoped, so a missing header is a client error.
func requireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := strings.TrimSpace(r.Header.Get(HeaderOrgID))
		if org == "" {
			writeErrors(w, http.StatusBadRequest, "org", "This header is required.")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), orgKey{}, org)))
	})
}

func orgID(r *http.Request) string {
	org, _ := r.Context().Value(orgKey{}).(string)
	return org
}

// actor falls back to the system actor when no user is named.
func actor(r *http.Request) audit.Actor {
	return audit.Actor(strings.TrimSpace(r.Header.Get(HeaderActorID)))
}
