package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/events"
	"github.com/ariefcatur/go-pos-ledger/internal/observability"
	"github.com/ariefcatur/go-pos-ledger/internal/validation"
)

const (
	tracerName = "github.com/ariefcatur/go-pos-ledger/internal/payments"

	DefaultProviderTimeout = 10 * time.Second
)

// ErrStaleStatus means the row no longer holds the status a StatusChange was
// computed from.
var ErrStaleStatus = errors.New("payment: status changed concurrently")

type EngineDeps struct {
	Store           Store
	Providers       *Registry
	Recorder        *audit.Recorder
	Publisher       events.Publisher
	Logger          *zap.Logger
	Metrics         *observability.LifecycleMetrics
	Clock           func() time.Time
	IDGenerator     func() string
	ProviderTimeout time.Duration
	Producer        string
}

// Engine runs the payment use cases. Create is idempotent per
// (org, idempotency key); every other operation is strict.
type Engine struct {
	store     Store
	providers *Registry
	recorder  *audit.Recorder
	publisher events.Publisher
	log       *zap.Logger
	metrics   *observability.LifecycleMetrics
	tracer    trace.Tracer
	clock     func() time.Time
	newID     func() string
	timeout   time.Duration
	producer  string
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("payments engine: store is required")
	}
	e := &Engine{
		store:     deps.Store,
		providers: deps.Providers,
		recorder:  deps.Recorder,
		publisher: deps.Publisher,
		log:       observability.OrNop(deps.Logger),
		metrics:   deps.Metrics,
		tracer:    otel.Tracer(tracerName),
		clock:     deps.Clock,
		newID:     deps.IDGenerator,
		timeout:   deps.ProviderTimeout,
		producer:  deps.Producer,
	}
	if e.providers == nil {
		e.providers = NewRegistry()
	}
	if e.recorder == nil {
		e.recorder = audit.NewRecorder(audit.WithClock(deps.Clock))
	}
	if e.publisher == nil {
		e.publisher = events.Nop{}
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.newID == nil {
		e.newID = newUUID
	}
	if e.timeout <= 0 {
		e.timeout = DefaultProviderTimeout
	}
	if e.producer == "" {
		e.producer = "pos-api"
	}
	return e, nil
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

type CreateInput struct {
	OrgID          string
	OrderID        string
	Tender         Tender
	Amount         decimal.Decimal
	Currency       string
	Actor          audit.Actor
	IdempotencyKey string
	ExternalID     string
	Provider       string
	Metadata       map[string]any
}

// Create inserts a pending payment with its create event. A retry with an
// idempotency key the org already used returns the stored payment untouched
// and created=false.
func (e *Engine) Create(ctx context.Context, in CreateInput) (p Payment, created bool, err error) {
	ctx, span := e.tracer.Start(ctx, "payments.Create", trace.WithAttributes(
		attribute.String("org.id", in.OrgID),
		attribute.String("order.id", in.OrderID),
	))
	defer span.End()

	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	if strings.TrimSpace(in.Currency) == "" {
		in.Currency = DefaultCurrency
	}
	if strings.TrimSpace(in.Provider) == "" {
		in.Provider = DefaultProvider
	}
	if err := validateCreate(in); err != nil {
		return Payment{}, false, e.reject(ctx, span, "create", Payment{OrgID: in.OrgID}, err)
	}

	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if in.IdempotencyKey != "" {
			existing, err := tx.LockPaymentByIdempotencyKey(ctx, in.OrgID, in.IdempotencyKey)
			if err == nil {
				p = existing
				return nil
			}
			if !errors.Is(err, ErrPaymentNotFound) {
				return err
			}
		}

		ok, err := tx.OrderExists(ctx, in.OrgID, in.OrderID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, in.OrderID)
		}

		now := e.now()
		p = Rehydrate(Payment{
			ID:             e.newID(),
			OrgID:          in.OrgID,
			OrderID:        in.OrderID,
			Tender:         in.Tender,
			Amount:         in.Amount,
			Currency:       in.Currency,
			IdempotencyKey: in.IdempotencyKey,
			ExternalID:     in.ExternalID,
			Provider:       in.Provider,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, StatusPending)
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		if _, err := e.recorder.RecordPayment(ctx, tx, audit.PaymentEvent{
			OrgID:     p.OrgID,
			PaymentID: p.ID,
			Actor:     in.Actor,
			ToStatus:  string(StatusPending),
			Action:    audit.ActionCreate,
			Metadata:  in.Metadata,
		}); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return Payment{}, false, e.reject(ctx, span, "create", Payment{OrgID: in.OrgID}, err)
	}

	if created {
		e.committed(ctx, "", p, audit.ActionCreate, in.Actor)
	} else {
		e.log.Debug("payment create replayed",
			zap.String("org_id", p.OrgID),
			zap.String("payment_id", p.ID),
			zap.String("idempotency_key", in.IdempotencyKey),
		)
	}
	return p, created, nil
}

func validateCreate(in CreateInput) error {
	switch {
	case strings.TrimSpace(in.OrgID) == "":
		return validation.New(validation.ErrPrecondition, "org", "Organization is required.")
	case strings.TrimSpace(in.OrderID) == "":
		return validation.New(validation.ErrPrecondition, "order", "This field is required.")
	case !in.Tender.Valid():
		return validation.New(validation.ErrPrecondition, "tender", fmt.Sprintf("%q is not a valid choice.", in.Tender))
	case !in.Amount.IsPositive():
		return validation.New(validation.ErrPrecondition, "amount", "Ensure this value is greater than 0.")
	case !in.Amount.Equal(in.Amount.Round(2)):
		return validation.New(validation.ErrPrecondition, "amount", "Ensure that there are no more than 2 decimal places.")
	case len(in.Currency) > 8:
		return validation.New(validation.ErrPrecondition, "currency", "Ensure this field has no more than 8 characters.")
	case len(in.IdempotencyKey) > 128:
		return validation.New(validation.ErrPrecondition, "idempotency_key", "Ensure this field has no more than 128 characters.")
	case len(in.ExternalID) > 128:
		return validation.New(validation.ErrPrecondition, "external_id", "Ensure this field has no more than 128 characters.")
	}
	return nil
}

// Authorize moves a pending payment to authorized. The provider named on the
// payment is called under the row lock and its response is stored with the
// new status.
func (e *Engine) Authorize(ctx context.Context, p Payment, actor audit.Actor, metadata map[string]any) (Payment, error) {
	return e.move(ctx, "authorize", audit.ActionAuthorize, StatusAuthorized, p, actor, metadata,
		func(ctx context.Context, locked Payment) (json.RawMessage, error) {
			provider, err := e.providers.Resolve(locked.Provider)
			if err != nil {
				return nil, err
			}
			// dibulatkan ke atas supaya timeout < 1s tidak jadi 0
			seconds := int((e.timeout + time.Second - 1) / time.Second)
			callCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			payload, err := provider.Authorize(callCtx, locked, seconds)
			if err != nil {
				return nil, fmt.Errorf("authorize with provider %s: %w", locked.Provider, err)
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode provider payload: %w", err)
			}
			return raw, nil
		})
}

// Capture moves a pending or authorized payment to captured.
func (e *Engine) Capture(ctx context.Context, p Payment, actor audit.Actor, metadata map[string]any) (Payment, error) {
	return e.move(ctx, "capture", audit.ActionCapture, StatusCaptured, p, actor, metadata, nil)
}

// Refund returns a captured payment.
func (e *Engine) Refund(ctx context.Context, p Payment, actor audit.Actor, metadata map[string]any) (Payment, error) {
	return e.move(ctx, "refund", audit.ActionRefund, StatusRefunded, p, actor, metadata, nil)
}

// Void cancels a payment before funds were captured.
func (e *Engine) Void(ctx context.Context, p Payment, actor audit.Actor, metadata map[string]any) (Payment, error) {
	return e.move(ctx, "void", audit.ActionVoid, StatusVoided, p, actor, metadata, nil)
}

type payloadFunc func(ctx context.Context, locked Payment) (json.RawMessage, error)

func (e *Engine) move(ctx context.Context, operation, action string, to Status, p Payment, actor audit.Actor, metadata map[string]any, payload payloadFunc) (Payment, error) {
	ctx, span := e.tracer.Start(ctx, "payments."+operationSpan(operation), trace.WithAttributes(
		attribute.String("org.id", p.OrgID),
		attribute.String("payment.id", p.ID),
	))
	defer span.End()

	var from Status
	var next Payment
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockPayment(ctx, p.OrgID, p.ID)
		if err != nil {
			return err
		}
		if locked.Status() == to {
			return validation.AlreadyIn("Payment", string(to))
		}
		if !CanTransition(locked.Status(), to) {
			return validation.InvalidTransition()
		}

		var raw json.RawMessage
		if payload != nil {
			if raw, err = payload(ctx, locked); err != nil {
				return err
			}
		}

		moved, change, ok := locked.transition(to, raw, e.now())
		if !ok {
			return validation.InvalidTransition()
		}
		if err := tx.UpdatePaymentStatus(ctx, change); err != nil {
			return err
		}
		if _, err := e.recorder.RecordPayment(ctx, tx, audit.PaymentEvent{
			OrgID:      moved.OrgID,
			PaymentID:  moved.ID,
			Actor:      actor,
			FromStatus: string(change.From()),
			ToStatus:   string(change.To()),
			Action:     action,
			Metadata:   metadata,
		}); err != nil {
			return err
		}
		from, next = change.From(), moved
		return nil
	})
	if err != nil {
		return Payment{}, e.reject(ctx, span, operation, p, err)
	}

	e.committed(ctx, from, next, action, actor)
	return next, nil
}

func operationSpan(op string) string {
	if op == "" {
		return op
	}
	return strings.ToUpper(op[:1]) + op[1:]
}

func (e *Engine) GetPayment(ctx context.Context, orgID, paymentID string) (Payment, error) {
	return e.store.GetPayment(ctx, orgID, paymentID)
}

func (e *Engine) ListPayments(ctx context.Context, orgID, orderID string) ([]Payment, error) {
	return e.store.ListPayments(ctx, orgID, orderID)
}

// CapturedTotal sums the captured payments of an order.
func (e *Engine) CapturedTotal(ctx context.Context, orgID, orderID string) (decimal.Decimal, error) {
	return e.store.CapturedTotal(ctx, orgID, orderID)
}

// History returns the payment's events, newest first.
func (e *Engine) History(ctx context.Context, orgID, paymentID string) ([]audit.PaymentEvent, error) {
	if _, err := e.store.GetPayment(ctx, orgID, paymentID); err != nil {
		return nil, err
	}
	return e.store.ListPaymentEvents(ctx, orgID, paymentID)
}

func (e *Engine) reject(ctx context.Context, span trace.Span, operation string, p Payment, err error) error {
	kind := rejectionKind(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	e.metrics.Rejected(ctx, operation, kind)

	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("org_id", p.OrgID),
		zap.String("payment_id", p.ID),
		zap.String("kind", kind),
		zap.Error(err),
	}
	switch kind {
	case "error", "configuration":
		e.log.Error("payment operation failed", fields...)
	default:
		e.log.Debug("payment operation rejected", fields...)
	}
	return err
}

func (e *Engine) committed(ctx context.Context, from Status, p Payment, action string, actor audit.Actor) {
	e.metrics.Transition(ctx, string(from), string(p.Status()))
	e.log.Info("payment status changed",
		zap.String("org_id", p.OrgID),
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.String("action", action),
		zap.String("from", string(from)),
		zap.String("to", string(p.Status())),
		zap.String("actor", string(actor)),
	)

	env, err := events.NewPaymentStatusChanged(e.producer, p.OrgID, p.UpdatedAt, events.PaymentStatusChangedPayload{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		FromStatus: string(from),
		ToStatus:   string(p.Status()),
		Action:     action,
		ActorID:    string(actor),
		Amount:     p.Amount.StringFixed(2),
		Currency:   p.Currency,
	})
	if err == nil {
		err = e.publisher.Publish(ctx, env)
	}
	if err != nil {
		e.log.Warn("publish payment status event", zap.String("payment_id", p.ID), zap.Error(err))
	}
}

func rejectionKind(err error) string {
	switch {
	case errors.Is(err, validation.ErrAlreadyInState):
		return "already_in_state"
	case errors.Is(err, validation.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, validation.ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrUnknownProvider):
		return "configuration"
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrOrderNotFound):
		return "not_found"
	default:
		return "error"
	}
}
