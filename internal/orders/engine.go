package orders

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/events"
	"github.com/ariefcatur/go-pos-ledger/internal/inventory"
	"github.com/ariefcatur/go-pos-ledger/internal/observability"
	"github.com/ariefcatur/go-pos-ledger/internal/validation"
)

const tracerName = "github.com/ariefcatur/go-pos-ledger/internal/orders"

// EngineDeps bundles the collaborators of the order lifecycle engine.
type EngineDeps struct {
	Store       Store
	Adjuster    *inventory.Adjuster
	Recorder    *audit.Recorder
	Publisher   events.Publisher
	Logger      *zap.Logger
	Metrics     *observability.LifecycleMetrics
	Clock       func() time.Time
	IDGenerator func() string
	Producer    string
}

// Engine runs the order use cases. Each one is a single transaction:
// lock, validate, write, audit, commit.
type Engine struct {
	store     Store
	adjuster  *inventory.Adjuster
	recorder  *audit.Recorder
	publisher events.Publisher
	log       *zap.Logger
	metrics   *observability.LifecycleMetrics
	tracer    trace.Tracer
	clock     func() time.Time
	newID     func() string
	producer  string
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("orders engine: store is required")
	}
	e := &Engine{
		store:     deps.Store,
		adjuster:  deps.Adjuster,
		recorder:  deps.Recorder,
		publisher: deps.Publisher,
		log:       observability.OrNop(deps.Logger),
		metrics:   deps.Metrics,
		tracer:    otel.Tracer(tracerName),
		clock:     deps.Clock,
		newID:     deps.IDGenerator,
		producer:  deps.Producer,
	}
	if e.adjuster == nil {
		e.adjuster = inventory.NewAdjuster()
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
	if e.producer == "" {
		e.producer = "pos-api"
	}
	return e, nil
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

// PayOrder moves a draft order to paid, writing off the aggregated stock of
// its items. The order must have captured payments covering its total.
func (e *Engine) PayOrder(ctx context.Context, order Order, actor audit.Actor) (Order, error) {
	ctx, span := e.start(ctx, "orders.PayOrder", order)
	defer span.End()

	// cek cepat tanpa lock, bisa stale
	if err := checkPayable(order.Status()); err != nil {
		return Order{}, e.reject(ctx, span, "pay", order, err)
	}

	var paid, before Order
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, order.OrgID, order.ID)
		if err != nil {
			return err
		}
		// ulang di bawah lock
		if err := checkPayable(locked.Status()); err != nil {
			return err
		}

		items, err := tx.ListItems(ctx, locked.OrgID, locked.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return validation.New(validation.ErrPrecondition, "order", "Cannot pay order without items.")
		}

		adj, err := e.adjuster.Prepare(ctx, tx, locked.OrgID, inventory.WriteOff, itemLines(items))
		if err != nil {
			return stockError(err)
		}

		// stok dulu, baru pembayaran, sebelum ada write
		captured, err := tx.CapturedTotal(ctx, locked.OrgID, locked.ID)
		if err != nil {
			return err
		}
		if captured.LessThan(locked.Total) {
			return validation.New(validation.ErrPrecondition, "payment",
				"Cannot pay order without captured payment covering order total.")
		}

		if err := adj.Apply(ctx, tx); err != nil {
			return stockError(err)
		}

		before = locked
		paid, err = e.transition(ctx, tx, locked, StatusPaid, actor)
		return err
	})
	if err != nil {
		return Order{}, e.reject(ctx, span, "pay", order, err)
	}

	e.committed(ctx, before, paid, actor)
	return paid, nil
}

// CancelOrder moves a paid order to cancelled and restores the stock its
// items wrote off. The passed order may be stale; status is only checked
// under lock.
func (e *Engine) CancelOrder(ctx context.Context, order Order, actor audit.Actor) (Order, error) {
	ctx, span := e.start(ctx, "orders.CancelOrder", order)
	defer span.End()

	var cancelled, before Order
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, order.OrgID, order.ID)
		if err != nil {
			return err
		}
		switch locked.Status() {
		case StatusCancelled:
			return validation.AlreadyIn("Order", string(StatusCancelled))
		case StatusPaid:
		default:
			return validation.New(validation.ErrInvalidTransition, "status", "Only paid orders can be cancelled.")
		}

		items, err := tx.ListItems(ctx, locked.OrgID, locked.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return validation.New(validation.ErrPrecondition, "order", "Cannot cancel order without items.")
		}

		adj, err := e.adjuster.Prepare(ctx, tx, locked.OrgID, inventory.Restore, itemLines(items))
		if err != nil {
			return err
		}
		if err := adj.Apply(ctx, tx); err != nil {
			return err
		}

		before = locked
		cancelled, err = e.transition(ctx, tx, locked, StatusCancelled, actor)
		return err
	})
	if err != nil {
		return Order{}, e.reject(ctx, span, "cancel", order, err)
	}

	e.committed(ctx, before, cancelled, actor)
	return cancelled, nil
}

// CancelDraftOrder cancels a draft. Nothing was written off, so stock is
// left alone and no product row is locked.
func (e *Engine) CancelDraftOrder(ctx context.Context, order Order, actor audit.Actor) (Order, error) {
	ctx, span := e.start(ctx, "orders.CancelDraftOrder", order)
	defer span.End()

	var cancelled, before Order
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, order.OrgID, order.ID)
		if err != nil {
			return err
		}
		switch locked.Status() {
		case StatusCancelled:
			return validation.AlreadyIn("Order", string(StatusCancelled))
		case StatusDraft:
		default:
			return validation.New(validation.ErrInvalidTransition, "status", "Only draft orders can be cancelled.")
		}

		before = locked
		cancelled, err = e.transition(ctx, tx, locked, StatusCancelled, actor)
		return err
	})
	if err != nil {
		return Order{}, e.reject(ctx, span, "cancel_draft", order, err)
	}

	e.committed(ctx, before, cancelled, actor)
	return cancelled, nil
}

// UpdateStatus dispatches a requested target status to the matching use
// case: paid pays, cancelled cancels a draft or a paid order.
func (e *Engine) UpdateStatus(ctx context.Context, order Order, to Status, actor audit.Actor) (Order, error) {
	switch to {
	case StatusPaid:
		return e.PayOrder(ctx, order, actor)
	case StatusCancelled:
		if order.Status() == StatusDraft {
			return e.CancelDraftOrder(ctx, order, actor)
		}
		return e.CancelOrder(ctx, order, actor)
	}
	if !to.Valid() {
		return Order{}, validation.New(validation.ErrInvalidTransition, "status", "Unknown status.")
	}
	if order.Status() == to {
		return Order{}, validation.AlreadyIn("Order", string(to))
	}
	return Order{}, validation.InvalidTransition()
}

func checkPayable(current Status) error {
	if res := CanTransition(current, StatusPaid); !res.OK {
		return validation.New(validation.ErrInvalidTransition, "status", res.Reason)
	}
	if current == StatusPaid {
		return validation.AlreadyIn("Order", string(StatusPaid))
	}
	if current != StatusDraft {
		return validation.InvalidTransition()
	}
	return nil
}

func stockError(err error) error {
	if errors.Is(err, inventory.ErrInsufficientStock) {
		return validation.Wrap(validation.ErrPrecondition, "order", "Insufficient stock.", err)
	}
	return err
}

// transition persists the status change and its audit row.
func (e *Engine) transition(ctx context.Context, tx Tx, locked Order, to Status, actor audit.Actor) (Order, error) {
	next, change, ok := locked.transition(to, e.now())
	if !ok {
		return Order{}, validation.InvalidTransition()
	}
	if err := tx.UpdateOrderStatus(ctx, change); err != nil {
		return Order{}, err
	}
	if _, err := e.recorder.RecordOrder(ctx, tx, audit.OrderStatusEvent{
		OrgID:      next.OrgID,
		OrderID:    next.ID,
		Actor:      actor,
		FromStatus: string(change.From()),
		ToStatus:   string(change.To()),
	}); err != nil {
		return Order{}, err
	}
	return next, nil
}

func (e *Engine) start(ctx context.Context, name string, order Order) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("org.id", order.OrgID),
		attribute.String("order.id", order.ID),
	))
}

func (e *Engine) reject(ctx context.Context, span trace.Span, operation string, order Order, err error) error {
	kind := rejectionKind(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	e.metrics.Rejected(ctx, operation, kind)

	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("org_id", order.OrgID),
		zap.String("order_id", order.ID),
		zap.String("kind", kind),
		zap.Error(err),
	}
	if _, ok := validation.As(err); ok || errors.Is(err, ErrOrderNotFound) {
		e.log.Debug("order operation rejected", fields...)
	} else {
		e.log.Error("order operation failed", fields...)
	}
	return err
}

// committed runs after commit only; nothing here can fail the operation.
func (e *Engine) committed(ctx context.Context, before, after Order, actor audit.Actor) {
	from, to := string(before.Status()), string(after.Status())
	e.metrics.Transition(ctx, from, to)
	e.log.Info("order status changed",
		zap.String("org_id", after.OrgID),
		zap.String("order_id", after.ID),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("actor", string(actor)),
	)

	env, err := events.NewOrderStatusChanged(e.producer, after.OrgID, after.UpdatedAt, events.OrderStatusChangedPayload{
		OrderID:    after.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    string(actor),
		Total:      after.Total.StringFixed(2),
	})
	if err == nil {
		err = e.publisher.Publish(ctx, env)
	}
	if err != nil {
		e.log.Warn("publish order status event", zap.String("order_id", after.ID), zap.Error(err))
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
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, inventory.ErrProductNotFound):
		return "not_found"
	default:
		return "error"
	}
}
