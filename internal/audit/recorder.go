package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actor identifies who triggered a transition. The zero value is the system.
type Actor string

const System Actor = ""

func (a Actor) IsSystem() bool { return a == System }

// Payment event actions.
const (
	ActionCreate    = "create"
	ActionAuthorize = "authorize"
	ActionCapture   = "capture"
	ActionRefund    = "refund"
	ActionVoid      = "void"
)

var ErrInvalidEvent = errors.New("audit: invalid event")

// OrderStatusEvent is one append-only row of an order's status history.
type OrderStatusEvent struct {
	ID         string
	OrgID      string
	OrderID    string
	Actor      Actor
	FromStatus string
	ToStatus   string
	Reason     string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// PaymentEvent is one append-only row of a payment's lifecycle. FromStatus is
// empty for the creation event.
type PaymentEvent struct {
	ID         string
	OrgID      string
	PaymentID  string
	Actor      Actor
	FromStatus string
	ToStatus   string
	Action     string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Tx is the write side of the audit trail. Implementations only insert.
type Tx interface {
	InsertOrderEvent(ctx context.Context, ev OrderStatusEvent) error
	InsertPaymentEvent(ctx context.Context, ev PaymentEvent) error
}

// Reader lists history newest first, scoped to the tenant.
type Reader interface {
	ListOrderEvents(ctx context.Context, orgID, orderID string) ([]OrderStatusEvent, error)
	ListPaymentEvents(ctx context.Context, orgID, paymentID string) ([]PaymentEvent, error)
}

type Recorder struct {
	clock func() time.Time
	newID func() string
}

type Option func(*Recorder)

func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(r *Recorder) {
		if gen != nil {
			r.newID = gen
		}
	}
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		clock: func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordOrder appends one order status event inside tx.
func (r *Recorder) RecordOrder(ctx context.Context, tx Tx, ev OrderStatusEvent) (OrderStatusEvent, error) {
	if ev.OrgID == "" || ev.OrderID == "" || ev.FromStatus == "" || ev.ToStatus == "" {
		return OrderStatusEvent{}, fmt.Errorf("%w: order event requires org, order and both statuses", ErrInvalidEvent)
	}
	ev.ID = r.newID()
	ev.CreatedAt = r.clock()
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	if err := tx.InsertOrderEvent(ctx, ev); err != nil {
		return OrderStatusEvent{}, fmt.Errorf("insert order status event: %w", err)
	}
	return ev, nil
}

// RecordPayment appends one payment event inside tx.
func (r *Recorder) RecordPayment(ctx context.Context, tx Tx, ev PaymentEvent) (PaymentEvent, error) {
	if ev.OrgID == "" || ev.PaymentID == "" || ev.ToStatus == "" || ev.Action == "" {
		return PaymentEvent{}, fmt.Errorf("%w: payment event requires org, payment, status and action", ErrInvalidEvent)
	}
	if ev.FromStatus == "" && ev.Action != ActionCreate {
		return PaymentEvent{}, fmt.Errorf("%w: only %q events may omit the previous status", ErrInvalidEvent, ActionCreate)
	}
	ev.ID = r.newID()
	ev.CreatedAt = r.clock()
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	if err := tx.InsertPaymentEvent(ctx, ev); err != nil {
		return PaymentEvent{}, fmt.Errorf("insert payment event: %w", err)
	}
	return ev, nil
}
