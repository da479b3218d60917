package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventPaymentStatusChanged = "PaymentStatusChanged"
)

const (
	TopicOrderStatus   = "pos.order.status"
	TopicPaymentStatus = "pos.payment.status"
)

// PartitionKey keeps every event of one aggregate on the same partition.
func PartitionKey(aggregateID string) []byte { return []byte(aggregateID) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	OrgID         string          `json:"org_id"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order or payment id
	Payload       json.RawMessage `json:"payload"`
}

type OrderStatusChangedPayload struct {
	OrderID    string `json:"order_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id,omitempty"`
	Total      string `json:"total"`
}

type PaymentStatusChangedPayload struct {
	PaymentID  string `json:"payment_id"`
	OrderID    string `json:"order_id"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Action     string `json:"action"`
	ActorID    string `json:"actor_id,omitempty"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

// Publisher receives lifecycle events after their transaction committed.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }

func NewOrderStatusChanged(producer, orgID string, at time.Time, p OrderStatusChangedPayload) (Envelope, error) {
	return newEnvelope(EventOrderStatusChanged, producer, orgID, p.OrderID, at, p)
}

func NewPaymentStatusChanged(producer, orgID string, at time.Time, p PaymentStatusChangedPayload) (Envelope, error) {
	return newEnvelope(EventPaymentStatusChanged, producer, orgID, p.PaymentID, at, p)
}

func newEnvelope(eventType, producer, orgID, correlationID string, at time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		OrgID:         orgID,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Topic routes an envelope to its Kafka topic.
func Topic(eventType string) string {
	if eventType == EventPaymentStatusChanged {
		return TopicPaymentStatus
	}
	return TopicOrderStatus
}
