package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-pos-ledger/internal/events"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
	HeaderOrgID        = "x-org-id"
)

// EncodeEnvelope builds the Kafka message for env: topic by event type, key
// by aggregate id so one aggregate stays ordered on its partition.
func EncodeEnvelope(env events.Envelope) (kafkago.Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encode envelope: %w", err)
	}
	return kafkago.Message{
		Topic: events.Topic(env.EventType),
		Key:   events.PartitionKey(env.CorrelationID),
		Value: b,
		Time:  env.OccurredAt,
		Headers: []kafkago.Header{
			{Key: HeaderEventType, Value: []byte(env.EventType)},
			{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
			{Key: HeaderOrgID, Value: []byte(env.OrgID)},
		},
	}, nil
}

func DecodeEnvelope(b []byte) (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return events.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// UnwrapPayload memudahkan decode payload spesifik
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
