// Package projection keeps the Redis status cache in step with the lifecycle
// events published by the API.
package projection

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-ledger/internal/events"
	kafkax "github.com/ariefcatur/go-pos-ledger/internal/kafka"
	"github.com/ariefcatur/go-pos-ledger/internal/observability"
	"github.com/ariefcatur/go-pos-ledger/internal/redisx"
)

// Cache is the subset of redisx.Cache the projector writes to.
type Cache interface {
	MarkProcessed(ctx context.Context, service, eventID string) (bool, error)
	Unmark(ctx context.Context, service, eventID string) error
	SetStatus(ctx context.Context, keyFmt string, e redisx.StatusEntry) error
}

var _ Cache = (*redisx.Cache)(nil)

type Service struct {
	Cache       Cache
	ServiceName string
	Logger      *zap.Logger
}

// Topics lists what Handle understands.
func Topics() []string {
	return []string{events.TopicOrderStatus, events.TopicPaymentStatus}
}

// Handle dipasang sebagai handler consumer. Returning nil commits the offset.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	log := observability.OrNop(s.Logger)

	// 1) decode envelope; pesan rusak di-skip supaya partition tidak macet
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		log.Warn("skip undecodable message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	entry, keyFmt, err := s.entry(env)
	if err != nil {
		log.Warn("skip event", zap.String("event_id", env.EventID), zap.String("event_type", env.EventType), zap.Error(err))
		return nil
	}

	// 2) dedup via Redis (pakai event_id)
	first, err := s.Cache.MarkProcessed(ctx, s.ServiceName, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		log.Debug("duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	// 3) update cache; lepas klaim dedup kalau gagal supaya redelivery diproses ulang
	if err := s.Cache.SetStatus(ctx, keyFmt, entry); err != nil {
		if uerr := s.Cache.Unmark(ctx, s.ServiceName, env.EventID); uerr != nil {
			log.Warn("release dedup claim", zap.String("event_id", env.EventID), zap.Error(uerr))
		}
		return err
	}
	log.Debug("status projected",
		zap.String("event_type", env.EventType),
		zap.String("id", entry.ID),
		zap.String("status", entry.Status),
	)
	return nil
}

var errUnknownEvent = errors.New("projection: unknown event type")

func (s *Service) entry(env events.Envelope) (redisx.StatusEntry, string, error) {
	switch env.EventType {
	case events.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[events.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return redisx.StatusEntry{}, "", err
		}
		return redisx.StatusEntry{ID: p.OrderID, OrgID: env.OrgID, Status: p.ToStatus, UpdatedAt: env.OccurredAt}, redisx.KeyOrderStatus, nil
	case events.EventPaymentStatusChanged:
		p, err := kafkax.UnwrapPayload[events.PaymentStatusChangedPayload](env.Payload)
		if err != nil {
			return redisx.StatusEntry{}, "", err
		}
		return redisx.StatusEntry{ID: p.PaymentID, OrgID: env.OrgID, Status: p.ToStatus, UpdatedAt: env.OccurredAt}, redisx.KeyPaymentStatus, nil
	default:
		return redisx.StatusEntry{}, "", errUnknownEvent
	}
}
