package projection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-ledger/internal/events"
	kafkax "github.com/ariefcatur/go-pos-ledger/internal/kafka"
	"github.com/ariefcatur/go-pos-ledger/internal/redisx"
)

type fakeCache struct {
	claimed map[string]bool
	entries map[string]redisx.StatusEntry
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{claimed: map[string]bool{}, entries: map[string]redisx.StatusEntry{}}
}

func (f *fakeCache) MarkProcessed(_ context.Context, service, id string) (bool, error) {
	k := service + ":" + id
	if f.claimed[k] {
		return false, nil
	}
	f.claimed[k] = true
	return true, nil
}

func (f *fakeCache) Unmark(_ context.Context, service, id string) error {
	delete(f.claimed, service+":"+id)
	return nil
}

func (f *fakeCache) SetStatus(_ context.Context, keyFmt string, e redisx.StatusEntry) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[fmt.Sprintf(keyFmt, e.ID)] = e
	return nil
}

func message(t *testing.T, env events.Envelope) kafkago.Message {
	t.Helper()
	m, err := kafkax.EncodeEnvelope(env)
	require.NoError(t, err)
	return m
}

var at = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestHandleProjectsOrderAndPaymentStatus(t *testing.T) {
	cache := newFakeCache()
	s := &Service{Cache: cache, ServiceName: "projector"}

	orderEnv, err := events.NewOrderStatusChanged("pos-api", "org-1", at, events.OrderStatusChangedPayload{
		OrderID: "ord-1", FromStatus: "draft", ToStatus: "paid", Total: "24.00",
	})
	require.NoError(t, err)
	payEnv, err := events.NewPaymentStatusChanged("pos-api", "org-1", at, events.PaymentStatusChangedPayload{
		PaymentID: "pay-1", OrderID: "ord-1", ToStatus: "captured", Action: "capture",
	})
	require.NoError(t, err)

	require.NoError(t, s.Handle(context.Background(), message(t, orderEnv)))
	require.NoError(t, s.Handle(context.Background(), message(t, payEnv)))

	assert.Equal(t, "paid", cache.entries["order_status:ord-1"].Status)
	assert.Equal(t, "org-1", cache.entries["order_status:ord-1"].OrgID)
	assert.Equal(t, "captured", cache.entries["payment_status:pay-1"].Status)
}

func TestHandleSkipsDuplicates(t *testing.T) {
	cache := newFakeCache()
	s := &Service{Cache: cache, ServiceName: "projector"}

	env, err := events.NewOrderStatusChanged("pos-api", "org-1", at, events.OrderStatusChangedPayload{OrderID: "ord-1", ToStatus: "paid"})
	require.NoError(t, err)
	m := message(t, env)
	require.NoError(t, s.Handle(context.Background(), m))

	cache.entries["order_status:ord-1"] = redisx.StatusEntry{ID: "ord-1", Status: "cancelled"}
	require.NoError(t, s.Handle(context.Background(), m))
	assert.Equal(t, "cancelled", cache.entries["order_status:ord-1"].Status)
}

func TestHandleReleasesClaimOnCacheFailure(t *testing.T) {
	cache := newFakeCache()
	cache.setErr = errors.New("redis down")
	s := &Service{Cache: cache, ServiceName: "projector"}

	env, err := events.NewOrderStatusChanged("pos-api", "org-1", at, events.OrderStatusChangedPayload{OrderID: "ord-1", ToStatus: "paid"})
	require.NoError(t, err)
	m := message(t, env)

	require.Error(t, s.Handle(context.Background(), m))
	assert.Empty(t, cache.claimed)

	cache.setErr = nil
	require.NoError(t, s.Handle(context.Background(), m))
	assert.Equal(t, "paid", cache.entries["order_status:ord-1"].Status)
}

func TestHandleSkipsPoisonMessages(t *testing.T) {
	cache := newFakeCache()
	s := &Service{Cache: cache, ServiceName: "projector"}

	require.NoError(t, s.Handle(context.Background(), kafkago.Message{Value: []byte("garbage")}))
	require.NoError(t, s.Handle(context.Background(), message(t, events.Envelope{EventID: "e-1", EventType: "Other"})))
	assert.Empty(t, cache.claimed)
	assert.Empty(t, cache.entries)
}
