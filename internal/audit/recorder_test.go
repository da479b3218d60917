package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTx struct {
	orders   []OrderStatusEvent
	payments []PaymentEvent
	err      error
}

func (c *captureTx) InsertOrderEvent(_ context.Context, ev OrderStatusEvent) error {
	if c.err != nil {
		return c.err
	}
	c.orders = append(c.orders, ev)
	return nil
}

func (c *captureTx) InsertPaymentEvent(_ context.Context, ev PaymentEvent) error {
	if c.err != nil {
		return c.err
	}
	c.payments = append(c.payments, ev)
	return nil
}

func fixedRecorder() *Recorder {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return NewRecorder(
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "evt-1" }),
	)
}

func TestRecordOrder(t *testing.T) {
	tx := &captureTx{}
	ev, err := fixedRecorder().RecordOrder(context.Background(), tx, OrderStatusEvent{
		OrgID: "org-1", OrderID: "ord-1", Actor: "user-7", FromStatus: "draft", ToStatus: "paid",
	})
	require.NoError(t, err)

	require.Len(t, tx.orders, 1)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, Actor("user-7"), tx.orders[0].Actor)
	assert.NotNil(t, tx.orders[0].Metadata)
	assert.False(t, ev.CreatedAt.IsZero())
}

func TestRecordOrderRejectsIncompleteEvent(t *testing.T) {
	tx := &captureTx{}
	_, err := fixedRecorder().RecordOrder(context.Background(), tx, OrderStatusEvent{OrgID: "org-1", OrderID: "ord-1", ToStatus: "paid"})

	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Empty(t, tx.orders)
}

func TestRecordPaymentCreateMayOmitFromStatus(t *testing.T) {
	tx := &captureTx{}
	_, err := fixedRecorder().RecordPayment(context.Background(), tx, PaymentEvent{
		OrgID: "org-1", PaymentID: "pay-1", ToStatus: "pending", Action: ActionCreate,
	})
	require.NoError(t, err)

	_, err = fixedRecorder().RecordPayment(context.Background(), tx, PaymentEvent{
		OrgID: "org-1", PaymentID: "pay-1", ToStatus: "captured", Action: ActionCapture,
	})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Len(t, tx.payments, 1)
}

func TestRecordPropagatesStoreError(t *testing.T) {
	boom := errors.New("insert failed")
	_, err := fixedRecorder().RecordPayment(context.Background(), &captureTx{err: boom}, PaymentEvent{
		OrgID: "org-1", PaymentID: "pay-1", FromStatus: "pending", ToStatus: "voided", Action: ActionVoid,
	})
	assert.ErrorIs(t, err, boom)
}

func TestSystemActor(t *testing.T) {
	assert.True(t, System.IsSystem())
	assert.False(t, Actor("u").IsSystem())
}
