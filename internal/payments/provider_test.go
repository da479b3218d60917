package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()

	p, err := r.Resolve("manual")
	require.NoError(t, err)
	payload, err := p.Authorize(context.Background(), Payment{}, 10)
	require.NoError(t, err)
	assert.Equal(t, "authorized manually", payload["note"])

	_, err = r.Resolve("stripe")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	// nama harus persis sama dengan yang tersimpan di payment
	for _, name := range []string{" MANUAL ", "Manual", "manual "} {
		_, err = r.Resolve(name)
		assert.ErrorIs(t, err, ErrUnknownProvider, name)
	}

	assert.Error(t, r.Register("", ManualProvider{}))
	assert.Error(t, r.Register("x", nil))
	assert.Error(t, r.Register(" acme", ManualProvider{}))
}

func TestPaymentGraph(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCaptured))
	assert.True(t, CanTransition(StatusAuthorized, StatusVoided))
	assert.False(t, CanTransition(StatusCaptured, StatusCaptured))
	assert.False(t, CanTransition(StatusCaptured, StatusVoided))
	for from := range validNext {
		assert.False(t, CanTransition(from, StatusFailed), "nothing moves to failed from %s", from)
	}
}
