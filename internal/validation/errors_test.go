package validation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("stock row missing")
	err := fmt.Errorf("pay order: %w", Wrap(ErrPrecondition, "order", "Insufficient stock.", cause))

	assert.ErrorIs(t, err, ErrPrecondition)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrInvalidTransition)

	v, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "order", v.Field)
	assert.Equal(t, "order: Insufficient stock.", v.Error())
}

func TestAlreadyIn(t *testing.T) {
	err := AlreadyIn("Order", "paid")

	assert.ErrorIs(t, err, ErrAlreadyInState)
	assert.Equal(t, map[string][]string{"status": {"Order is already paid."}}, Fields(err))
}

func TestFieldsIgnoresForeignErrors(t *testing.T) {
	assert.Nil(t, Fields(errors.New("boom")))
}
