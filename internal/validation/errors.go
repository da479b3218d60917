package validation

import (
	"errors"
	"fmt"
)

// Kinds of business-rule violation raised by the lifecycle engines.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyInState    = errors.New("already in requested status")
	ErrPrecondition      = errors.New("precondition failed")
)

// Error is a field-attributed business-rule violation. It unwraps to its Kind
// and, when present, to the Cause that triggered it.
type Error struct {
	Field   string
	Message string
	Kind    error
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

func New(kind error, field, message string) *Error {
	return &Error{Field: field, Message: message, Kind: kind}
}

// Wrap is New with an underlying cause attached.
func Wrap(kind error, field, message string, cause error) *Error {
	return &Error{Field: field, Message: message, Kind: kind, Cause: cause}
}

// InvalidTransition is the generic FSM rejection on the status field.
func InvalidTransition() *Error {
	return New(ErrInvalidTransition, "status", "Invalid status transition.")
}

// AlreadyIn reports a same-state re-application, e.g. "Order is already paid.".
func AlreadyIn(entity, status string) *Error {
	return New(ErrAlreadyInState, "status", fmt.Sprintf("%s is already %s.", entity, status))
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var v *Error
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Fields renders err as a field -> messages map for API responses.
func Fields(err error) map[string][]string {
	v, ok := As(err)
	if !ok {
		return nil
	}
	return map[string][]string{v.Field: {v.Message}}
}
