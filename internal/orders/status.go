package orders

import "sort"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

const reasonInvalidTransition = "Invalid status transition."

// satu sumber kebenaran untuk transisi status order
var validNext = map[Status]map[Status]bool{
	StatusDraft:     {StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {StatusCancelled: true},
	StatusCancelled: {},
}

// TransitionResult is the outcome of the pure FSM check.
type TransitionResult struct {
	OK     bool
	Reason string
}

// CanTransition reports whether from -> to is in the transition table. A
// same-state request is reported as allowed; use cases reject it themselves
// as a double action.
func CanTransition(from, to Status) TransitionResult {
	if from == to {
		return TransitionResult{OK: true}
	}
	if validNext[from][to] {
		return TransitionResult{OK: true}
	}
	return TransitionResult{OK: false, Reason: reasonInvalidTransition}
}

// AllowedNext lists the statuses reachable from s, sorted.
func AllowedNext(s Status) []Status {
	out := make([]Status, 0, len(validNext[s]))
	for next := range validNext[s] {
		out = append(out, next)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}
