package payments

type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusRefunded   Status = "refunded"
	StatusVoided     Status = "voided"
	// StatusFailed has no inbound edge here; provider callbacks own it.
	StatusFailed Status = "failed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusAuthorized: true, StatusCaptured: true, StatusVoided: true},
	StatusAuthorized: {StatusCaptured: true, StatusVoided: true},
	StatusCaptured:   {StatusRefunded: true},
	StatusRefunded:   {},
	StatusVoided:     {},
	StatusFailed:     {},
}

// CanTransition reports whether from -> to is a payment edge. Same-state
// moves are never edges.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

type Tender string

const (
	TenderCash            Tender = "cash"
	TenderCard            Tender = "card"
	TenderPrepaidExternal Tender = "prepaid_external"
)

func (t Tender) Valid() bool {
	switch t {
	case TenderCash, TenderCard, TenderPrepaidExternal:
		return true
	}
	return false
}
