package payments

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound = errors.New("payment: not found")
	ErrOrderNotFound   = errors.New("payment: order not found")
)

const (
	DefaultCurrency = "EUR"
	DefaultProvider = "manual"
)

// Payment status is read-only outside this package, the same way as orders.
type Payment struct {
	ID                 string
	OrgID              string
	OrderID            string
	Tender             Tender
	status             Status
	Amount             decimal.Decimal
	Currency           string
	IdempotencyKey     string
	ExternalID         string
	Provider           string
	RawProviderPayload json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (p Payment) Status() Status { return p.status }

// Rehydrate restores the persisted status of a payment loaded from storage,
// or seeds a fixture at a later status.
func Rehydrate(p Payment, status Status) Payment {
	p.status = status
	return p
}

// StatusChange is a validated payment transition, constructible only by the
// engine. ProviderPayload is nil unless the transition stores a new one.
type StatusChange struct {
	orgID     string
	paymentID string
	from      Status
	to        Status
	payload   json.RawMessage
	at        time.Time
}

func (c StatusChange) OrgID() string                    { return c.orgID }
func (c StatusChange) PaymentID() string                { return c.paymentID }
func (c StatusChange) From() Status                     { return c.from }
func (c StatusChange) To() Status                       { return c.to }
func (c StatusChange) ProviderPayload() json.RawMessage { return c.payload }
func (c StatusChange) At() time.Time                    { return c.at }

func (p Payment) transition(to Status, payload json.RawMessage, at time.Time) (Payment, StatusChange, bool) {
	if !CanTransition(p.status, to) {
		return p, StatusChange{}, false
	}
	change := StatusChange{orgID: p.OrgID, paymentID: p.ID, from: p.status, to: to, payload: payload, at: at}
	p.status = to
	if payload != nil {
		p.RawProviderPayload = payload
	}
	p.UpdatedAt = at
	return p, change, true
}

func newUUID() string { return uuid.NewString() }
