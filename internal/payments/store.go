package payments

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
)

// Tx is everything a payment use case touches inside one transaction.
type Tx interface {
	audit.Tx

	// LockPayment takes the exclusive row lock and returns the current row.
	LockPayment(ctx context.Context, orgID, paymentID string) (Payment, error)
	// LockPaymentByIdempotencyKey returns ErrPaymentNotFound when the org
	// has no payment under key.
	LockPaymentByIdempotencyKey(ctx context.Context, orgID, key string) (Payment, error)
	// OrderExists reports whether orderID belongs to orgID.
	OrderExists(ctx context.Context, orgID, orderID string) (bool, error)
	InsertPayment(ctx context.Context, p Payment) error
	// UpdatePaymentStatus writes c.To() only where the row still holds c.From().
	UpdatePaymentStatus(ctx context.Context, c StatusChange) error
}

type Store interface {
	audit.Reader

	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetPayment(ctx context.Context, orgID, paymentID string) (Payment, error)
	ListPayments(ctx context.Context, orgID, orderID string) ([]Payment, error)
	CapturedTotal(ctx context.Context, orgID, orderID string) (decimal.Decimal, error)
}
