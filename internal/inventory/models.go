package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

var (
	ErrProductNotFound = errors.New("inventory: product not found")
	ErrUnitNotFound    = errors.New("inventory: unit not found")
	ErrTaxRateNotFound = errors.New("inventory: tax rate not found")
)

// Product carries the stock counter. StockQty is only written by the Adjuster.
type Product struct {
	ID        string
	OrgID     string
	Name      string
	Status    string
	StockQty  decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Unit struct {
	ID     string
	OrgID  string
	Name   string
	Status string
}

type TaxRate struct {
	ID     string
	OrgID  string
	Name   string
	Rate   decimal.Decimal // percent, e.g. 20.00
	Status string
}
