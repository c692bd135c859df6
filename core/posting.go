package core

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Decimal is the fixed-precision type used for every monetary amount in this
// core. shopspring/decimal stores an arbitrary-precision integer coefficient
// plus a base-10 exponent, so arithmetic at the scale this ledger cares about
// (>= 4 fractional digits, per spec) is always exact - no binary-float
// rounding can creep into the balance law.
type Decimal = decimal.Decimal

// Posting references one account plus a signed amount. A positive amount is
// a debit, a negative amount a credit.
type Posting struct {
	AccountID uuid.UUID
	Amount    Decimal
}
