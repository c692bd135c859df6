package core

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountCategory classifies an Account into one of the five fundamental
// accounting categories. It determines the account's natural balance side.
type AccountCategory int

const (
	Asset AccountCategory = iota
	Liability
	Equity
	Revenue
	Expense
)

// String returns the canonical name used both for display and for the
// "type" field projected into the sync document.
func (c AccountCategory) String() string {
	switch c {
	case Asset:
		return "Asset"
	case Liability:
		return "Liability"
	case Equity:
		return "Equity"
	case Revenue:
		return "Revenue"
	case Expense:
		return "Expense"
	default:
		return "Unknown"
	}
}

// ParseAccountCategory maps a projected "type" string back to its
// AccountCategory. An unrecognized name is a DecodeError, not a panic -
// the document may have been produced by a peer running a newer schema.
func ParseAccountCategory(s string) (AccountCategory, error) {
	switch s {
	case "Asset":
		return Asset, nil
	case "Liability":
		return Liability, nil
	case "Equity":
		return Equity, nil
	case "Revenue":
		return Revenue, nil
	case "Expense":
		return Expense, nil
	default:
		return 0, newDecodeError("account.type", fmt.Errorf("unknown account type %q", s))
	}
}

// NaturalSide reports which posting sign an account of this category is
// expected to carry a positive balance on. It has no CRDT or network
// involvement; it exists for callers outside this core (e.g. a report
// generator) that need the debit/credit convention without re-deriving it.
func (c AccountCategory) NaturalSide() PostingSide {
	switch c {
	case Asset, Expense:
		return Debit
	default:
		return Credit
	}
}

// PostingSide is the debit/credit side of a posting.
type PostingSide int

const (
	Debit PostingSide = iota
	Credit
)

// Account is a stable, immutable-once-added ledger participant. Its id is
// globally stable across replicas; renames are out of scope for this core.
type Account struct {
	ID       uuid.UUID
	Name     string
	Category AccountCategory
}

// NewAccount constructs an Account with a freshly generated identity.
func NewAccount(name string, category AccountCategory) Account {
	return Account{ID: uuid.New(), Name: name, Category: category}
}
