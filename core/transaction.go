package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// minPostings is the authoring-error guard named in spec §9: the source
// this core was distilled from allows any posting count (including zero)
// provided the sum is zero, but that permits an empty, vacuously-balanced
// transaction to slip through. This core tightens the rule to at least two
// postings.
const minPostings = 2

// Transaction is an immutable, double-entry record. Once recorded it is
// never mutated - amendments must be expressed as a new, reversing
// Transaction.
type Transaction struct {
	ID          uuid.UUID
	Date        time.Time
	Description string
	Postings    []Posting

	// Local-only attributes recovered from the original source
	// (original_source/core/src/sync.rs) that this core's sync document does
	// not project: they are meaningful to the owning replica but undefined
	// once shared, so they are deliberately dropped by ProjectFrom/ProjectTo.
	IsClosingEntry  bool
	IsReversingEntry bool
	Metadata        map[string]string
}

// IsBalanced reports whether the transaction's postings sum to exactly zero
// and it carries at least minPostings postings.
func (t Transaction) IsBalanced() bool {
	if len(t.Postings) < minPostings {
		return false
	}
	sum := decimal.Zero
	for _, p := range t.Postings {
		sum = sum.Add(p.Amount)
	}
	return sum.IsZero()
}

// dateString formats Date the way the sync document expects it: YYYY-MM-DD,
// calendar date only, no time-of-day or zone (spec §4.2 - dates are
// attributes, never sequencing keys).
func (t Transaction) dateString() string {
	return t.Date.Format("2006-01-02")
}

func parseTxDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
