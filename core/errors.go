package core

import (
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors returned by Ledger's write API (spec §7: local errors
// surface to the caller with a named reason).
var (
	// ErrUnbalancedTx is returned when a transaction's postings do not sum to
	// zero, or when it carries fewer than two postings.
	ErrUnbalancedTx = fmt.Errorf("ledger: unbalanced transaction")
	// ErrUnknownAccount is returned when a posting references an account id
	// the ledger has never seen.
	ErrUnknownAccount = fmt.Errorf("ledger: unknown account")
)

// DecodeError reports a malformed or missing field encountered while
// projecting a sync document back into a Ledger. Field names the offending
// field so the caller can log or surface it without string parsing.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("syncdoc: decode %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("syncdoc: decode %s", e.Field)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func newDecodeError(field string, err error) *DecodeError {
	return &DecodeError{Field: field, Err: err}
}

// MergeError reports a failure inside the CRDT's own merge machinery -
// internal inconsistency between two documents that should have been
// mergeable.
type MergeError struct {
	Err error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("syncdoc: merge: %v", e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

func newMergeError(err error) *MergeError {
	return &MergeError{Err: err}
}

// SerializationError reports a posting-list JSON round-trip failure during
// projection (spec §7).
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("syncdoc: %s postings: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func newSerializationError(op string, err error) *SerializationError {
	return &SerializationError{Op: op, Err: err}
}

// duplicateAccountError reports an attempt to add an account id the ledger
// already holds. It is a programmer-error class per spec §7 (account ids
// are generated fresh via uuid.New and should never collide in practice).
type duplicateAccountError struct {
	ID uuid.UUID
}

func (e *duplicateAccountError) Error() string {
	return fmt.Sprintf("ledger: account %s already exists", e.ID)
}

func newDuplicateAccountError(id uuid.UUID) error {
	return &duplicateAccountError{ID: id}
}
