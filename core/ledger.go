package core

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the authoritative local projection of ledger state: a keyed set
// of accounts, an ordered sequence of recorded transactions, and a derived
// balance cache (spec §4.1). Balances are a cache - for any account A,
// balance(A) always equals the sum of posting amounts recorded against A.
//
// Ledger is safe for concurrent use. The sync controller is documented as
// the sole writer (spec §5), but the lock still protects external
// copy-on-read accessors from racing a merge or a concurrent local mutation.
type Ledger struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]Account
	transactions []Transaction
	balances     map[uuid.UUID]Decimal
}

// NewLedger returns an empty Ledger ready to accept accounts and
// transactions.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[uuid.UUID]Account),
		balances: make(map[uuid.UUID]Decimal),
	}
}

// AddAccount inserts account into the ledger. Accounts are immutable once
// added (renames are out of scope); a duplicate id is rejected rather than
// silently overwritten.
func (l *Ledger) AddAccount(a Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[a.ID]; exists {
		return newDuplicateAccountError(a.ID)
	}
	l.accounts[a.ID] = a
	if _, ok := l.balances[a.ID]; !ok {
		l.balances[a.ID] = decimal.Zero
	}
	return nil
}

// RecordTransaction validates the balance law and every posting's account
// before applying anything. Validation is all-or-nothing: on any failure no
// posting is applied and the transaction is not appended.
func (l *Ledger) RecordTransaction(tx Transaction) error {
	if !tx.IsBalanced() {
		return ErrUnbalancedTx
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range tx.Postings {
		if _, ok := l.accounts[p.AccountID]; !ok {
			return ErrUnknownAccount
		}
	}
	for _, p := range tx.Postings {
		l.balances[p.AccountID] = l.balances[p.AccountID].Add(p.Amount)
	}
	l.transactions = append(l.transactions, tx)
	return nil
}

// Balance returns the current running balance for id, or zero if the
// account is absent.
func (l *Ledger) Balance(id uuid.UUID) Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[id]; ok {
		return b
	}
	return decimal.Zero
}

// Accounts returns a snapshot slice of every account, sorted by id for
// deterministic iteration - the order the projection bridge reinserts them
// into the sync document (spec §4.2).
func (l *Ledger) Accounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Transactions returns a snapshot slice of every recorded transaction in
// local insertion order.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Transaction, len(l.transactions))
	copy(out, l.transactions)
	return out
}

// Balances returns a snapshot copy of the full balance map.
func (l *Ledger) Balances() map[uuid.UUID]Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[uuid.UUID]Decimal, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// RebuildBalances zeroes every balance and replays every recorded
// transaction's postings. This is the post-merge reconciliation procedure
// required by spec §4.2: a merged document's balances map is hint-only and
// must not be trusted until balances are rebuilt from the union of
// transactions. Iteration is deterministic (insertion order) so the result
// is reproducible for testing even though addition is commutative.
func (l *Ledger) RebuildBalances() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rebuildBalancesLocked()
}

func (l *Ledger) rebuildBalancesLocked() {
	for id := range l.accounts {
		l.balances[id] = decimal.Zero
	}
	for _, tx := range l.transactions {
		for _, p := range tx.Postings {
			l.balances[p.AccountID] = l.balances[p.AccountID].Add(p.Amount)
		}
	}
}

// replaceAll swaps in a decoded account/transaction set wholesale and
// rebuilds balances from it. It is used only by the projection bridge
// (ProjectTo, which the sync controller calls after a merge) and by
// Controller.Snapshot to build its copy - the transactions were
// already balance-law-validated by whichever replica originally recorded
// them, so this path does not re-validate, it only replays.
func (l *Ledger) replaceAll(accounts []Account, txs []Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[uuid.UUID]Account, len(accounts))
	for _, a := range accounts {
		l.accounts[a.ID] = a
	}
	l.transactions = make([]Transaction, len(txs))
	copy(l.transactions, txs)
	l.balances = make(map[uuid.UUID]Decimal, len(accounts))
	l.rebuildBalancesLocked()
}
