package core

import (
	"encoding/json"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncDoc is the CRDT-backed replicated representation of a Ledger (spec
// §3, §4.2). Its internal operations commute and are idempotent: two
// replicas that have observed the same set of operations, in any order,
// converge to structurally equal documents.
//
// The shape mirrors the original implementation's automerge::AutoCommit
// wrapping (original_source/core/src/sync.rs) one level removed - the
// helpers below correspond to that file's get_ledger_obj / update_accounts /
// update_transactions / update_balances / read_accounts / read_transactions
// methods, translated onto automerge-go's Path API. There is no reader for
// the balances region: it is written by ProjectFrom but never read back,
// and ProjectTo derives every balance from the decoded transactions.
type SyncDoc struct {
	doc *automerge.Doc
}

const (
	rootLedger  = "ledger"
	keyAccounts = "accounts"
	keyTxs      = "transactions"
	keyBalances = "balances"
)

// New returns a sync document initialized with the empty ledger structure:
// root.ledger.{accounts: [], transactions: [], balances: {}}.
func New() (*SyncDoc, error) {
	doc := automerge.New()
	root := doc.Path(rootLedger)
	if err := root.Set(automerge.NewMap()); err != nil {
		return nil, newMergeError(err)
	}
	ledger := doc.Path(rootLedger)
	if err := ledger.Path(keyAccounts).Set(automerge.NewList()); err != nil {
		return nil, newMergeError(err)
	}
	if err := ledger.Path(keyTxs).Set(automerge.NewList()); err != nil {
		return nil, newMergeError(err)
	}
	if err := ledger.Path(keyBalances).Set(automerge.NewMap()); err != nil {
		return nil, newMergeError(err)
	}
	return &SyncDoc{doc: doc}, nil
}

// Load decodes a sync document from its native binary form (the bytes
// produced by a prior Save), as received from a peer.
func Load(data []byte) (*SyncDoc, error) {
	doc, err := automerge.Load(data)
	if err != nil {
		return nil, newDecodeError("document", err)
	}
	return &SyncDoc{doc: doc}, nil
}

// Save serializes the document to its native binary form for network
// transmission. The output is not required to be byte-stable across calls,
// only semantically equal when reloaded.
func (d *SyncDoc) Save() []byte {
	return d.doc.Save()
}

// Merge folds other's operations into d. merge is associative, commutative,
// and idempotent on documents derived from a common ancestor (spec §4.2);
// automerge-go's Merge implements exactly this.
func (d *SyncDoc) Merge(other *SyncDoc) error {
	if err := d.doc.Merge(other.doc); err != nil {
		return newMergeError(err)
	}
	return nil
}

// ProjectFrom writes ledger's current state into the document. accounts,
// transactions, and balances are each cleared and reinserted wholesale -
// they are "replace with latest authoritative state" regions (spec §4.2),
// not independently-mergeable CRDT sequences. The authoritative convergent
// content is the *set* of transactions (keyed by id); accounts and
// balances exist purely so a peer joining mid-history can bootstrap
// without replaying history itself.
func (d *SyncDoc) ProjectFrom(l *Ledger) error {
	accounts := l.Accounts()
	txs := l.Transactions()
	balances := l.Balances()

	if err := d.writeAccounts(accounts); err != nil {
		return err
	}
	if err := d.writeTransactions(txs); err != nil {
		return err
	}
	if err := d.writeBalances(balances); err != nil {
		return err
	}
	return nil
}

// ProjectTo reads the document's accounts and transactions back into a new
// Ledger. The document's balances region is hint-only (spec §9) and is not
// read: the returned Ledger's balances are already rebuilt from the decoded
// transactions, so a malformed balances entry never causes a DecodeError.
func (d *SyncDoc) ProjectTo() (*Ledger, error) {
	accounts, err := d.readAccounts()
	if err != nil {
		return nil, err
	}
	txs, err := d.readTransactions()
	if err != nil {
		return nil, err
	}
	l := NewLedger()
	l.replaceAll(accounts, txs)
	return l, nil
}

func (d *SyncDoc) ledgerPath() *automerge.Path {
	return d.doc.Path(rootLedger)
}

func (d *SyncDoc) writeAccounts(accounts []Account) error {
	list, err := d.ledgerPath().Path(keyAccounts).List()
	if err != nil {
		return newDecodeError("accounts", err)
	}
	if err := list.DeleteAll(); err != nil {
		return newMergeError(err)
	}
	for _, a := range accounts {
		item, err := list.AppendMap()
		if err != nil {
			return newMergeError(err)
		}
		if err := item.Set("id", a.ID.String()); err != nil {
			return newMergeError(err)
		}
		if err := item.Set("name", a.Name); err != nil {
			return newMergeError(err)
		}
		if err := item.Set("type", a.Category.String()); err != nil {
			return newMergeError(err)
		}
	}
	return nil
}

func (d *SyncDoc) writeTransactions(txs []Transaction) error {
	list, err := d.ledgerPath().Path(keyTxs).List()
	if err != nil {
		return newDecodeError("transactions", err)
	}
	if err := list.DeleteAll(); err != nil {
		return newMergeError(err)
	}
	for _, tx := range txs {
		postingsJSON, err := json.Marshal(wirePostings(tx.Postings))
		if err != nil {
			return newSerializationError("encode", err)
		}
		item, err := list.AppendMap()
		if err != nil {
			return newMergeError(err)
		}
		if err := item.Set("id", tx.ID.String()); err != nil {
			return newMergeError(err)
		}
		if err := item.Set("date", tx.dateString()); err != nil {
			return newMergeError(err)
		}
		if err := item.Set("description", tx.Description); err != nil {
			return newMergeError(err)
		}
		if err := item.Set("postings", string(postingsJSON)); err != nil {
			return newMergeError(err)
		}
	}
	return nil
}

func (d *SyncDoc) writeBalances(balances map[uuid.UUID]Decimal) error {
	m, err := d.ledgerPath().Path(keyBalances).Map()
	if err != nil {
		return newDecodeError("balances", err)
	}
	keys, err := m.Keys()
	if err != nil {
		return newDecodeError("balances", err)
	}
	for _, k := range keys {
		if err := m.Delete(k); err != nil {
			return newMergeError(err)
		}
	}
	for id, bal := range balances {
		if err := m.Set(id.String(), bal.String()); err != nil {
			return newMergeError(err)
		}
	}
	return nil
}

func (d *SyncDoc) readAccounts() ([]Account, error) {
	list, err := d.ledgerPath().Path(keyAccounts).List()
	if err != nil {
		return nil, newDecodeError("accounts", err)
	}
	n, err := list.Len()
	if err != nil {
		return nil, newDecodeError("accounts", err)
	}
	out := make([]Account, 0, n)
	for i := 0; i < n; i++ {
		item, err := list.Path(i).Map()
		if err != nil {
			return nil, newDecodeError("accounts[i]", err)
		}
		idStr, err := item.GetString("id")
		if err != nil {
			return nil, newDecodeError("account.id", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, newDecodeError("account.id", err)
		}
		name, err := item.GetString("name")
		if err != nil {
			return nil, newDecodeError("account.name", err)
		}
		typeStr, err := item.GetString("type")
		if err != nil {
			return nil, newDecodeError("account.type", err)
		}
		category, err := ParseAccountCategory(typeStr)
		if err != nil {
			return nil, err
		}
		out = append(out, Account{ID: id, Name: name, Category: category})
	}
	return out, nil
}

func (d *SyncDoc) readTransactions() ([]Transaction, error) {
	list, err := d.ledgerPath().Path(keyTxs).List()
	if err != nil {
		return nil, newDecodeError("transactions", err)
	}
	n, err := list.Len()
	if err != nil {
		return nil, newDecodeError("transactions", err)
	}
	out := make([]Transaction, 0, n)
	seen := make(map[uuid.UUID]bool, n)
	for i := 0; i < n; i++ {
		item, err := list.Path(i).Map()
		if err != nil {
			return nil, newDecodeError("transactions[i]", err)
		}
		idStr, err := item.GetString("id")
		if err != nil {
			return nil, newDecodeError("transaction.id", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, newDecodeError("transaction.id", err)
		}
		// The document's authoritative content is the *set* of transactions;
		// a CRDT re-insertion (e.g. redundant merge/redelivery) can surface
		// the same id twice in the list. Dedupe by id during projection
		// (spec §8, scenario S5) rather than trusting list uniqueness.
		if seen[id] {
			continue
		}
		dateStr, err := item.GetString("date")
		if err != nil {
			return nil, newDecodeError("transaction.date", err)
		}
		date, err := parseTxDate(dateStr)
		if err != nil {
			return nil, newDecodeError("transaction.date", err)
		}
		desc, err := item.GetString("description")
		if err != nil {
			return nil, newDecodeError("transaction.description", err)
		}
		postingsJSON, err := item.GetString("postings")
		if err != nil {
			return nil, newDecodeError("transaction.postings", err)
		}
		var wire []wirePosting
		if err := json.Unmarshal([]byte(postingsJSON), &wire); err != nil {
			return nil, newSerializationError("decode", err)
		}
		postings, err := fromWirePostings(wire)
		if err != nil {
			return nil, err
		}
		seen[id] = true
		out = append(out, Transaction{
			ID:          id,
			Date:        date,
			Description: desc,
			Postings:    postings,
		})
	}
	return out, nil
}

// wirePosting is the JSON shape a Posting is serialized to inside the
// opaque "postings" string field (spec §4.2) - a single transaction is
// immutable, so no per-posting CRDT merge is ever needed, and exposing
// fine-grained operations over each posting would be pure overhead.
type wirePosting struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

func wirePostings(postings []Posting) []wirePosting {
	out := make([]wirePosting, len(postings))
	for i, p := range postings {
		out[i] = wirePosting{AccountID: p.AccountID.String(), Amount: p.Amount.String()}
	}
	return out
}

func fromWirePostings(wire []wirePosting) ([]Posting, error) {
	out := make([]Posting, len(wire))
	for i, w := range wire {
		id, err := uuid.Parse(w.AccountID)
		if err != nil {
			return nil, newSerializationError("decode", err)
		}
		amt, err := decimal.NewFromString(w.Amount)
		if err != nil {
			return nil, newSerializationError("decode", err)
		}
		out[i] = Posting{AccountID: id, Amount: amt}
	}
	return out, nil
}
