package core

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"true-ledger-sync/internal/testutil"
)

func seedLedger(t *testing.T) (*Ledger, Account, Account) {
	t.Helper()
	l := NewLedger()
	cash := NewAccount("Cash", Asset)
	revenue := NewAccount("Sales", Revenue)
	if err := l.AddAccount(cash); err != nil {
		t.Fatalf("AddAccount cash: %v", err)
	}
	if err := l.AddAccount(revenue); err != nil {
		t.Fatalf("AddAccount revenue: %v", err)
	}
	tx := Transaction{
		ID:          uuid.New(),
		Description: "opening sale",
		Postings: []Posting{
			{AccountID: cash.ID, Amount: mustDecimal(t, "75.00")},
			{AccountID: revenue.ID, Amount: mustDecimal(t, "-75.00")},
		},
	}
	if err := l.RecordTransaction(tx); err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	return l, cash, revenue
}

func TestSyncDocProjectRoundTrip(t *testing.T) {
	l, cash, revenue := seedLedger(t)

	doc, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := doc.ProjectFrom(l); err != nil {
		t.Fatalf("ProjectFrom: %v", err)
	}

	restored, err := doc.ProjectTo()
	if err != nil {
		t.Fatalf("ProjectTo: %v", err)
	}

	if got := restored.Balance(cash.ID); !got.Equal(mustDecimal(t, "75.00")) {
		t.Fatalf("restored cash balance = %s, want 75.00", got)
	}
	if got := restored.Balance(revenue.ID); !got.Equal(mustDecimal(t, "-75.00")) {
		t.Fatalf("restored revenue balance = %s, want -75.00", got)
	}
	if len(restored.Transactions()) != 1 {
		t.Fatalf("restored transaction count = %d, want 1", len(restored.Transactions()))
	}
}

func TestSyncDocSaveLoadDisk(t *testing.T) {
	l, _, _ := seedLedger(t)

	doc, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := doc.ProjectFrom(l); err != nil {
		t.Fatalf("ProjectFrom: %v", err)
	}

	sandbox, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sandbox.Cleanup()

	if err := sandbox.WriteFile("doc.bin", doc.Save(), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	raw, err := sandbox.ReadFile("doc.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	reloaded, err := Load(raw)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	restored, err := reloaded.ProjectTo()
	if err != nil {
		t.Fatalf("ProjectTo: %v", err)
	}
	if len(restored.Accounts()) != 2 {
		t.Fatalf("restored account count = %d, want 2", len(restored.Accounts()))
	}
}

func TestSyncDocMergeConverges(t *testing.T) {
	base := NewLedger()
	cash := NewAccount("Cash", Asset)
	revenue := NewAccount("Sales", Revenue)
	if err := base.AddAccount(cash); err != nil {
		t.Fatalf("AddAccount cash: %v", err)
	}
	if err := base.AddAccount(revenue); err != nil {
		t.Fatalf("AddAccount revenue: %v", err)
	}

	baseDoc, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := baseDoc.ProjectFrom(base); err != nil {
		t.Fatalf("ProjectFrom: %v", err)
	}

	// Two replicas diverge from the same base: each records one transaction
	// the other has never seen.
	replicaA, err := Load(baseDoc.Save())
	if err != nil {
		t.Fatalf("Load replicaA: %v", err)
	}
	replicaB, err := Load(baseDoc.Save())
	if err != nil {
		t.Fatalf("Load replicaB: %v", err)
	}

	ledgerA := base
	txA := Transaction{
		ID:          uuid.New(),
		Description: "sale A",
		Postings: []Posting{
			{AccountID: cash.ID, Amount: mustDecimal(t, "20.00")},
			{AccountID: revenue.ID, Amount: mustDecimal(t, "-20.00")},
		},
	}
	if err := ledgerA.RecordTransaction(txA); err != nil {
		t.Fatalf("RecordTransaction A: %v", err)
	}
	if err := replicaA.ProjectFrom(ledgerA); err != nil {
		t.Fatalf("ProjectFrom A: %v", err)
	}

	ledgerB := NewLedger()
	if err := ledgerB.AddAccount(cash); err != nil {
		t.Fatalf("AddAccount cash B: %v", err)
	}
	if err := ledgerB.AddAccount(revenue); err != nil {
		t.Fatalf("AddAccount revenue B: %v", err)
	}
	txB := Transaction{
		ID:          uuid.New(),
		Description: "sale B",
		Postings: []Posting{
			{AccountID: cash.ID, Amount: mustDecimal(t, "5.00")},
			{AccountID: revenue.ID, Amount: mustDecimal(t, "-5.00")},
		},
	}
	if err := ledgerB.RecordTransaction(txB); err != nil {
		t.Fatalf("RecordTransaction B: %v", err)
	}
	if err := replicaB.ProjectFrom(ledgerB); err != nil {
		t.Fatalf("ProjectFrom B: %v", err)
	}

	// Merge in both directions - convergence must not depend on order.
	if err := replicaA.Merge(replicaB); err != nil {
		t.Fatalf("Merge A<-B: %v", err)
	}
	if err := replicaB.Merge(replicaA); err != nil {
		t.Fatalf("Merge B<-A: %v", err)
	}

	mergedA, err := replicaA.ProjectTo()
	if err != nil {
		t.Fatalf("ProjectTo A: %v", err)
	}
	mergedB, err := replicaB.ProjectTo()
	if err != nil {
		t.Fatalf("ProjectTo B: %v", err)
	}
	mergedA.RebuildBalances()
	mergedB.RebuildBalances()

	if len(mergedA.Transactions()) != 2 {
		t.Fatalf("mergedA transaction count = %d, want 2", len(mergedA.Transactions()))
	}
	if len(mergedB.Transactions()) != 2 {
		t.Fatalf("mergedB transaction count = %d, want 2", len(mergedB.Transactions()))
	}
	if got, want := mergedA.Balance(cash.ID), mustDecimal(t, "25.00"); !got.Equal(want) {
		t.Fatalf("mergedA cash balance = %s, want %s", got, want)
	}
	if got, want := mergedB.Balance(cash.ID), mustDecimal(t, "25.00"); !got.Equal(want) {
		t.Fatalf("mergedB cash balance = %s, want %s", got, want)
	}
}

func TestSyncDocMergeIdempotentRedelivery(t *testing.T) {
	l, cash, _ := seedLedger(t)
	doc, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := doc.ProjectFrom(l); err != nil {
		t.Fatalf("ProjectFrom: %v", err)
	}
	delivered := doc.Save()

	receiver, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 2; i++ {
		peer, err := Load(delivered)
		if err != nil {
			t.Fatalf("Load delivery %d: %v", i, err)
		}
		if err := receiver.Merge(peer); err != nil {
			t.Fatalf("Merge delivery %d: %v", i, err)
		}
	}

	restored, err := receiver.ProjectTo()
	if err != nil {
		t.Fatalf("ProjectTo: %v", err)
	}
	restored.RebuildBalances()

	if got := len(restored.Transactions()); got != 1 {
		t.Fatalf("transaction count after duplicate merge = %d, want 1 (deduplicated)", got)
	}
	if got := restored.Balance(cash.ID); !got.Equal(mustDecimal(t, "75.00")) {
		t.Fatalf("cash balance after duplicate merge = %s, want 75.00", got)
	}
}

// TestSyncDocThreeReplicaConvergence checks spec §8 invariant #7: once every
// replica has observed every other's published bytes, all three converge to
// identical accounts, transactions, and balances - regardless of the order
// pairwise merges happened in.
func TestSyncDocThreeReplicaConvergence(t *testing.T) {
	base := NewLedger()
	cash := NewAccount("Cash", Asset)
	revenue := NewAccount("Sales", Revenue)
	if err := base.AddAccount(cash); err != nil {
		t.Fatalf("AddAccount cash: %v", err)
	}
	if err := base.AddAccount(revenue); err != nil {
		t.Fatalf("AddAccount revenue: %v", err)
	}
	baseDoc, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := baseDoc.ProjectFrom(base); err != nil {
		t.Fatalf("ProjectFrom: %v", err)
	}

	replicas := make([]*SyncDoc, 3)
	amounts := []string{"10.00", "20.00", "30.00"}
	for i := range replicas {
		r, err := Load(baseDoc.Save())
		if err != nil {
			t.Fatalf("Load replica %d: %v", i, err)
		}
		ledger := NewLedger()
		if err := ledger.AddAccount(cash); err != nil {
			t.Fatalf("AddAccount cash %d: %v", i, err)
		}
		if err := ledger.AddAccount(revenue); err != nil {
			t.Fatalf("AddAccount revenue %d: %v", i, err)
		}
		tx := Transaction{
			ID: uuid.New(),
			Postings: []Posting{
				{AccountID: cash.ID, Amount: mustDecimal(t, amounts[i])},
				{AccountID: revenue.ID, Amount: mustDecimal(t, "-"+amounts[i])},
			},
		}
		if err := ledger.RecordTransaction(tx); err != nil {
			t.Fatalf("RecordTransaction %d: %v", i, err)
		}
		if err := r.ProjectFrom(ledger); err != nil {
			t.Fatalf("ProjectFrom replica %d: %v", i, err)
		}
		replicas[i] = r
	}

	// Every replica observes every other's bytes, in a non-uniform order:
	// 0<-1, 1<-2, 2<-0, then a second pass to propagate transitively.
	pairs := [][2]int{{0, 1}, {1, 2}, {2, 0}, {0, 1}, {1, 2}, {2, 0}}
	for _, p := range pairs {
		dst, src := replicas[p[0]], replicas[p[1]]
		peer, err := Load(src.Save())
		if err != nil {
			t.Fatalf("Load for merge: %v", err)
		}
		if err := dst.Merge(peer); err != nil {
			t.Fatalf("Merge %d<-%d: %v", p[0], p[1], err)
		}
	}

	ledgers := make([]*Ledger, 3)
	for i, r := range replicas {
		l, err := r.ProjectTo()
		if err != nil {
			t.Fatalf("ProjectTo replica %d: %v", i, err)
		}
		l.RebuildBalances()
		ledgers[i] = l
	}

	for i := 1; i < 3; i++ {
		if got, want := len(ledgers[i].Transactions()), len(ledgers[0].Transactions()); got != want {
			t.Fatalf("replica %d transaction count = %d, want %d", i, got, want)
		}
		if got, want := ledgers[i].Balance(cash.ID), ledgers[0].Balance(cash.ID); !got.Equal(want) {
			t.Fatalf("replica %d cash balance = %s, want %s", i, got, want)
		}
		if got, want := ledgers[i].Balance(revenue.ID), ledgers[0].Balance(revenue.ID); !got.Equal(want) {
			t.Fatalf("replica %d revenue balance = %s, want %s", i, got, want)
		}
	}
	if got, want := ledgers[0].Balance(cash.ID), mustDecimal(t, "60.00"); !got.Equal(want) {
		t.Fatalf("converged cash balance = %s, want %s", got, want)
	}
	if len(ledgers[0].Transactions()) != 3 {
		t.Fatalf("converged transaction count = %d, want 3", len(ledgers[0].Transactions()))
	}
}

func TestSyncDocProjectToRejectsUnknownAccountCategory(t *testing.T) {
	doc, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	list, err := doc.ledgerPath().Path(keyAccounts).List()
	if err != nil {
		t.Fatalf("accounts list: %v", err)
	}
	item, err := list.AppendMap()
	if err != nil {
		t.Fatalf("AppendMap: %v", err)
	}
	if err := item.Set("id", uuid.New().String()); err != nil {
		t.Fatalf("set id: %v", err)
	}
	if err := item.Set("name", "Bad"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := item.Set("type", "Overdraft"); err != nil {
		t.Fatalf("set type: %v", err)
	}

	_, err = doc.ProjectTo()
	if err == nil {
		t.Fatalf("expected error for unknown account type, got nil")
	}
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("ProjectTo error = %v, want *DecodeError", err)
	}
}
