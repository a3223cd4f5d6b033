package persistence_test

import (
	"context"
	"testing"

	"boxmint/internal/chain"
	"boxmint/internal/persistence"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
)

func utxo(seed byte, value uint64) chain.Utxo {
	var h chainhash.Hash
	h[0] = seed
	return chain.Utxo{
		OutPoint: wire.OutPoint{Hash: h, Index: 0},
		Value:    value,
		Height:   100,
	}
}

func TestNewUtxosForAccount_ExcludesDisposed(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryUtxoStore()

	a, b, c := utxo(1, 10_000), utxo(2, 20_000), utxo(3, 546)
	observed := []chain.Utxo{a, b, c}

	fresh, err := store.NewUtxosForAccount(ctx, observed, "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 3 {
		t.Fatalf("got %d fresh utxos, want 3", len(fresh))
	}

	if err := store.RecordClaim(ctx, a, "acct-1", 7, false); err != nil {
		t.Fatalf("record claim: %v", err)
	}
	if err := store.Ignore(ctx, c, "acct-1", persistence.IgnoreInscription); err != nil {
		t.Fatalf("ignore: %v", err)
	}

	fresh, err = store.NewUtxosForAccount(ctx, observed, "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 1 || fresh[0].Value != b.Value {
		t.Errorf("got %v, want only the unclaimed utxo with value %d", fresh, b.Value)
	}
}

func TestNewUtxosForAccount_AccountsArePartitions(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryUtxoStore()

	a := utxo(1, 10_000)
	if err := store.RecordClaim(ctx, a, "acct-1", 1, false); err != nil {
		t.Fatalf("record claim: %v", err)
	}

	fresh, err := store.NewUtxosForAccount(ctx, []chain.Utxo{a}, "acct-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh) != 1 {
		t.Errorf("a claim for one account must not hide the outpoint from another account")
	}
}

func TestRecordClaim_RejectsDoubleDisposition(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryUtxoStore()

	a := utxo(1, 10_000)
	if err := store.RecordClaim(ctx, a, "acct-1", 1, false); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := store.RecordClaim(ctx, a, "acct-1", 2, false); err == nil {
		t.Error("second claim of the same outpoint must fail")
	}
	if err := store.Ignore(ctx, a, "acct-1", persistence.IgnoreDust); err == nil {
		t.Error("ignoring an already-claimed outpoint must fail")
	}
}

func TestFinalizeClear(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryUtxoStore()

	if err := store.MarkFinalized(ctx, "aa:0", "acct-1"); err != nil {
		t.Fatalf("mark finalized: %v", err)
	}
	if got := store.FinalizedCount("acct-1"); got != 1 {
		t.Fatalf("got %d finalized entries, want 1", got)
	}

	if err := store.FinalizeClear(ctx, "acct-1"); err != nil {
		t.Fatalf("finalize clear: %v", err)
	}
	if got := store.FinalizedCount("acct-1"); got != 0 {
		t.Errorf("got %d finalized entries after clear, want 0", got)
	}
}

func TestIntentStore_TracksPartialLegs(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryIntentStore()

	intent := &persistence.MintIntent{
		ID:          uuid.New(),
		AccountKey:  "acct-1",
		Kind:        "deposit",
		Satoshis:    100_000,
		Loan:        4_000_000_000,
		LegsPlanned: 3,
	}
	if err := store.Create(ctx, intent); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if err := store.MarkLeg(ctx, intent.ID, 11); err != nil {
		t.Fatalf("mark leg: %v", err)
	}

	incomplete, err := store.ListIncomplete(ctx, 10)
	if err != nil {
		t.Fatalf("list incomplete: %v", err)
	}
	if len(incomplete) != 1 {
		t.Fatalf("got %d incomplete intents, want 1", len(incomplete))
	}
	if incomplete[0].LegsCompleted != 1 {
		t.Errorf("got %d completed legs, want 1", incomplete[0].LegsCompleted)
	}
	if len(incomplete[0].Receipts) != 1 || incomplete[0].Receipts[0] != 11 {
		t.Errorf("got receipts %v, want [11]", incomplete[0].Receipts)
	}

	if err := store.Complete(ctx, intent.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	incomplete, _ = store.ListIncomplete(ctx, 10)
	if len(incomplete) != 0 {
		t.Errorf("completed intent still listed as incomplete")
	}
}
