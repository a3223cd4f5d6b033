package persistence_test

import (
	"context"
	"testing"

	"boxmint/internal/chain"
	"boxmint/internal/persistence"
	"boxmint/internal/testutil"

	"github.com/google/uuid"
)

func TestPostgresUtxoStore_DispositionsSurviveRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := persistence.NewPostgresUtxoStore(db)
	acct := "integration-acct"

	claimed := utxo(0xa1, 50_000)
	ignored := utxo(0xa2, 400)
	fresh := utxo(0xa3, 30_000)

	if err := store.RecordClaim(ctx, claimed, acct, 42, false); err != nil {
		t.Fatalf("RecordClaim: %v", err)
	}
	if err := store.Ignore(ctx, ignored, acct, persistence.IgnoreDust); err != nil {
		t.Fatalf("Ignore: %v", err)
	}

	got, err := store.NewUtxosForAccount(ctx, []chain.Utxo{claimed, ignored, fresh}, acct)
	if err != nil {
		t.Fatalf("NewUtxosForAccount: %v", err)
	}
	if len(got) != 1 || got[0].OutPoint != fresh.OutPoint {
		t.Fatalf("got %v, want only the undisposed outpoint", got)
	}

	// A second claim of the same outpoint must be rejected, not silently
	// overwritten.
	if err := store.RecordClaim(ctx, claimed, acct, 43, false); err == nil {
		t.Fatal("RecordClaim on disposed outpoint: got nil error")
	}

	// Other accounts see their own disposition space.
	got, err = store.NewUtxosForAccount(ctx, []chain.Utxo{claimed}, "other-acct")
	if err != nil {
		t.Fatalf("NewUtxosForAccount: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d utxos for other account, want 1", len(got))
	}
}

func TestPostgresUtxoStore_FinalizedSet(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := persistence.NewPostgresUtxoStore(db)
	acct := "integration-acct"

	if err := store.MarkFinalized(ctx, "deadbeef:0", acct); err != nil {
		t.Fatalf("MarkFinalized: %v", err)
	}
	// Marking twice is a no-op.
	if err := store.MarkFinalized(ctx, "deadbeef:0", acct); err != nil {
		t.Fatalf("MarkFinalized again: %v", err)
	}
	if err := store.FinalizeClear(ctx, acct); err != nil {
		t.Fatalf("FinalizeClear: %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM minter.finalized WHERE account = $1`, acct).Scan(&n); err != nil {
		t.Fatalf("count finalized: %v", err)
	}
	if n != 0 {
		t.Fatalf("finalized rows after clear = %d, want 0", n)
	}
}

func TestPostgresIntentStore_LegLifecycle(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := persistence.NewPostgresIntentStore(db)

	stalled := &persistence.MintIntent{
		ID:          uuid.New(),
		AccountKey:  "integration-acct",
		Kind:        "deposit",
		Satoshis:    100_000,
		Loan:        4_000_000_000,
		LegsPlanned: 3,
	}
	if err := store.Create(ctx, stalled); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.MarkLeg(ctx, stalled.ID, 7); err != nil {
		t.Fatalf("MarkLeg: %v", err)
	}

	finished := &persistence.MintIntent{
		ID:          uuid.New(),
		AccountKey:  "integration-acct",
		Kind:        "redeem",
		Satoshis:    100_000,
		LegsPlanned: 2,
	}
	if err := store.Create(ctx, finished); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Complete(ctx, finished.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	incomplete, err := store.ListIncomplete(ctx, 10)
	if err != nil {
		t.Fatalf("ListIncomplete: %v", err)
	}
	if len(incomplete) != 1 {
		t.Fatalf("got %d incomplete intents, want 1", len(incomplete))
	}
	in := incomplete[0]
	if in.ID != stalled.ID {
		t.Fatalf("incomplete intent ID = %s, want %s", in.ID, stalled.ID)
	}
	if in.LegsCompleted != 1 || in.LegsPlanned != 3 {
		t.Fatalf("legs = %d/%d, want 1/3", in.LegsCompleted, in.LegsPlanned)
	}
}
