package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"boxmint/internal/persistence"
)

func TestSweepOnce_CountsOnlyIncomplete(t *testing.T) {
	ctx := context.Background()
	intents := persistence.NewMemoryIntentStore()

	stalled := &persistence.MintIntent{ID: uuid.New(), AccountKey: "a", Kind: "deposit", LegsPlanned: 3}
	if err := intents.Create(ctx, stalled); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := intents.MarkLeg(ctx, stalled.ID, 1); err != nil {
		t.Fatalf("MarkLeg: %v", err)
	}

	done := &persistence.MintIntent{ID: uuid.New(), AccountKey: "a", Kind: "redeem", LegsPlanned: 2}
	if err := intents.Create(ctx, done); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := intents.Complete(ctx, done.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	s := NewSweeper(intents, time.Minute, nil, zerolog.Nop())
	n, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("backlog = %d, want 1", n)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s := NewSweeper(persistence.NewMemoryIntentStore(), time.Millisecond, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
