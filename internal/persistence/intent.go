package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MintIntent is the audit record written around a multi-leg ledger mutation.
// It is persisted before the first leg and updated as legs complete. The
// engine never compensates a partial mint automatically; intents with
// LegsCompleted < LegsPlanned are the input to an operator reconciliation
// sweep.
type MintIntent struct {
	ID            uuid.UUID
	AccountKey    string
	Kind          string // "deposit", "redeem" or "transfer"
	Satoshis      uint64
	Loan          uint64
	LegsPlanned   int
	LegsCompleted int
	Receipts      []uint64
	Completed     bool
	CreatedAt     time.Time
}

// IntentStore persists mint intents.
type IntentStore interface {
	Create(ctx context.Context, intent *MintIntent) error
	MarkLeg(ctx context.Context, id uuid.UUID, receiptID uint64) error
	Complete(ctx context.Context, id uuid.UUID) error
	ListIncomplete(ctx context.Context, limit int) ([]MintIntent, error)
}

// PostgresIntentStore implements IntentStore on minter.mint_intents.
type PostgresIntentStore struct {
	db *sql.DB
}

func NewPostgresIntentStore(db *sql.DB) *PostgresIntentStore {
	return &PostgresIntentStore{db: db}
}

func (s *PostgresIntentStore) Create(ctx context.Context, intent *MintIntent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO minter.mint_intents (id, account, kind, satoshis, loan, legs_planned, legs_completed, completed)
		VALUES ($1, $2, $3, $4, $5, $6, 0, FALSE)`,
		intent.ID, intent.AccountKey, intent.Kind, int64(intent.Satoshis), int64(intent.Loan), intent.LegsPlanned,
	)
	if err != nil {
		return fmt.Errorf("create mint intent: %w", err)
	}
	return nil
}

func (s *PostgresIntentStore) MarkLeg(ctx context.Context, id uuid.UUID, receiptID uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE minter.mint_intents
		SET legs_completed = legs_completed + 1,
		    receipts = array_append(receipts, $2)
		WHERE id = $1`,
		id, int64(receiptID),
	)
	if err != nil {
		return fmt.Errorf("mark intent leg: %w", err)
	}
	return nil
}

func (s *PostgresIntentStore) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE minter.mint_intents SET completed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete intent: %w", err)
	}
	return nil
}

func (s *PostgresIntentStore) ListIncomplete(ctx context.Context, limit int) ([]MintIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, kind, satoshis, loan, legs_planned, legs_completed, created_at
		FROM minter.mint_intents
		WHERE NOT completed
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list incomplete intents: %w", err)
	}
	defer rows.Close()

	var intents []MintIntent
	for rows.Next() {
		var in MintIntent
		var sats, loan int64
		if err := rows.Scan(&in.ID, &in.AccountKey, &in.Kind, &sats, &loan, &in.LegsPlanned, &in.LegsCompleted, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		in.Satoshis = uint64(sats)
		in.Loan = uint64(loan)
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

// MemoryIntentStore keeps intents in memory for tests.
type MemoryIntentStore struct {
	mu      sync.Mutex
	intents map[uuid.UUID]*MintIntent
	order   []uuid.UUID
}

func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{intents: make(map[uuid.UUID]*MintIntent)}
}

func (s *MemoryIntentStore) Create(_ context.Context, intent *MintIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *intent
	cp.CreatedAt = time.Now()
	s.intents[intent.ID] = &cp
	s.order = append(s.order, intent.ID)
	return nil
}

func (s *MemoryIntentStore) MarkLeg(_ context.Context, id uuid.UUID, receiptID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return fmt.Errorf("unknown intent %s", id)
	}
	in.LegsCompleted++
	in.Receipts = append(in.Receipts, receiptID)
	return nil
}

func (s *MemoryIntentStore) Complete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return fmt.Errorf("unknown intent %s", id)
	}
	in.Completed = true
	return nil
}

func (s *MemoryIntentStore) ListIncomplete(_ context.Context, limit int) ([]MintIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MintIntent
	for _, id := range s.order {
		in := s.intents[id]
		if !in.Completed {
			out = append(out, *in)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
