package persistence

import (
	"context"
	"fmt"
	"sync"

	"boxmint/internal/chain"
)

type disposition struct {
	status    string // "claimed" or "ignored"
	reason    IgnoreReason
	receiptID uint64
	secondary bool
	value     uint64
}

// MemoryUtxoStore is an in-memory UtxoStore with the same disposition
// semantics as the Postgres store. Used by tests and by processes that run
// without a database.
type MemoryUtxoStore struct {
	mu           sync.Mutex
	dispositions map[string]map[string]disposition // account -> outpoint -> disposition
	finalized    map[string]map[string]struct{}    // account -> outpoint set
}

func NewMemoryUtxoStore() *MemoryUtxoStore {
	return &MemoryUtxoStore{
		dispositions: make(map[string]map[string]disposition),
		finalized:    make(map[string]map[string]struct{}),
	}
}

func (s *MemoryUtxoStore) NewUtxosForAccount(_ context.Context, observed []chain.Utxo, accountKey string) ([]chain.Utxo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.dispositions[accountKey]
	var fresh []chain.Utxo
	for _, u := range observed {
		if _, dup := seen[outpointKey(u)]; !dup {
			fresh = append(fresh, u)
		}
	}
	return fresh, nil
}

func (s *MemoryUtxoStore) RecordClaim(_ context.Context, utxo chain.Utxo, accountKey string, receiptID uint64, secondaryAsset bool) error {
	return s.record(utxo, accountKey, disposition{
		status:    "claimed",
		receiptID: receiptID,
		secondary: secondaryAsset,
		value:     utxo.Value,
	})
}

func (s *MemoryUtxoStore) Ignore(_ context.Context, utxo chain.Utxo, accountKey string, reason IgnoreReason) error {
	return s.record(utxo, accountKey, disposition{
		status: "ignored",
		reason: reason,
		value:  utxo.Value,
	})
}

func (s *MemoryUtxoStore) record(utxo chain.Utxo, accountKey string, d disposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := outpointKey(utxo)
	if _, dup := s.dispositions[accountKey][key]; dup {
		return fmt.Errorf("outpoint %s already has a disposition for account %s", key, accountKey)
	}
	if s.dispositions[accountKey] == nil {
		s.dispositions[accountKey] = make(map[string]disposition)
	}
	s.dispositions[accountKey][key] = d
	return nil
}

func (s *MemoryUtxoStore) FinalizeClear(_ context.Context, accountKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.finalized, accountKey)
	return nil
}

func (s *MemoryUtxoStore) MarkFinalized(_ context.Context, outpoint string, accountKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized[accountKey] == nil {
		s.finalized[accountKey] = make(map[string]struct{})
	}
	s.finalized[accountKey][outpoint] = struct{}{}
	return nil
}

// Claimed reports whether the outpoint is claimed for the account, and the
// receipt recorded with the claim. Test helper.
func (s *MemoryUtxoStore) Claimed(utxo chain.Utxo, accountKey string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispositions[accountKey][outpointKey(utxo)]
	if !ok || d.status != "claimed" {
		return 0, false
	}
	return d.receiptID, true
}

// Ignored reports whether the outpoint is ignored for the account and why.
// Test helper.
func (s *MemoryUtxoStore) Ignored(utxo chain.Utxo, accountKey string) (IgnoreReason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispositions[accountKey][outpointKey(utxo)]
	if !ok || d.status != "ignored" {
		return "", false
	}
	return d.reason, true
}

// FinalizedCount reports the size of the account's finalized set. Test helper.
func (s *MemoryUtxoStore) FinalizedCount(accountKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finalized[accountKey])
}
