package persistence

import (
	"container/list"
	"context"
	"sync"

	"boxmint/internal/chain"
)

// CachedUtxoStore layers an in-memory LRU of disposed outpoints over a
// backing store. Tier 1 answers the hot path (an oracle that keeps
// returning the same claimed UTXOs on every scan); tier 2 is the backing
// store and stays authoritative. The cache only ever holds outpoints whose
// disposition is already durable, so an eviction or restart costs a lookup,
// never correctness.
type CachedUtxoStore struct {
	inner UtxoStore

	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

// DefaultCacheCapacity bounds the disposed-outpoint cache.
const DefaultCacheCapacity = 100_000

func NewCachedUtxoStore(inner UtxoStore, capacity int) *CachedUtxoStore {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &CachedUtxoStore{
		inner:    inner,
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

func cacheKey(utxo chain.Utxo, accountKey string) string {
	return accountKey + "|" + outpointKey(utxo)
}

// NewUtxosForAccount filters observed UTXOs through the LRU first and asks
// the backing store only about the rest. Outpoints the backing store
// excludes are warmed into the LRU so the next scan skips the lookup.
func (s *CachedUtxoStore) NewUtxosForAccount(ctx context.Context, observed []chain.Utxo, accountKey string) ([]chain.Utxo, error) {
	candidates := make([]chain.Utxo, 0, len(observed))
	s.mu.Lock()
	for _, u := range observed {
		if s.contains(cacheKey(u, accountKey)) {
			continue
		}
		candidates = append(candidates, u)
	}
	s.mu.Unlock()

	if len(candidates) == 0 {
		return nil, nil
	}

	unseen, err := s.inner.NewUtxosForAccount(ctx, candidates, accountKey)
	if err != nil {
		return nil, err
	}

	unseenSet := make(map[string]struct{}, len(unseen))
	for _, u := range unseen {
		unseenSet[outpointKey(u)] = struct{}{}
	}
	s.mu.Lock()
	for _, u := range candidates {
		if _, ok := unseenSet[outpointKey(u)]; !ok {
			s.add(cacheKey(u, accountKey))
		}
	}
	s.mu.Unlock()

	return unseen, nil
}

func (s *CachedUtxoStore) RecordClaim(ctx context.Context, utxo chain.Utxo, accountKey string, receiptID uint64, secondaryAsset bool) error {
	if err := s.inner.RecordClaim(ctx, utxo, accountKey, receiptID, secondaryAsset); err != nil {
		return err
	}
	s.mu.Lock()
	s.add(cacheKey(utxo, accountKey))
	s.mu.Unlock()
	return nil
}

func (s *CachedUtxoStore) Ignore(ctx context.Context, utxo chain.Utxo, accountKey string, reason IgnoreReason) error {
	if err := s.inner.Ignore(ctx, utxo, accountKey, reason); err != nil {
		return err
	}
	s.mu.Lock()
	s.add(cacheKey(utxo, accountKey))
	s.mu.Unlock()
	return nil
}

// Finalized entries are not dispositions; they pass straight through.
func (s *CachedUtxoStore) FinalizeClear(ctx context.Context, accountKey string) error {
	return s.inner.FinalizeClear(ctx, accountKey)
}

func (s *CachedUtxoStore) MarkFinalized(ctx context.Context, outpoint string, accountKey string) error {
	return s.inner.MarkFinalized(ctx, outpoint, accountKey)
}

// Size reports current cache occupancy.
func (s *CachedUtxoStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lruList.Len()
}

// contains checks and promotes. Caller holds mu.
func (s *CachedUtxoStore) contains(key string) bool {
	elem, exists := s.cache[key]
	if exists {
		s.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// add inserts or promotes, evicting the oldest entry over capacity. Caller
// holds mu.
func (s *CachedUtxoStore) add(key string) {
	if elem, exists := s.cache[key]; exists {
		s.lruList.MoveToFront(elem)
		return
	}
	s.cache[key] = s.lruList.PushFront(key)
	if s.lruList.Len() > s.capacity {
		oldest := s.lruList.Back()
		if oldest != nil {
			s.lruList.Remove(oldest)
			delete(s.cache, oldest.Value.(string))
		}
	}
}
