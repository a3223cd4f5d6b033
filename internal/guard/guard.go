// Package guard provides per-account single-flight admission control for
// balance-update operations.
package guard

import (
	"errors"
	"sync"
)

var (
	// ErrAlreadyProcessing: another balance update for the same account is in
	// flight. The caller should retry later rather than queue.
	ErrAlreadyProcessing = errors.New("an update for this account is already being processed")

	// ErrTooManyConcurrent: the global cap on simultaneously processing
	// accounts is reached.
	ErrTooManyConcurrent = errors.New("too many concurrent requests")
)

// Guard bounds concurrent balance-update operations: at most one per account
// key and at most maxConcurrent across all accounts. There is no queueing:
// a second caller for the same key fails immediately, since the guarded
// operation spans many external round-trips and a queued duplicate would
// only repeat them.
type Guard struct {
	mu            sync.Mutex
	inFlight      map[string]struct{}
	maxConcurrent int
}

// DefaultMaxConcurrent matches the bound the engine was operated with.
const DefaultMaxConcurrent = 100

func New(maxConcurrent int) *Guard {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Guard{
		inFlight:      make(map[string]struct{}),
		maxConcurrent: maxConcurrent,
	}
}

// Token marks one in-flight operation. Release must run on every exit path;
// releasing twice is safe.
type Token struct {
	guard *Guard
	key   string
	once  sync.Once
}

// Acquire admits one operation for the account key or fails immediately.
func (g *Guard) Acquire(key string) (*Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[key]; busy {
		return nil, ErrAlreadyProcessing
	}
	if len(g.inFlight) >= g.maxConcurrent {
		return nil, ErrTooManyConcurrent
	}

	g.inFlight[key] = struct{}{}
	return &Token{guard: g, key: key}, nil
}

// InFlight reports the number of accounts currently processing.
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}

func (t *Token) Release() {
	t.once.Do(func() {
		t.guard.mu.Lock()
		delete(t.guard.inFlight, t.key)
		t.guard.mu.Unlock()
	})
}
