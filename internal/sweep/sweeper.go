// Package sweep surfaces multi-leg operations that stopped partway. The
// engine never compensates a partial mint on its own; the sweeper keeps the
// backlog visible so an operator can settle the remaining legs by hand.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"boxmint/internal/observability"
	"boxmint/internal/persistence"
)

const (
	DefaultInterval = time.Minute
	DefaultLimit    = 100
)

// Sweeper periodically lists incomplete mint intents, logs them, and
// publishes the backlog size as a gauge.
type Sweeper struct {
	intents  persistence.IntentStore
	interval time.Duration
	limit    int
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewSweeper(intents persistence.IntentStore, interval time.Duration, metrics *observability.Metrics, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		intents:  intents,
		interval: interval,
		limit:    DefaultLimit,
		metrics:  metrics,
		log:      log,
	}
}

// Run sweeps on a fixed interval until the context is canceled. Sweep
// failures are logged and retried next tick, never fatal.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Warn().Err(err).Msg("intent sweep failed")
			}
		}
	}
}

// SweepOnce reports the current backlog and returns its size.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	incomplete, err := s.intents.ListIncomplete(ctx, s.limit)
	if err != nil {
		return 0, err
	}

	for _, in := range incomplete {
		s.log.Warn().
			Str("intent_id", in.ID.String()).
			Str("account", in.AccountKey).
			Str("kind", in.Kind).
			Int("legs_completed", in.LegsCompleted).
			Int("legs_planned", in.LegsPlanned).
			Time("created_at", in.CreatedAt).
			Msg("incomplete mint intent awaiting reconciliation")
	}

	if s.metrics != nil {
		s.metrics.IntentBacklog.Set(float64(len(incomplete)))
	}
	return len(incomplete), nil
}
