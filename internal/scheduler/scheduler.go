// Package scheduler hands follow-up work to downstream consumers over NATS.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Task kinds published as boxmint.tasks.{kind}.
const (
	// TaskProcessLogic runs the downstream box-state recomputation after a
	// balance update settles.
	TaskProcessLogic = "process_logic"
)

// Scheduler schedules fire-and-forget downstream tasks. A failed publish is
// logged and dropped; scheduling never blocks or fails the operation that
// triggered it, since downstream consumers can recompute from the ledgers.
type Scheduler interface {
	Schedule(ctx context.Context, kind string, payload any)
}

type task struct {
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NATSScheduler publishes tasks to a jetstream stream.
type NATSScheduler struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewNATSScheduler(js jetstream.JetStream, log zerolog.Logger) *NATSScheduler {
	return &NATSScheduler{js: js, log: log}
}

func (s *NATSScheduler) Schedule(ctx context.Context, kind string, payload any) {
	data, err := json.Marshal(task{Kind: kind, Payload: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		s.log.Warn().Err(err).Str("kind", kind).Msg("failed to encode task")
		return
	}

	subject := fmt.Sprintf("boxmint.tasks.%s", kind)
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		// Non-fatal: consumers can recompute from the ledger state.
		s.log.Warn().Err(err).Str("subject", subject).Msg("task publish failed")
	}
}

// EnsureTaskStream creates the downstream task stream.
func EnsureTaskStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "BOXMINT_TASKS",
		Subjects:  []string{"boxmint.tasks.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create task stream: %w", err)
	}
	return nil
}

// NopScheduler discards all tasks. Used in tests and when NATS is not
// configured.
type NopScheduler struct{}

func (NopScheduler) Schedule(context.Context, string, any) {}
