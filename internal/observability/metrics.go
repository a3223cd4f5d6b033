package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the minter.
type Metrics struct {
	// --- Balance updates ---
	UpdatesStarted   *prometheus.CounterVec
	UpdatesCompleted *prometheus.CounterVec
	UpdateDuration   *prometheus.HistogramVec
	GuardRejections  *prometheus.CounterVec
	GuardInFlight    prometheus.Gauge

	// --- UTXO dispositions ---
	UtxosObserved prometheus.Counter
	UtxosMinted   prometheus.Counter
	UtxosIgnored  *prometheus.CounterVec

	// --- Minting ---
	MintedAmount     prometheus.Counter
	CollateralLocked prometheus.Counter
	IncompleteLegs   prometheus.Counter
	IntentBacklog    prometheus.Gauge

	// --- Collaborators ---
	OracleCalls     *prometheus.CounterVec
	OracleDuration  *prometheus.HistogramVec
	LedgerTransfers *prometheus.CounterVec
	RateFetched     prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	callBuckets := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	return &Metrics{
		UpdatesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxmint_updates_started_total",
			Help: "Balance update attempts, including guard rejections",
		}, []string{"operation"}),

		UpdatesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxmint_updates_completed_total",
			Help: "Balance updates by terminal outcome",
		}, []string{"operation", "outcome"}),

		UpdateDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boxmint_update_duration_seconds",
			Help:    "End-to-end balance update duration",
			Buckets: callBuckets,
		}, []string{"operation"}),

		GuardRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxmint_guard_rejections_total",
			Help: "Guard admission failures (already_processing/capacity)",
		}, []string{"reason"}),

		GuardInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "boxmint_guard_in_flight",
			Help: "Accounts with an in-flight operation",
		}),

		UtxosObserved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxmint_utxos_observed_total",
			Help: "New UTXOs returned by the oracle after dedup",
		}),

		UtxosMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxmint_utxos_minted_total",
			Help: "UTXOs claimed after successful minting",
		}),

		UtxosIgnored: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxmint_utxos_ignored_total",
			Help: "UTXOs permanently excluded from minting",
		}, []string{"reason"}),

		MintedAmount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxmint_minted_amount_total",
			Help: "Stablecoin minted, in minor units",
		}),

		CollateralLocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxmint_collateral_locked_sats_total",
			Help: "Collateral credited to boxes, in satoshis",
		}),

		IncompleteLegs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxmint_incomplete_intents_total",
			Help: "Multi-leg operations left incomplete for operator review",
		}),

		IntentBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "boxmint_intent_backlog",
			Help: "Incomplete mint intents awaiting reconciliation",
		}),

		OracleCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxmint_oracle_calls_total",
			Help: "Collaborator calls by target and status",
		}, []string{"target", "status"}),

		OracleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boxmint_oracle_call_duration_seconds",
			Help:    "Collaborator call latency",
			Buckets: callBuckets,
		}, []string{"target"}),

		LedgerTransfers: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxmint_ledger_transfers_total",
			Help: "Ledger transfer legs by asset and status",
		}, []string{"asset", "status"}),

		RateFetched: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "boxmint_btc_rate",
			Help: "Last BTC rate used, fixed-point 1e9",
		}),
	}
}
