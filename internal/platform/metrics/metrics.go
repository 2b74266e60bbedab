// Package metrics exposes Prometheus instrumentation for the write-path engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthFailuresTotal counts rejected requests by failure reason.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_auth_failures_total",
			Help: "Total number of rejected write-path requests by reason",
		},
		[]string{"reason"},
	)

	// ReplaysDetectedTotal counts nonce replays caught by the replay guard.
	ReplaysDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agora_replays_detected_total",
			Help: "Total number of replayed nonces rejected",
		},
	)

	// IdempotentHitsTotal counts retries served from the idempotency cache.
	IdempotentHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_idempotent_hits_total",
			Help: "Total number of requests short-circuited by the idempotency cache",
		},
		[]string{"operation"},
	)

	// LedgerCommitsTotal counts committed ledger mutations by operation.
	LedgerCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_ledger_commits_total",
			Help: "Total number of committed ledger mutations by operation",
		},
		[]string{"operation"},
	)

	// LedgerRejectionsTotal counts rejected ledger mutations by error code.
	LedgerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_ledger_rejections_total",
			Help: "Total number of rejected ledger mutations by error code",
		},
		[]string{"code"},
	)

	// ClaimRedemptionsTotal counts claim-token redemption outcomes.
	ClaimRedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_claim_redemptions_total",
			Help: "Total number of claim-token redemptions by outcome",
		},
		[]string{"outcome"},
	)

	// RequestDuration tracks write-path request latency by operation.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agora_request_duration_seconds",
			Help:    "Write-path request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
