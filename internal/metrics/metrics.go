// Package metrics holds the Prometheus collectors for payment reconciliation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "academy"

var (
	// ProofVerifications counts proof checks by method and outcome reason.
	ProofVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "proof_verifications_total",
		Help:      "Payment proof verification attempts by method and outcome.",
	}, []string{"method", "outcome"})

	// Settlements counts settlement attempts by outcome.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "settlements_total",
		Help:      "Settlement attempts by outcome.",
	}, []string{"outcome"})

	// RecoveryActions counts admin and fallback reconciliation actions.
	RecoveryActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "recovery_actions_total",
		Help:      "Reconciliation recovery actions by kind and outcome.",
	}, []string{"action", "outcome"})

	// SideEffectFailures counts dropped post-settlement side effects.
	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "side_effect_failures_total",
		Help:      "Post-settlement side effects that could not be queued or delivered.",
	}, []string{"kind"})

	// SlipVerifyLatency observes slip verification API round trips.
	SlipVerifyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "slipverify",
		Name:      "request_duration_seconds",
		Help:      "Slip verification API latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})
)
