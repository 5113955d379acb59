// Package metrics exposes prometheus counters for the orchestration core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksReceived counts inbound webhook deliveries by outcome.
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vunnix",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook deliveries by status (accepted, ignored, duplicate).",
	}, []string{"status"})

	// TasksDispatched counts tasks created from webhook intents.
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vunnix",
		Subsystem: "tasks",
		Name:      "dispatched_total",
		Help:      "Tasks dispatched by type.",
	}, []string{"type"})

	// TasksCompleted counts terminal task transitions.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vunnix",
		Subsystem: "tasks",
		Name:      "terminal_total",
		Help:      "Tasks reaching a terminal state, by state.",
	}, []string{"status"})

	// ResultsReceived counts executor result submissions by HTTP outcome.
	ResultsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vunnix",
		Subsystem: "results",
		Name:      "submissions_total",
		Help:      "Executor result submissions by outcome.",
	}, []string{"outcome"})

	// ReconcileActions counts reconciliation side effects against GitLab.
	ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vunnix",
		Subsystem: "reconcile",
		Name:      "actions_total",
		Help:      "Reconciliation actions performed, by kind.",
	}, []string{"kind"})

	// TokensUsed accumulates executor token consumption.
	TokensUsed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vunnix",
		Subsystem: "tasks",
		Name:      "tokens_used_total",
		Help:      "Total tokens reported by the executor.",
	})
)
