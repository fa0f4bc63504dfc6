package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codeduel"

var (
	// GamesCreated counts games opened by the lifecycle controller.
	GamesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_created_total",
		Help:      "Games created.",
	})

	// Transitions counts lifecycle state changes.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "game_transitions_total",
		Help:      "Game state transitions by source and target state.",
	}, []string{"from", "to"})

	// Triggers counts scheduled triggers by how they were applied.
	Triggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_triggers_total",
		Help:      "Lifecycle triggers processed, by outcome (applied, skipped, failed).",
	}, []string{"outcome"})

	// RateLimited counts rejected player actions.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Player actions rejected by cooldown, by action.",
	}, []string{"action"})

	// Generations counts resolved co-pilot turns.
	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generations_total",
		Help:      "Resolved AI turns by status.",
	}, []string{"status"})

	// GenerationSeconds observes co-pilot latency.
	GenerationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Time from prompt dispatch to resolution.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// CaseResults counts graded test cases.
	CaseResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "test_case_results_total",
		Help:      "Graded test cases by run mode and outcome.",
	}, []string{"mode", "outcome"})
)
