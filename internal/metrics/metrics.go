// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Exports counts generated calendar artifacts by kind
	// ("event", "season", "link").
	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "f1sync_exports_total",
		Help: "Number of calendar artifacts generated, by kind",
	}, []string{"kind"})

	// FallbackWindows counts occurrence windows anchored at "now" because
	// the event date/time could not be parsed.
	FallbackWindows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "f1sync_fallback_windows_total",
		Help: "Number of occurrence windows derived from the current instant after a parse failure",
	})

	// SyncRuns counts SyncEvents outcomes
	// ("ok", "not_initialized", "auth_failed", "batch_failed", "busy").
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "f1sync_sync_runs_total",
		Help: "Number of calendar sync attempts, by outcome",
	}, []string{"outcome"})

	// SyncedEvents counts insert operations submitted in batches.
	SyncedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "f1sync_synced_events_total",
		Help: "Number of event insert operations submitted to the provider",
	})

	// InitDuration observes how long dependency readiness took.
	InitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "f1sync_init_duration_seconds",
		Help:    "Time spent waiting for provider dependencies during initialization",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// ScheduleEvents is the number of events in the currently loaded schedule.
	ScheduleEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "f1sync_schedule_events",
		Help: "Number of event records in the loaded schedule",
	})
)
