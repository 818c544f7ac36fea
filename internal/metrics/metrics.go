// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by method, chi route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowstate_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowstate_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// NoteWritesTotal counts create/update/delete/publish outcomes
	// (ok, conflict, not_found, invalid, error).
	NoteWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowstate_note_writes_total",
			Help: "Note mutations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	// LinkDuration measures one note's relink (vector, candidates, top-K, swap).
	LinkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowstate_link_duration_seconds",
			Help:    "Time spent recomputing a note's similarity edges",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	NotesReindexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowstate_notes_reindexed_total",
			Help: "Notes processed by bulk reindex runs",
		},
	)

	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowstate_sse_clients",
			Help: "Connected Server-Sent Events clients",
		},
	)

	SSEEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowstate_sse_events_total",
			Help: "Events broadcast to SSE clients by type",
		},
		[]string{"type"},
	)

	// OutboxDrainsTotal counts drain passes by result (ok, unauthorized, transient, error).
	OutboxDrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowstate_outbox_drains_total",
			Help: "Outbox drain passes by result",
		},
		[]string{"result"},
	)

	// OutboxEntriesTotal counts per-entry outcomes (applied, rejected).
	OutboxEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowstate_outbox_entries_total",
			Help: "Outbox entries replayed by outcome",
		},
		[]string{"outcome"},
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowstate_outbox_pending",
			Help: "Entries remaining in the outbox after the last drain",
		},
	)
)
