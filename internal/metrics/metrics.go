// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package metrics provides Prometheus instrumentation for the sync core:
// pending-queue drains, realtime connection health, session operations,
// and reconciliation passes. Collectors are package-level and registered
// via promauto; the facade serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pending operation queue.

	SyncOpsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsync_pending_ops_processed_total",
			Help: "Pending sync operations processed by drain passes",
		},
		[]string{"type", "outcome"}, // outcome: "synced", "failed", "discarded", "deferred", "dropped"
	)

	SyncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repsync_pending_queue_depth",
			Help: "Pending sync operations currently queued",
		},
	)

	SyncDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repsync_drain_duration_seconds",
			Help:    "Duration of pending-queue drain passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Realtime transport.

	RealtimeConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repsync_realtime_connected",
			Help: "Whether the realtime connection is currently open (0 or 1)",
		},
	)

	RealtimeReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repsync_realtime_reconnects_total",
			Help: "Reconnect attempts scheduled after connection loss",
		},
	)

	RealtimeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsync_realtime_messages_total",
			Help: "Realtime messages received by type",
		},
		[]string{"type"},
	)

	RealtimeDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repsync_realtime_decode_errors_total",
			Help: "Realtime messages dropped because they failed to decode",
		},
	)

	// Session lifecycle.

	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsync_sessions_started_total",
			Help: "Workout sessions started, by identifier origin",
		},
		[]string{"origin"}, // "server", "local"
	)

	SetsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsync_sets_recorded_total",
			Help: "Sets recorded locally, by sync path",
		},
		[]string{"path"}, // "direct", "queued"
	)

	// Reconciliation.

	ReconciliationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsync_reconciliation_runs_total",
			Help: "Server reconciliation passes by outcome",
		},
		[]string{"outcome"}, // "ok", "aborted", "skipped"
	)

	// Facade HTTP surface.

	FacadeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsync_facade_requests_total",
			Help: "Facade HTTP requests by method, route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	FacadeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repsync_facade_request_duration_seconds",
			Help:    "Facade HTTP request duration by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Joint sessions.

	JointTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsync_joint_state_transitions_total",
			Help: "Joint session coordinator state transitions",
		},
		[]string{"to"},
	)
)

// RecordOp counts one drain-pass outcome for an operation type.
func RecordOp(opType, outcome string) {
	SyncOpsProcessed.WithLabelValues(opType, outcome).Inc()
}

// UpdateQueueDepth sets the pending-queue depth gauge.
func UpdateQueueDepth(n int) {
	SyncQueueDepth.Set(float64(n))
}

// SetRealtimeConnected flips the connection gauge.
func SetRealtimeConnected(connected bool) {
	if connected {
		RealtimeConnected.Set(1)
		return
	}
	RealtimeConnected.Set(0)
}

// RecordMessage counts one received realtime message.
func RecordMessage(msgType string) {
	RealtimeMessages.WithLabelValues(msgType).Inc()
}

// RecordFacadeRequest counts one completed facade request.
func RecordFacadeRequest(method, route, status string, seconds float64) {
	FacadeRequests.WithLabelValues(method, route, status).Inc()
	FacadeRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordJointTransition counts one coordinator state transition.
func RecordJointTransition(to string) {
	JointTransitions.WithLabelValues(to).Inc()
}
