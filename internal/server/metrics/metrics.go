// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HeartbeatsIngested counts successfully applied heartbeats.
	HeartbeatsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greenops",
		Name:      "heartbeats_ingested_total",
		Help:      "Heartbeats fully applied (status, energy and history updated).",
	})

	// HeartbeatsRejected counts heartbeats rejected at validation.
	HeartbeatsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greenops",
		Name:      "heartbeats_rejected_total",
		Help:      "Heartbeats rejected before any state mutation.",
	})

	// CommandsDelivered counts pending commands handed to agents.
	CommandsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greenops",
		Name:      "commands_delivered_total",
		Help:      "Pending commands returned to polling agents.",
	})

	// MachinesSweptOffline counts offline transitions made by the sweeper.
	MachinesSweptOffline = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greenops",
		Name:      "machines_swept_offline_total",
		Help:      "Machines transitioned to offline by the background sweep.",
	})

	// CommandsExpired counts commands expired by TTL.
	CommandsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greenops",
		Name:      "commands_expired_total",
		Help:      "Pending commands expired by the TTL sweep or displaced on enqueue.",
	})

	// SweepFailures counts sweep ticks that hit a storage error.
	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greenops",
		Name:      "sweep_failures_total",
		Help:      "Background sweep ticks that failed and will retry next tick.",
	})
)
