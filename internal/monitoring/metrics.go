// Package monitoring exposes the service's Prometheus collectors.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cobrowse",
		Name:      "sessions_created_total",
		Help:      "Sessions successfully provisioned and persisted.",
	})

	SessionsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cobrowse",
		Name:      "sessions_terminated_total",
		Help:      "Sessions marked inactive, by termination reason.",
	}, []string{"reason"})

	RoomConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cobrowse",
		Name:      "room_connections",
		Help:      "Live websocket connections across all rooms.",
	})

	RoomEventsPosted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cobrowse",
		Name:      "room_events_posted_total",
		Help:      "Events appended to polling-fallback room logs.",
	})
)
