// Package metrics exposes the process-wide Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LiveMeetings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confab_meetings_live",
		Help: "Number of meetings currently running on this node.",
	})

	LiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confab_participants_live",
		Help: "Number of participants across all meetings on this node.",
	})

	ConnectedSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confab_sockets_connected",
		Help: "Number of open signaling connections.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confab_topology_transitions_total",
		Help: "Committed topology transitions by target mode and reason.",
	}, []string{"to", "reason"})

	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confab_dropped_events_total",
		Help: "Events discarded under backpressure.",
	})

	WorkerRespawns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confab_worker_respawns_total",
		Help: "Media workers replaced after a crash.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
