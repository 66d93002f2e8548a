package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "livefeed_ticks_accepted_total", Help: "Ticks written to the market cache"},
		[]string{"instrument", "source"},
	)
	TicksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "livefeed_ticks_rejected_total", Help: "Ticks refused by the market cache"},
		[]string{"instrument", "reason"},
	)
	FramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "livefeed_frames_dropped_total", Help: "Stream frames that were not ticks"},
	)
	PollRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "livefeed_poll_requests_total", Help: "Snapshot requests by outcome"},
		[]string{"instrument", "outcome"},
	)
	PollSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "livefeed_poll_skips_total", Help: "Poll cycles skipped because the stream was fresh"},
		[]string{"instrument"},
	)
	DispatchDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "livefeed_dispatch_drops_total", Help: "Ticks superseded before a listener consumed them"},
		[]string{"instrument"},
	)
	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "livefeed_reconnect_attempts_total", Help: "Stream reconnect attempts"},
	)
	PipelineDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "livefeed_pipeline_decisions_total", Help: "Stage decisions"},
		[]string{"agent", "decision"},
	)
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "livefeed_connection_state", Help: "1 for the current stream state"},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksAccepted,
		TicksRejected,
		FramesDropped,
		PollRequests,
		PollSkips,
		DispatchDrops,
		ReconnectAttempts,
		PipelineDecisions,
		ConnectionState,
	)
}

// SetConnectionState flips the state gauge so exactly one label reads 1.
func SetConnectionState(current string, all ...string) {
	for _, s := range all {
		ConnectionState.WithLabelValues(s).Set(0)
	}
	ConnectionState.WithLabelValues(current).Set(1)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
