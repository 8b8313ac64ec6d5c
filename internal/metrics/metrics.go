// Package metrics exposes groupcast's internal event counters in Prometheus
// format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Event names. Everything is a single counter vector with an `event` label so
// call sites stay as simple as Inc(name).
const (
	RoomCreated      = "room_created"
	RoomClosed       = "room_closed"
	PipelineCreated  = "pipeline_created"
	ParticipantJoin  = "participant_joined"
	ParticipantLeave = "participant_left"
	RelayCreated     = "relay_created"
	RelayReleased    = "relay_released"
	CandidateApplied = "candidate_applied"
	CandidateQueued  = "candidate_queued"
	CandidateFlushed = "candidate_flushed"
	CandidateDropped = "candidate_dropped"
	EngineError      = "engine_error"
	ProtocolError    = "protocol_error"
	RateLimited      = "rate_limited"
)

// Metrics is a concurrency-safe counter registry backed by a dedicated
// Prometheus registry. A nil *Metrics discards all increments, so components
// may take it as an optional dependency.
type Metrics struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groupcast_events_total",
		Help: "Internal signaling coordinator event counters.",
	}, []string{"event"})
	reg.MustRegister(events)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Metrics{reg: reg, events: events}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

// Get returns the current value of a counter. Intended for tests and
// diagnostics; scraping goes through Handler.
func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	var d dto.Metric
	if err := m.events.WithLabelValues(name).Write(&d); err != nil {
		return 0
	}
	return uint64(d.GetCounter().GetValue())
}

// Handler serves the registry in Prometheus' text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
