package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

// Metrics counts dispatch outcomes per event kind. A nil *Metrics records nothing.
type Metrics struct {
	EventsDispatched *prometheus.CounterVec
	HandlerFailures  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "useraudit_events_dispatched_total",
			Help: "Domain events whose handlers all completed",
		}, []string{"kind"}),
		HandlerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "useraudit_event_handler_failures_total",
			Help: "Event handler invocations that returned an error",
		}, []string{"kind"}),
	}
}

func (m *Metrics) dispatched(kind domain.EventKind) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) handlerFailed(kind domain.EventKind) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(string(kind)).Inc()
}
