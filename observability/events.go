package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"vestvault/core/events"
)

type eventMetrics struct {
	published *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed custody events. It
// implements events.Emitter so it can sit in an events.Fanout.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed custody events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.published)
	})
	return eventRegistry
}

// Emit counts e and feeds the custody counters it carries.
func (m *eventMetrics) Emit(e events.Event) {
	if m == nil || e == nil {
		return
	}
	m.published.WithLabelValues(e.EventType()).Inc()
	switch ev := e.(type) {
	case events.TokensPurchased:
		Custody().RecordPurchase(ev.Amount, ev.Payment)
	case events.TokensClaimed:
		Custody().RecordClaim(ev.ClaimedAmount)
	}
}
