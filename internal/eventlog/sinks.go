package eventlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"commodrails/internal/escrow"
)

// Fanout delivers every event to each sink in order.
type Fanout []escrow.Sink

func (f Fanout) Emit(evt escrow.Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(evt)
		}
	}
}

// LogSink writes events to a zap logger at debug level.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Emit(evt escrow.Event) {
	if s.Logger == nil {
		return
	}
	attrs := evt.Attributes()
	fields := make([]zap.Field, 0, len(attrs)+1)
	fields = append(fields, zap.String("event", evt.EventType()))
	for k, v := range attrs {
		fields = append(fields, zap.String(k, v))
	}
	s.Logger.Debug("domain event", fields...)
}

// MetricsSink counts events by type.
type MetricsSink struct {
	events *prometheus.CounterVec
}

func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commodrails_events_total",
		Help: "Domain events emitted by the ledger and contract registry",
	}, []string{"type"})
	reg.MustRegister(events)
	return &MetricsSink{events: events}
}

func (s *MetricsSink) Emit(evt escrow.Event) {
	s.events.WithLabelValues(evt.EventType()).Inc()
}
