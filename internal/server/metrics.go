package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the service's Prometheus registry. It is created before the
// engine so event sinks can register on it.
type Metrics struct {
	registry        *prometheus.Registry
	operationsTotal *prometheus.CounterVec
	replaysTotal    *prometheus.CounterVec
	rateLimited     prometheus.Counter
	incidents       prometheus.Gauge
}

func NewMetrics() *Metrics {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commodrails_operations_total",
		Help: "Ledger and contract operations by outcome code",
	}, []string{"op", "result"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commodrails_idempotent_replays_total",
		Help: "Mutating requests answered from the idempotency store",
	}, []string{"result"})

	limited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commodrails_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})

	incidents := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "commodrails_incidents",
		Help: "Ledger invariant incidents recorded on disk",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(ops, replays, limited, incidents)

	return &Metrics{
		registry:        r,
		operationsTotal: ops,
		replaysTotal:    replays,
		rateLimited:     limited,
		incidents:       incidents,
	}
}

// Registerer exposes the registry to other components.
func (m *Metrics) Registerer() prometheus.Registerer { return m.registry }

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) incOperation(op, result string) {
	m.operationsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) incReplay(result string) {
	m.replaysTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) setIncidents(depth int) {
	m.incidents.Set(float64(depth))
}

// observe registers gauges that read live engine state on scrape.
func (m *Metrics) observe(contracts func() float64, custody func() float64) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "commodrails_contracts",
			Help: "Contracts created so far",
		}, contracts),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "commodrails_custody_balance",
			Help: "Tokens locked with the custodian account",
		}, custody),
	)
}
