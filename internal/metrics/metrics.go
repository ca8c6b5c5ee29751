// metrics.go - Prometheus metrics for the pool service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shieldpool/internal/shielded"
)

const (
	metricsNamespace = "shieldpool"
	subsystem        = "pool"
)

// MetricsCollector records pool activity. It implements shielded.Notifier for pool
// events and transfer.Observer for proof verifications.
type MetricsCollector struct {
	registry *prometheus.Registry

	deposits      *prometheus.CounterVec
	exits         *prometheus.CounterVec
	depositVolume prometheus.Counter
	exitVolume    prometheus.Counter
	poolBalance   prometheus.Gauge
	nextNonce     prometheus.Gauge
	payoutPending prometheus.Gauge
	verifications *prometheus.HistogramVec
	errors        *prometheus.CounterVec
}

// NewMetricsCollector registers all pool metrics with reg. A nil reg creates a private registry.
func NewMetricsCollector(reg *prometheus.Registry) *MetricsCollector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &MetricsCollector{
		registry: reg,
		deposits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: subsystem,
				Name:      "deposits_total",
				Help:      "Deposits accounted by the pool",
			},
			[]string{"result"},
		),
		exits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: subsystem,
				Name:      "exits_total",
				Help:      "Withdrawals and claims by outcome",
			},
			[]string{"result"},
		),
		depositVolume: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "deposit_volume_total",
			Help:      "Total value deposited",
		}),
		exitVolume: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "exit_volume_total",
			Help:      "Total value paid out",
		}),
		poolBalance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "balance",
			Help:      "Current pool balance",
		}),
		nextNonce: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "next_nonce",
			Help:      "Nonce the next exit must carry",
		}),
		payoutPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "payout_pending",
			Help:      "1 while a payout with unknown outcome halts the pool",
		}),
		verifications: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "verifier",
				Name:      "verification_duration_seconds",
				Help:      "Time taken to verify transfer proofs",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "Rejected requests by operation and error class",
			},
			[]string{"operation", "class"},
		),
	}
}

// SetState publishes the pool's current state.
func (m *MetricsCollector) SetState(s shielded.State) {
	m.poolBalance.Set(float64(s.Balance))
	m.nextNonce.Set(float64(s.NextNonce))
	if s.Pending != nil {
		m.payoutPending.Set(1)
	} else {
		m.payoutPending.Set(0)
	}
}

// Notify implements shielded.Notifier.
func (m *MetricsCollector) Notify(e shielded.Event) {
	m.poolBalance.Set(float64(e.Balance))
	m.nextNonce.Set(float64(e.NextNonce))
	switch e.Kind {
	case shielded.EventDeposited:
		m.deposits.WithLabelValues("accepted").Inc()
		m.depositVolume.Add(float64(e.Amount))
	case shielded.EventWithdrawn:
		m.exits.WithLabelValues("paid").Inc()
		m.exitVolume.Add(float64(e.Amount))
	case shielded.EventPayoutFailed:
		m.exits.WithLabelValues("refused").Inc()
	case shielded.EventPayoutPending:
		m.exits.WithLabelValues("pending").Inc()
		m.payoutPending.Set(1)
	case shielded.EventResolved:
		m.payoutPending.Set(0)
	}
}

// ObserveVerification records a proof verification.
func (m *MetricsCollector) ObserveVerification(outcome string, elapsed time.Duration) {
	m.verifications.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordError counts a rejected operation under the class of err.
func (m *MetricsCollector) RecordError(operation string, err error) {
	m.errors.WithLabelValues(operation, Classify(err)).Inc()
}

// Handler serves the collector's registry.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Classify maps an error to its taxonomy code.
func Classify(err error) string {
	return shielded.ErrorCode(err)
}
