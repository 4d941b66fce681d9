package infinity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

// metrics live on a registry owned by one engine, so several engines (and
// tests) never collide on registration.
type metrics struct {
	registry *prometheus.Registry

	// ingested counts messages seen by every motor.
	ingested prometheus.Counter

	// motorFailures counts failed or panicking See calls.
	// Labels: motor
	motorFailures *prometheus.CounterVec

	// queryLatency measures Messages and Bouts.
	// Labels: status (ok, error)
	queryLatency *prometheus.HistogramVec

	// flushLatency measures snapshot flushes.
	// Labels: status (ok, error)
	flushLatency *prometheus.HistogramVec
}

func newMetrics(mux *Mux) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &metrics{
		registry: reg,
		ingested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "boutinf",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Messages seen by every motor",
		}),
		motorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boutinf",
			Subsystem: "ingest",
			Name:      "motor_failures_total",
			Help:      "Failed or panicking motor See calls",
		}, []string{"motor"}),
		queryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "boutinf",
			Subsystem: "query",
			Name:      "latency_seconds",
			Help:      "Query evaluation latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"status"}),
		flushLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "boutinf",
			Subsystem: "ray",
			Name:      "flush_seconds",
			Help:      "Snapshot flush latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "boutinf",
		Subsystem: "ingest",
		Name:      "pending",
		Help:      "Submitted messages not seen yet",
	}, func() float64 { return float64(mux.Pending()) })
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
