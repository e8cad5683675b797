package gate

import "github.com/prometheus/client_golang/prometheus"

var (
	// circuitState reports the breaker state: 0 closed, 1 open, 2 half-open.
	circuitState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_circuit_state",
			Help: "Upstream circuit breaker state (0=closed, 1=open, 2=half_open).",
		},
	)

	circuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_circuit_transitions_total",
			Help: "Upstream circuit breaker transitions by target state.",
		},
		[]string{"to"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_queue_depth",
			Help: "Upstream calls waiting in the request queue.",
		},
	)

	queueWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upstream_queue_wait_seconds",
			Help:    "Time upstream calls spent queued before starting.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// callsTotal counts gate outcomes by endpoint (bounded set of partner paths).
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_calls_total",
			Help: "Upstream calls by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_call_duration_seconds",
			Help:    "Duration of upstream calls that were admitted by the breaker.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(circuitState, circuitTransitions, queueDepth, queueWait, callsTotal, callDuration)
}
