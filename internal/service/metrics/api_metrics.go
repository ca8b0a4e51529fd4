package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driftwatch",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of monitoring API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by monitoring API endpoint",
		},
		[]string{"endpoint"},
	)

	RetrainRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Subsystem: "api",
			Name:      "manual_retrain_total",
			Help:      "Manual retrain requests by outcome",
		},
		[]string{"outcome"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, RetrainRequests)
	})
}
