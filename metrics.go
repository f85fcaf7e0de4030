package alwaysproxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

type proxyMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	inFlight        prometheus.Gauge
}

func newProxyMetrics(registerer prometheus.Registerer) *proxyMetrics {
	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "always_proxy",
			Name:      "requests_total",
			Help:      "Requests handled, by outcome.",
		},
		[]string{"outcome"},
	)
	registerer.MustRegister(requestsTotal)

	requestDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "always_proxy",
		Name:      "request_duration_seconds",
		Help:      "Time from accepting a connection to closing it.",
		Buckets:   prometheus.DefBuckets,
	})
	registerer.MustRegister(requestDuration)

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "always_proxy",
		Name:      "in_flight",
		Help:      "Connections currently being handled.",
	})
	registerer.MustRegister(inFlight)

	return &proxyMetrics{
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
		inFlight:        inFlight,
	}
}
