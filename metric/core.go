package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the gateway-level metrics
type Metrics struct {
	// Federation pipeline
	QueriesTotal     *prometheus.CounterVec
	DiscoveryTotal   *prometheus.CounterVec
	FetchTotal       *prometheus.CounterVec
	PayloadRejected  *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	FetchDuration    prometheus.Histogram
	FetchesInFlight  prometheus.Gauge
	EndpointsPlanned prometheus.Histogram

	// REST binding
	HTTPRequests *prometheus.CounterVec

	// Overlay
	OverlayConnected prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "federation",
				Name:      "queries_total",
				Help:      "Federated queries by outcome (ok, degraded, error)",
			},
			[]string{"outcome"},
		),

		DiscoveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "federation",
				Name:      "discovery_total",
				Help:      "Discovery calls by outcome (ok, no_candidates, failed)",
			},
			[]string{"outcome"},
		),

		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "federation",
				Name:      "fetch_total",
				Help:      "Remote property fetches by outcome (ok, error, timeout)",
			},
			[]string{"outcome"},
		),

		PayloadRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "federation",
				Name:      "payload_rejected_total",
				Help:      "Fetched payloads excluded before solving, by reason",
			},
			[]string{"reason"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "federation",
				Name:      "stage_duration_seconds",
				Help:      "Duration of each federation stage",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"stage"},
		),

		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "federation",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of a single remote property fetch",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		FetchesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "federation",
				Name:      "fetches_in_flight",
				Help:      "Remote property fetches currently running across all queries",
			},
		),

		EndpointsPlanned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "federation",
				Name:      "endpoints_planned",
				Help:      "Candidate endpoints produced by the planner per query",
				Buckets:   []float64{0, 1, 5, 10, 50, 100, 300, 1000},
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "REST requests by route and status code",
			},
			[]string{"route", "code"},
		),

		OverlayConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "overlay",
				Name:      "connected",
				Help:      "Overlay connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.QueriesTotal,
		m.DiscoveryTotal,
		m.FetchTotal,
		m.PayloadRejected,
		m.StageDuration,
		m.FetchDuration,
		m.FetchesInFlight,
		m.EndpointsPlanned,
		m.HTTPRequests,
		m.OverlayConnected,
	}
}
