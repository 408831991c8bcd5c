package federation

import (
	"time"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/metric"
)

// recorder is a nil-safe view over the federation metrics. It also serves as
// the worker pool observer for fetch tasks.
type recorder struct {
	m *metric.Metrics
}

func (r recorder) ItemStarted() {
	if r.m != nil {
		r.m.FetchesInFlight.Inc()
	}
}

func (r recorder) ItemFinished(d time.Duration, _ error) {
	if r.m != nil {
		r.m.FetchesInFlight.Dec()
		r.m.FetchDuration.Observe(d.Seconds())
	}
}

func (r recorder) query(outcome string) {
	if r.m != nil {
		r.m.QueriesTotal.WithLabelValues(outcome).Inc()
	}
}

func (r recorder) discovery(outcome string) {
	if r.m != nil {
		r.m.DiscoveryTotal.WithLabelValues(outcome).Inc()
	}
}

func (r recorder) fetch(outcome string) {
	if r.m != nil {
		r.m.FetchTotal.WithLabelValues(outcome).Inc()
	}
}

func (r recorder) rejected(reason string) {
	if r.m != nil {
		r.m.PayloadRejected.WithLabelValues(reason).Inc()
	}
}

func (r recorder) stage(stage Stage, d time.Duration) {
	if r.m != nil {
		r.m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
}

func (r recorder) planned(n int) {
	if r.m != nil {
		r.m.EndpointsPlanned.Observe(float64(n))
	}
}
