package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer records durations as both a summary and a histogram, registered
// under metricName with the "_s" and "_h" suffixes respectively.
type Timer struct {
	name      string
	summary   *prometheus.SummaryVec
	histogram *prometheus.HistogramVec
}

// NewTimer creates a new timer and registers it. metricName must be unique
// within the process.
func NewTimer(metricName, help string, labels []string, opts ...OptsFunc) *Timer {
	opt := &mOpts{
		name:     metricName,
		help:     help,
		quantile: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		buckets:  []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .5, 1, 2.5, 5, 10, 60, 600, 3600},
	}
	for _, optFunc := range opts {
		optFunc(opt)
	}

	summary := prometheus.NewSummaryVec(opt.GetSummaryOpts(), labels)
	prometheus.MustRegister(summary)

	histogram := prometheus.NewHistogramVec(opt.GetHistogramOpts(), labels)
	prometheus.MustRegister(histogram)

	return &Timer{name: metricName, summary: summary, histogram: histogram}
}

// Timer starts timing and returns a function that records the elapsed
// duration when called with the observation's label values.
func (t *Timer) Timer() func(values ...string) {
	if t == nil {
		return func(values ...string) {}
	}
	start := time.Now()
	return func(values ...string) {
		t.Observe(time.Since(start), values...)
	}
}

// Observe records an already-measured duration against the given labels.
func (t *Timer) Observe(duration time.Duration, labels ...string) {
	if t == nil {
		return
	}
	seconds := duration.Seconds()
	if t.summary != nil {
		t.summary.WithLabelValues(labels...).Observe(seconds)
	}
	t.histogram.WithLabelValues(labels...).Observe(seconds)
}
