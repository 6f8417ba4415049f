package metrics

import "github.com/prometheus/client_golang/prometheus"

// HistogramVec wraps a prometheus.HistogramVec behind the package's
// opts-func construction pattern.
type HistogramVec struct {
	histogram *prometheus.HistogramVec
}

// NewHistogramVec creates and registers a histogram vector.
func NewHistogramVec(metricsName, help string, labels []string, opts ...OptsFunc) *HistogramVec {
	opt := &mOpts{
		name:    metricsName,
		help:    help,
		buckets: prometheus.DefBuckets,
	}
	for _, optsFunc := range opts {
		optsFunc(opt)
	}
	h := prometheus.NewHistogramVec(opt.GetHistogramOpts(), labels)
	prometheus.MustRegister(h)

	return &HistogramVec{histogram: h}
}

// Observe records a single observation for the given label values.
func (h *HistogramVec) Observe(v float64, labels ...string) {
	h.histogram.WithLabelValues(labels...).Observe(v)
}
