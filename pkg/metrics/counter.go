package metrics

import "github.com/prometheus/client_golang/prometheus"

// CounterVec wraps a prometheus.CounterVec behind the package's opts-func
// construction pattern.
type CounterVec struct {
	counters *prometheus.CounterVec
}

// NewCounterVec creates and registers a counter vector. name must be unique
// within the process or this panics via prometheus.MustRegister.
func NewCounterVec(metricsName, help string, labels []string, opts ...OptsFunc) *CounterVec {
	opt := &mOpts{
		name: metricsName,
		help: help,
	}
	for _, optsFunc := range opts {
		optsFunc(opt)
	}
	cc := prometheus.NewCounterVec(opt.GetCounterOpts(), labels)
	prometheus.MustRegister(cc)

	return &CounterVec{counters: cc}
}

// Inc increments the counter for the given label values by 1.
func (c *CounterVec) Inc(labels ...string) {
	c.counters.WithLabelValues(labels...).Inc()
}

// Add increments the counter for the given label values by count.
func (c *CounterVec) Add(count float64, labels ...string) {
	c.counters.WithLabelValues(labels...).Add(count)
}

// Delete removes the series for the given label values.
func (c *CounterVec) Delete(labels ...string) {
	c.counters.DeleteLabelValues(labels...)
}
