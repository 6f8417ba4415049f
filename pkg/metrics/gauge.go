package metrics

import "github.com/prometheus/client_golang/prometheus"

// GaugeVec wraps a prometheus.GaugeVec behind the package's opts-func
// construction pattern.
type GaugeVec struct {
	gauges *prometheus.GaugeVec
}

// NewGaugeVec creates and registers a gauge vector.
func NewGaugeVec(metricsName, help string, labels []string, opts ...OptsFunc) *GaugeVec {
	opt := &mOpts{
		name: metricsName,
		help: help,
	}
	for _, optsFunc := range opts {
		optsFunc(opt)
	}
	gg := prometheus.NewGaugeVec(opt.GetGaugeOpts(), labels)
	prometheus.MustRegister(gg)

	return &GaugeVec{gauges: gg}
}

func (g *GaugeVec) Describe(descs chan<- *prometheus.Desc) { g.gauges.Describe(descs) }
func (g *GaugeVec) Collect(metrics chan<- prometheus.Metric) { g.gauges.Collect(metrics) }

func (g *GaugeVec) Inc(labels ...string)             { g.gauges.WithLabelValues(labels...).Inc() }
func (g *GaugeVec) Dec(labels ...string)             { g.gauges.WithLabelValues(labels...).Dec() }
func (g *GaugeVec) Add(v float64, labels ...string)  { g.gauges.WithLabelValues(labels...).Add(v) }
func (g *GaugeVec) Sub(v float64, labels ...string)  { g.gauges.WithLabelValues(labels...).Sub(v) }
func (g *GaugeVec) Set(v float64, labels ...string)  { g.gauges.WithLabelValues(labels...).Set(v) }
func (g *GaugeVec) Delete(labels ...string)          { g.gauges.DeleteLabelValues(labels...) }
