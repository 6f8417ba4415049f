package metrics

import "github.com/prometheus/client_golang/prometheus"

// mOpts accumulates the options applied by OptsFunc before a metric vector
// is constructed.
type mOpts struct {
	name          string
	help          string
	namespace     *string
	labels        map[string]string
	buckets       []float64
	quantile      map[float64]float64
	withoutSuffix bool
}

// OptsFunc customizes a metric's registration options.
type OptsFunc func(*mOpts)

// WithNamespace overrides DefaultMetricsNamespace for this metric.
func WithNamespace(ns string) OptsFunc {
	return func(o *mOpts) { o.namespace = &ns }
}

// WithLabels attaches constant labels to every series of this metric.
func WithLabels(labels map[string]string) OptsFunc {
	return func(o *mOpts) { o.labels = labels }
}

// WithBuckets overrides the default histogram bucket boundaries.
func WithBuckets(buckets []float64) OptsFunc {
	return func(o *mOpts) { o.buckets = buckets }
}

// WithQuantile overrides the default summary quantile/error objectives.
func WithQuantile(quantile map[float64]float64) OptsFunc {
	return func(o *mOpts) { o.quantile = quantile }
}

// WithoutSuffix disables the type-suffix ("_c", "_g", "_h", "_s") normally
// appended to the metric name.
func WithoutSuffix() OptsFunc {
	return func(o *mOpts) { o.withoutSuffix = true }
}

func (o *mOpts) namespaceOrDefault() string {
	if o.namespace != nil {
		return *o.namespace
	}
	return DefaultMetricsNamespace
}

func (o *mOpts) helpOrDefault() string {
	if o.help != "" {
		return o.help
	}
	return o.name
}

func (o *mOpts) suffixedName(suffix string) string {
	if o.withoutSuffix {
		return o.name
	}
	return o.name + suffix
}

// GetCounterOpts builds prometheus.CounterOpts from the accumulated options.
func (o *mOpts) GetCounterOpts() prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   o.namespaceOrDefault(),
		Name:        o.suffixedName("_c"),
		Help:        o.helpOrDefault() + " (counters)",
		ConstLabels: o.labels,
	}
}

// GetGaugeOpts builds prometheus.GaugeOpts from the accumulated options.
func (o *mOpts) GetGaugeOpts() prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   o.namespaceOrDefault(),
		Name:        o.suffixedName("_g"),
		Help:        o.helpOrDefault() + " (gauge)",
		ConstLabels: o.labels,
	}
}

// GetHistogramOpts builds prometheus.HistogramOpts from the accumulated options.
func (o *mOpts) GetHistogramOpts() prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   o.namespaceOrDefault(),
		Name:        o.suffixedName("_h"),
		Help:        o.helpOrDefault() + " (histogram)",
		ConstLabels: o.labels,
		Buckets:     o.buckets,
	}
}

// GetSummaryOpts builds prometheus.SummaryOpts from the accumulated options.
func (o *mOpts) GetSummaryOpts() prometheus.SummaryOpts {
	return prometheus.SummaryOpts{
		Namespace:   o.namespaceOrDefault(),
		Name:        o.suffixedName("_s"),
		Help:        o.helpOrDefault() + " (summary)",
		ConstLabels: o.labels,
		Objectives:  o.quantile,
	}
}
