package metrics

// DefaultMetricsNamespace prefixes every metric name registered through
// this package unless overridden via WithNamespace.
const DefaultMetricsNamespace = "ops_service"
