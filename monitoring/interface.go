package monitoring

import "github.com/prometheus/client_golang/prometheus"

// metricGroupFactory builds one group of the exporter from its config. A nil
// group is skipped, the config has nothing for it to report on.
type metricGroupFactory func(*PrometheusConfig,
	*prometheus.Registry) (MetricGroup, error)

// MetricGroup is a set of related wallet metrics exported under a common
// name prefix.
type MetricGroup interface {
	prometheus.Collector

	// Name is the prefix shared by the metrics of the group.
	Name() string

	// RegisterMetricFuncs registers the metrics of the group with the
	// registry the group was built for, returning any registration error
	// instead of panicking.
	RegisterMetricFuncs() error
}
