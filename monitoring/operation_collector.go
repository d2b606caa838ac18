package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	operationCollectorName = "operation"

	operationsMetric       = "operations_total"
	operationLatencyMetric = "operation_duration_seconds"
)

// operationCollector counts the wallet operations served and, with
// PerfHistograms, how long they took.
type operationCollector struct {
	collectMx sync.Mutex

	cfg      *PrometheusConfig
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func newOperationCollector(cfg *PrometheusConfig,
	registry *prometheus.Registry) *operationCollector {

	c := &operationCollector{
		cfg:      cfg,
		registry: registry,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      operationsMetric,
				Help:      "Operations served by outcome",
			},
			[]string{"op", "result"},
		),
	}
	if cfg.PerfHistograms {
		c.latency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      operationLatencyMetric,
				Help:      "Latency of the operations",
				Buckets: prometheus.ExponentialBuckets(
					0.001, 2, 16,
				),
			},
			[]string{"op"},
		)
	}

	return c
}

func (o *operationCollector) Name() string {
	return operationCollectorName
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once the
// last descriptor has been sent.
//
// NOTE: Part of the prometheus.Collector interface.
func (o *operationCollector) Describe(ch chan<- *prometheus.Desc) {
	o.collectMx.Lock()
	defer o.collectMx.Unlock()

	o.operations.Describe(ch)
	if o.latency != nil {
		o.latency.Describe(ch)
	}
}

// Collect is called by the Prometheus registry when collecting metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (o *operationCollector) Collect(ch chan<- prometheus.Metric) {
	o.collectMx.Lock()
	defer o.collectMx.Unlock()

	o.operations.Collect(ch)
	if o.latency != nil {
		o.latency.Collect(ch)
	}
}

func (o *operationCollector) RegisterMetricFuncs() error {
	err := o.registry.Register(o)
	if err != nil {
		log.Errorf("Error registering operation collector: %v", err)
		return err
	}

	return nil
}

func (o *operationCollector) observe(op, result string, d time.Duration) {
	o.collectMx.Lock()
	defer o.collectMx.Unlock()

	o.operations.WithLabelValues(op, result).Inc()
	if o.latency != nil {
		o.latency.WithLabelValues(op).Observe(d.Seconds())
	}
}

// ObserveOperation records an operation that took d and ended with result.
// It does nothing unless the exporter runs.
func ObserveOperation(op, result string, d time.Duration) {
	g, ok := activeGroup(operationCollectorName)
	if !ok {
		return
	}

	g.(*operationCollector).observe(op, result, d)
}

var _ MetricGroup = (*operationCollector)(nil)

func init() {
	metricsMtx.Lock()
	defer metricsMtx.Unlock()
	metricGroups[operationCollectorName] = func(cfg *PrometheusConfig,
		registry *prometheus.Registry) (MetricGroup, error) {

		return newOperationCollector(cfg, registry), nil
	}
}
