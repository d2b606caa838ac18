package monitoring

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const storeCollectorName = "store"

// storeCollector exports the traffic counters of the encrypted object store.
type storeCollector struct {
	collectMx sync.Mutex

	cfg      *PrometheusConfig
	registry *prometheus.Registry

	reads        *prometheus.Desc
	writes       *prometheus.Desc
	bytesRead    *prometheus.Desc
	bytesWritten *prometheus.Desc
	failures     *prometheus.Desc
}

func newStoreCollector(cfg *PrometheusConfig,
	registry *prometheus.Registry) (*storeCollector, error) {

	if cfg == nil {
		return nil, errors.New("store collector prometheus cfg is nil")
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, storeCollectorName, name),
			help, nil, nil,
		)
	}

	return &storeCollector{
		cfg:          cfg,
		registry:     registry,
		reads:        desc("reads_total", "Objects read"),
		writes:       desc("writes_total", "Objects written"),
		bytesRead:    desc("read_bytes_total", "Encoded bytes read"),
		bytesWritten: desc("written_bytes_total", "Encoded bytes written"),
		failures:     desc("failures_total", "Failed store requests"),
	}, nil
}

func (s *storeCollector) Name() string {
	return storeCollectorName
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once the
// last descriptor has been sent.
//
// NOTE: Part of the prometheus.Collector interface.
func (s *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.reads
	ch <- s.writes
	ch <- s.bytesRead
	ch <- s.bytesWritten
	ch <- s.failures
}

// Collect is called by the Prometheus registry when collecting metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (s *storeCollector) Collect(ch chan<- prometheus.Metric) {
	s.collectMx.Lock()
	defer s.collectMx.Unlock()

	stats := s.cfg.StoreStats
	counters := []struct {
		desc *prometheus.Desc
		val  uint64
	}{
		{s.reads, stats.Reads.Load()},
		{s.writes, stats.Writes.Load()},
		{s.bytesRead, stats.BytesRead.Load()},
		{s.bytesWritten, stats.BytesWritten.Load()},
		{s.failures, stats.Failures.Load()},
	}
	for _, c := range counters {
		ch <- prometheus.MustNewConstMetric(
			c.desc, prometheus.CounterValue, float64(c.val),
		)
	}
}

func (s *storeCollector) RegisterMetricFuncs() error {
	err := s.registry.Register(s)
	if err != nil {
		log.Errorf("Error registering store collector: %v", err)
		return err
	}

	return nil
}

var _ MetricGroup = (*storeCollector)(nil)

func init() {
	metricsMtx.Lock()
	defer metricsMtx.Unlock()
	metricGroups[storeCollectorName] = func(cfg *PrometheusConfig,
		registry *prometheus.Registry) (MetricGroup, error) {

		if cfg.StoreStats == nil {
			return nil, nil
		}

		return newStoreCollector(cfg, registry)
	}
}
