package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	relayCollectorName = "relay"

	relayUpMetric       = "relay_up"
	relayFailuresMetric = "relay_consecutive_failures"
	locksHeldMetric     = "user_locks_held"
)

// relayCollector reports the consignment relay breaker and the user locks
// held in this process.
type relayCollector struct {
	collectMx sync.Mutex

	cfg      *PrometheusConfig
	registry *prometheus.Registry

	up        *prometheus.GaugeVec
	failures  *prometheus.GaugeVec
	locksHeld prometheus.Gauge
}

func newRelayCollector(cfg *PrometheusConfig,
	registry *prometheus.Registry) *relayCollector {

	return &relayCollector{
		cfg:      cfg,
		registry: registry,
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      relayUpMetric,
			Help:      "Whether requests to the relay go through",
		}, []string{"endpoint"}),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      relayFailuresMetric,
			Help:      "Relay transport failures in a row",
		}, []string{"endpoint"}),
		locksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      locksHeldMetric,
			Help:      "Users with a lock holder or waiter",
		}),
	}
}

func (r *relayCollector) Name() string {
	return relayCollectorName
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once the
// last descriptor has been sent.
//
// NOTE: Part of the prometheus.Collector interface.
func (r *relayCollector) Describe(ch chan<- *prometheus.Desc) {
	r.collectMx.Lock()
	defer r.collectMx.Unlock()

	r.up.Describe(ch)
	r.failures.Describe(ch)
	r.locksHeld.Describe(ch)
}

// Collect is called by the Prometheus registry when collecting metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (r *relayCollector) Collect(ch chan<- prometheus.Metric) {
	r.collectMx.Lock()
	defer r.collectMx.Unlock()

	if relay := r.cfg.Relay; relay != nil {
		up, failures := relay.Health()
		var upVal float64
		if up {
			upVal = 1
		}
		r.up.WithLabelValues(relay.Endpoint()).Set(upVal)
		r.failures.WithLabelValues(relay.Endpoint()).Set(
			float64(failures),
		)
		r.up.Collect(ch)
		r.failures.Collect(ch)
	}

	if r.cfg.Locks != nil {
		r.locksHeld.Set(float64(r.cfg.Locks.Held()))
		r.locksHeld.Collect(ch)
	}
}

func (r *relayCollector) RegisterMetricFuncs() error {
	err := r.registry.Register(r)
	if err != nil {
		log.Errorf("Error registering relay collector: %v", err)
		return err
	}

	return nil
}

var _ MetricGroup = (*relayCollector)(nil)

func init() {
	metricsMtx.Lock()
	defer metricsMtx.Unlock()
	metricGroups[relayCollectorName] = func(cfg *PrometheusConfig,
		registry *prometheus.Registry) (MetricGroup, error) {

		if cfg.Relay == nil && cfg.Locks == nil {
			return nil, nil
		}

		return newRelayCollector(cfg, registry), nil
	}
}
