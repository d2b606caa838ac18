package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bitmask"

var (
	// metricGroups is a global variable of all registered metrics
	// projected by the mutex below. All new MetricGroups should add
	// themselves to this map within the init() method of their file.
	metricGroups = make(map[string]metricGroupFactory)

	// activeGroups is a global map of all active metric groups. This can
	// be used by some of the "static' package level methods to look up the
	// target metric group to export observations.
	activeGroups = make(map[string]MetricGroup)

	// metricsMtx is a global mutex that should be held when accessing the
	// global maps.
	metricsMtx sync.Mutex
)

// PrometheusExporter is a metric exporter that uses Prometheus directly. The
// internal server will interact with this struct in order to export relevant
// metrics.
type PrometheusExporter struct {
	config   *PrometheusConfig
	registry *prometheus.Registry

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewPrometheusExporter makes a new instance of the PrometheusExporter given
// the config.
func NewPrometheusExporter(cfg *PrometheusConfig) *PrometheusExporter {
	return &PrometheusExporter{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}
}

// Registry returns the registry the metric groups are registered with.
func (p *PrometheusExporter) Registry() *prometheus.Registry {
	return p.registry
}

// Start registers all relevant metrics with the Prometheus library, then
// launches the HTTP server that Prometheus will hit to scrape our metrics.
func (p *PrometheusExporter) Start() error {
	// If we're not active, then there's nothing more to do.
	if !p.config.Active {
		return nil
	}

	err := p.registry.Register(prometheus.NewGoCollector())
	if err != nil {
		return err
	}
	err = p.registry.Register(prometheus.NewProcessCollector(
		prometheus.ProcessCollectorOpts{Namespace: namespace},
	))
	if err != nil {
		return err
	}

	// Next, we'll attempt to register all our metrics. If we fail to
	// register ANY metric, then we'll fail all together.
	if err := p.registerMetrics(); err != nil {
		return err
	}

	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return err
	}
	p.listener = lis

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		p.registry, promhttp.HandlerOpts{},
	))
	p.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	// Finally, we'll launch the HTTP server that Prometheus will use to
	// scape our metrics.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		err := p.server.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("prometheus server exited with err: %v", err)
		}
	}()

	log.Infof("Prometheus metrics at http://%v/metrics", lis.Addr())

	return nil
}

// Addr returns the address the metrics server listens on.
func (p *PrometheusExporter) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}

	return p.listener.Addr()
}

// Stop shuts the metrics server down and deactivates the metric groups.
func (p *PrometheusExporter) Stop() error {
	metricsMtx.Lock()
	for name := range activeGroups {
		delete(activeGroups, name)
	}
	metricsMtx.Unlock()

	if p.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		shutdownTimeout)
	defer cancel()

	err := p.server.Shutdown(ctx)
	p.wg.Wait()

	return err
}

// registerMetrics iterates through all the registered metric groups and
// attempts to register each one. If any of the MetricGroups fail to register,
// then an error will be returned.
func (p *PrometheusExporter) registerMetrics() error {
	metricsMtx.Lock()
	defer metricsMtx.Unlock()

	names := make([]string, 0, len(metricGroups))
	for name := range metricGroups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		metricGroup, err := metricGroups[name](p.config, p.registry)
		if err != nil {
			return err
		}
		if metricGroup == nil {
			log.Debugf("Skipping metric group %v", name)
			continue
		}

		if err := metricGroup.RegisterMetricFuncs(); err != nil {
			return err
		}

		activeGroups[metricGroup.Name()] = metricGroup
	}

	return nil
}

// activeGroup returns an active metric group by name.
func activeGroup(name string) (MetricGroup, bool) {
	metricsMtx.Lock()
	defer metricsMtx.Unlock()

	g, ok := activeGroups[name]
	return g, ok
}
