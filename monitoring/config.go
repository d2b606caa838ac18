package monitoring

import (
	"time"

	"github.com/diba-io/bitmask/carbonado"
)

// RelayHealth is implemented by the consignment relay courier.
type RelayHealth interface {
	// Health reports whether requests go through and the number of
	// transport failures in a row.
	Health() (bool, uint32)

	// Endpoint is the relay endpoint.
	Endpoint() string
}

// LockStats is implemented by in-process user lockers.
type LockStats interface {
	// Held returns the number of users with a holder or a waiter.
	Held() int
}

// PrometheusConfig is the set of configuration data that specifies if
// Prometheus metric exporting is activated, and if so the listening address of
// the Prometheus server.
type PrometheusConfig struct {
	// Active, if true, then Prometheus metrics will be exported.
	Active bool `long:"active" description:"if true prometheus metrics will be exported"`

	// ListenAddr is the listening address that we should use to allow the
	// main Prometheus server to scrape our metrics.
	ListenAddr string `long:"listenaddr" description:"the interface we should listen on for prometheus"`

	// PerfHistograms enables the latency histograms of the operations.
	// They generate more series on the Prometheus server.
	PerfHistograms bool `long:"perfhistograms" description:"enable additional histograms tracking operation latency"`

	// StoreStats are the counters of the object store.
	StoreStats *carbonado.StoreStats

	// Relay is the consignment relay, nil when none is configured.
	Relay RelayHealth

	// Locks is the user locker when it runs in-process.
	Locks LockStats
}

// DefaultPrometheusConfig is the default configuration for the Prometheus
// metrics exporter.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		ListenAddr: "127.0.0.1:8989",
		Active:     false,
	}
}

// shutdownTimeout bounds the graceful stop of the metrics server.
const shutdownTimeout = 5 * time.Second
