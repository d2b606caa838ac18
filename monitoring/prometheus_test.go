package monitoring

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/diba-io/bitmask/carbonado"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

type relayStub struct {
	up       bool
	failures uint32
}

func (r *relayStub) Health() (bool, uint32) {
	return r.up, r.failures
}

func (r *relayStub) Endpoint() string {
	return "http://relay.test"
}

type lockStub int

func (l lockStub) Held() int {
	return int(l)
}

func gatherValue(t *testing.T, p *PrometheusExporter, name string,
	labels map[string]string) float64 {

	t.Helper()

	families, err := p.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}

		for _, m := range family.GetMetric() {
			if !matchLabels(m, labels) {
				continue
			}

			switch {
			case m.Counter != nil:
				return m.Counter.GetValue()
			case m.Gauge != nil:
				return m.Gauge.GetValue()
			case m.Histogram != nil:
				return float64(m.Histogram.GetSampleCount())
			}
		}
	}

	t.Fatalf("metric %v%v not found", name, labels)
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, pair := range m.GetLabel() {
		want, ok := labels[pair.GetName()]
		if !ok {
			continue
		}
		if want != pair.GetValue() {
			return false
		}
		found++
	}

	return found == len(labels)
}

func startExporter(t *testing.T, cfg *PrometheusConfig) *PrometheusExporter {
	t.Helper()

	p := NewPrometheusExporter(cfg)
	require.NoError(t, p.Start())
	t.Cleanup(func() {
		require.NoError(t, p.Stop())
	})

	return p
}

func TestExporterCollectors(t *testing.T) {
	stats := &carbonado.StoreStats{}
	stats.Reads.Add(3)
	stats.Writes.Add(2)
	stats.BytesWritten.Add(512)

	relay := &relayStub{up: false, failures: 5}
	cfg := &PrometheusConfig{
		Active:         true,
		ListenAddr:     "127.0.0.1:0",
		PerfHistograms: true,
		StoreStats:     stats,
		Relay:          relay,
		Locks:          lockStub(2),
	}
	p := startExporter(t, cfg)

	require.EqualValues(
		t, 3, gatherValue(t, p, "bitmask_store_reads_total", nil),
	)
	require.EqualValues(
		t, 512, gatherValue(t, p, "bitmask_store_written_bytes_total", nil),
	)

	endpoint := map[string]string{"endpoint": relay.Endpoint()}
	require.Zero(t, gatherValue(t, p, "bitmask_relay_up", endpoint))
	require.EqualValues(t, 5, gatherValue(
		t, p, "bitmask_relay_consecutive_failures", endpoint,
	))
	require.EqualValues(
		t, 2, gatherValue(t, p, "bitmask_user_locks_held", nil),
	)

	// Counters are read at scrape time.
	stats.Reads.Add(1)
	require.EqualValues(
		t, 4, gatherValue(t, p, "bitmask_store_reads_total", nil),
	)

	ObserveOperation("issue_contract", "ok", 20*time.Millisecond)
	ObserveOperation("issue_contract", "ok", 30*time.Millisecond)
	ObserveOperation("issue_contract", "invalid", time.Millisecond)

	require.EqualValues(t, 2, gatherValue(
		t, p, "bitmask_operations_total",
		map[string]string{"op": "issue_contract", "result": "ok"},
	))
	require.EqualValues(t, 1, gatherValue(
		t, p, "bitmask_operations_total",
		map[string]string{"op": "issue_contract", "result": "invalid"},
	))
	require.EqualValues(t, 3, gatherValue(
		t, p, "bitmask_operation_duration_seconds",
		map[string]string{"op": "issue_contract"},
	))

	// The same series are served over http.
	resp, err := http.Get(fmt.Sprintf("http://%v/metrics", p.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(
		string(body), "bitmask_store_writes_total 2",
	))
}

func TestExporterSkipsUnconfiguredGroups(t *testing.T) {
	cfg := &PrometheusConfig{
		Active:     true,
		ListenAddr: "127.0.0.1:0",
	}
	p := startExporter(t, cfg)

	_, ok := activeGroup(storeCollectorName)
	require.False(t, ok)
	_, ok = activeGroup(relayCollectorName)
	require.False(t, ok)
	_, ok = activeGroup(operationCollectorName)
	require.True(t, ok)

	families, err := p.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		require.False(
			t, strings.HasPrefix(family.GetName(), "bitmask_store"),
		)
	}
}

func TestObserveWithoutExporter(t *testing.T) {
	p := NewPrometheusExporter(&PrometheusConfig{})
	require.NoError(t, p.Start())
	require.Nil(t, p.Addr())
	require.NoError(t, p.Stop())

	_, ok := activeGroup(operationCollectorName)
	require.False(t, ok)

	// No exporter runs, so this is a no-op.
	ObserveOperation("get_contract", "ok", time.Millisecond)
}

func TestExporterBadListenAddr(t *testing.T) {
	p := NewPrometheusExporter(&PrometheusConfig{
		Active:     true,
		ListenAddr: "256.0.0.1:bad",
	})
	err := p.Start()
	require.Error(t, err)

	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr))

	require.NoError(t, p.Stop())
}
