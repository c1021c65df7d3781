package kvd

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks per-command counters, connection lifecycle counters,
// keyspace gauges and command latency for one server instance. All
// fields are updated from the single event-loop goroutine except
// where a background goroutine (destructor) is noted.
type Metrics struct {
	mu sync.Mutex // guards commandCounters, below

	commandCounters map[string]*commandCounter

	ConnectionsAccepted     atomic.Uint64
	ConnectionsDisconnected atomic.Uint64
	ConnectionsActive       atomic.Int64

	KeysTotal        atomic.Int64
	ExpiredKeysTotal atomic.Uint64

	AsyncDestroysTotal  atomic.Uint64
	InlineDestroysTotal atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
}

type commandCounter struct {
	calls  atomic.Uint64
	errors atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{commandCounters: make(map[string]*commandCounter)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) counterFor(command string) *commandCounter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commandCounters[command]
	if !ok {
		c = &commandCounter{}
		m.commandCounters[command] = c
	}
	return c
}

// ObserveCommand records one dispatched command: its name, latency and
// whether it produced an Error response frame.
func (m *Metrics) ObserveCommand(name string, latencyNs uint64, success bool) {
	c := m.counterFor(name)
	c.calls.Add(1)
	if !success {
		c.errors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// ObserveConnection adjusts the active-connection gauge and the
// lifetime accept/disconnect counters. delta is +1 on accept, -1 on
// disconnect.
func (m *Metrics) ObserveConnection(delta int) {
	switch {
	case delta > 0:
		m.ConnectionsAccepted.Add(1)
		m.ConnectionsActive.Add(1)
	case delta < 0:
		m.ConnectionsDisconnected.Add(1)
		m.ConnectionsActive.Add(-1)
	}
}

// ObserveExpiration records n keys removed by lazy or active expiration.
func (m *Metrics) ObserveExpiration(n int) {
	if n > 0 {
		m.ExpiredKeysTotal.Add(uint64(n))
	}
}

// ObserveDestroy records one value teardown, inline or offloaded.
func (m *Metrics) ObserveDestroy(async bool) {
	if async {
		m.AsyncDestroysTotal.Add(1)
	} else {
		m.InlineDestroysTotal.Add(1)
	}
}

// SetKeysTotal updates the keyspace size gauge.
func (m *Metrics) SetKeysTotal(n int) {
	m.KeysTotal.Store(int64(n))
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Snapshot is a point-in-time view of the counters, used by the
// Prometheus collector and by tests.
type Snapshot struct {
	ConnectionsAccepted     uint64
	ConnectionsDisconnected uint64
	ConnectionsActive       int64
	KeysTotal               int64
	ExpiredKeysTotal        uint64
	AsyncDestroysTotal      uint64
	InlineDestroysTotal     uint64
	AvgLatencyNs            uint64
	UptimeNs                uint64
	CommandCalls            map[string]uint64
	CommandErrors           map[string]uint64
}

// Snapshot takes a consistent point-in-time copy of the counters.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		ConnectionsAccepted:     m.ConnectionsAccepted.Load(),
		ConnectionsDisconnected: m.ConnectionsDisconnected.Load(),
		ConnectionsActive:       m.ConnectionsActive.Load(),
		KeysTotal:               m.KeysTotal.Load(),
		ExpiredKeysTotal:        m.ExpiredKeysTotal.Load(),
		AsyncDestroysTotal:      m.AsyncDestroysTotal.Load(),
		InlineDestroysTotal:     m.InlineDestroysTotal.Load(),
		UptimeNs:                uint64(time.Now().UnixNano() - m.StartTime.Load()),
		CommandCalls:            make(map[string]uint64),
		CommandErrors:           make(map[string]uint64),
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	m.mu.Lock()
	for name, c := range m.commandCounters {
		snap.CommandCalls[name] = c.calls.Load()
		snap.CommandErrors[name] = c.errors.Load()
	}
	m.mu.Unlock()

	return snap
}

// Prometheus collector wiring: renders atomic counters into
// prometheus.Metric values on demand rather than mirroring them into
// prometheus types on every update.
var (
	commandCallsDesc = prometheus.NewDesc(
		"kvd_command_calls_total", "Commands dispatched, by command name.",
		[]string{"command"}, nil)
	commandErrorsDesc = prometheus.NewDesc(
		"kvd_command_errors_total", "Commands that produced an Error response, by command name.",
		[]string{"command"}, nil)
	connectionsAcceptedDesc = prometheus.NewDesc(
		"kvd_connections_accepted_total", "Connections accepted since start.", nil, nil)
	connectionsActiveDesc = prometheus.NewDesc(
		"kvd_connections_active", "Currently open connections.", nil, nil)
	keysTotalDesc = prometheus.NewDesc(
		"kvd_keys_total", "Keys currently in the keyspace.", nil, nil)
	expiredKeysDesc = prometheus.NewDesc(
		"kvd_expired_keys_total", "Keys removed by lazy or active expiration.", nil, nil)
	asyncDestroysDesc = prometheus.NewDesc(
		"kvd_async_destroys_total", "Large values torn down off the event-loop goroutine.", nil, nil)
	avgLatencyDesc = prometheus.NewDesc(
		"kvd_command_latency_avg_ns", "Average command latency in nanoseconds.", nil, nil)
)

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- commandCallsDesc
	ch <- commandErrorsDesc
	ch <- connectionsAcceptedDesc
	ch <- connectionsActiveDesc
	ch <- keysTotalDesc
	ch <- expiredKeysDesc
	ch <- asyncDestroysDesc
	ch <- avgLatencyDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	snap := m.Snapshot()

	for name, calls := range snap.CommandCalls {
		ch <- prometheus.MustNewConstMetric(commandCallsDesc, prometheus.CounterValue, float64(calls), name)
	}
	for name, errs := range snap.CommandErrors {
		ch <- prometheus.MustNewConstMetric(commandErrorsDesc, prometheus.CounterValue, float64(errs), name)
	}
	ch <- prometheus.MustNewConstMetric(connectionsAcceptedDesc, prometheus.CounterValue, float64(snap.ConnectionsAccepted))
	ch <- prometheus.MustNewConstMetric(connectionsActiveDesc, prometheus.GaugeValue, float64(snap.ConnectionsActive))
	ch <- prometheus.MustNewConstMetric(keysTotalDesc, prometheus.GaugeValue, float64(snap.KeysTotal))
	ch <- prometheus.MustNewConstMetric(expiredKeysDesc, prometheus.CounterValue, float64(snap.ExpiredKeysTotal))
	ch <- prometheus.MustNewConstMetric(asyncDestroysDesc, prometheus.CounterValue, float64(snap.AsyncDestroysTotal))
	ch <- prometheus.MustNewConstMetric(avgLatencyDesc, prometheus.GaugeValue, float64(snap.AvgLatencyNs))
}

var _ prometheus.Collector = (*Metrics)(nil)
