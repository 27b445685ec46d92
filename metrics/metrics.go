// Package metrics implements the ingestion pipeline's counters:
// relaxed atomic counters split into an interval half
// (snapshotted-and-reset on every metrics tick) and a cumulative half,
// plus a thin Prometheus exporter. The split mirrors a Meter/Counter
// pair feeding a Prometheus collector adapter.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ShredMetrics holds the pipeline's counters. All fields are updated
// with relaxed atomics; the interval half is read-and-reset by the
// metrics tick goroutine only.
type ShredMetrics struct {
	Interval   Counters
	Cumulative Counters
}

// Counters is one half (interval or cumulative) of ShredMetrics.
type Counters struct {
	Received     atomic.Uint64
	ForwardedOK  atomic.Uint64
	ForwardedErr atomic.Uint64
	Duplicates   atomic.Uint64
}

func New() *ShredMetrics { return &ShredMetrics{} }

func (m *ShredMetrics) AddReceived(n uint64) {
	m.Interval.Received.Add(n)
	m.Cumulative.Received.Add(n)
}

func (m *ShredMetrics) AddForwardedOK(n uint64) {
	m.Interval.ForwardedOK.Add(n)
	m.Cumulative.ForwardedOK.Add(n)
}

func (m *ShredMetrics) AddForwardedErr(n uint64) {
	m.Interval.ForwardedErr.Add(n)
	m.Cumulative.ForwardedErr.Add(n)
}

func (m *ShredMetrics) AddDuplicates(n uint64) {
	m.Interval.Duplicates.Add(n)
	m.Cumulative.Duplicates.Add(n)
}

// Snapshot is an immutable read of one Counters half.
type Snapshot struct {
	Received     uint64
	ForwardedOK  uint64
	ForwardedErr uint64
	Duplicates   uint64
}

// SnapshotAndResetInterval reads the interval half and zeroes it. The
// cumulative counters use relaxed atomics and tolerate small
// reorderings; this function is the only writer that ever resets the
// interval half, so no lock is required.
func (m *ShredMetrics) SnapshotAndResetInterval() Snapshot {
	return Snapshot{
		Received:     m.Interval.Received.Swap(0),
		ForwardedOK:  m.Interval.ForwardedOK.Swap(0),
		ForwardedErr: m.Interval.ForwardedErr.Swap(0),
		Duplicates:   m.Interval.Duplicates.Swap(0),
	}
}

// CumulativeSnapshot reads the cumulative half without resetting it.
func (m *ShredMetrics) CumulativeSnapshot() Snapshot {
	return Snapshot{
		Received:     m.Cumulative.Received.Load(),
		ForwardedOK:  m.Cumulative.ForwardedOK.Load(),
		ForwardedErr: m.Cumulative.ForwardedErr.Load(),
		Duplicates:   m.Cumulative.Duplicates.Load(),
	}
}

// Collector adapts ShredMetrics to prometheus.Collector so an
// application consumer can register it on its own registry; the core
// never starts an HTTP listener itself (serving /metrics is the
// embedding application's concern).
type Collector struct {
	m            *ShredMetrics
	received     prometheus.Gauge
	forwardedOK  prometheus.Gauge
	forwardedErr prometheus.Gauge
	duplicates   prometheus.Gauge
}

func NewCollector(m *ShredMetrics) *Collector {
	return &Collector{
		m:            m,
		received:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "shredcore", Name: "shreds_received_total"}),
		forwardedOK:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "shredcore", Name: "shreds_forwarded_ok_total"}),
		forwardedErr: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "shredcore", Name: "shreds_forwarded_err_total"}),
		duplicates:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "shredcore", Name: "shreds_duplicates_total"}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.received.Describe(ch)
	c.forwardedOK.Describe(ch)
	c.forwardedErr.Describe(ch)
	c.duplicates.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.CumulativeSnapshot()
	c.received.Set(float64(s.Received))
	c.forwardedOK.Set(float64(s.ForwardedOK))
	c.forwardedErr.Set(float64(s.ForwardedErr))
	c.duplicates.Set(float64(s.Duplicates))
	c.received.Collect(ch)
	c.forwardedOK.Collect(ch)
	c.forwardedErr.Collect(ch)
	c.duplicates.Collect(ch)
}
