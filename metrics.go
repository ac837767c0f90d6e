package goidx

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram the client maintains.
type MetricID uint16

const (
	// MetricInteract counts transactions started at the provider.
	MetricInteract MetricID = iota
	// MetricIntrospect counts state fetches for an interaction handle.
	MetricIntrospect
	// MetricRemediationProceed counts remediation steps submitted.
	MetricRemediationProceed
	// MetricRemediationBlocked counts steps or actions refused by flow
	// guardrails.
	MetricRemediationBlocked
	// MetricActionDispatched counts top-level actions invoked.
	MetricActionDispatched
	// MetricTransactionSuccess counts runs ending in token acquisition.
	MetricTransactionSuccess
	// MetricTransactionFailure counts runs ending in an error.
	MetricTransactionFailure
	// MetricTransactionTerminal counts runs ending on a terminal response.
	MetricTransactionTerminal
	// MetricTransactionCanceled counts runs ending canceled.
	MetricTransactionCanceled
	// MetricPolicyViolation counts interaction codes refused by a flow
	// monitor.
	MetricPolicyViolation
	// MetricTokenExchange counts interaction-code exchanges performed.
	MetricTokenExchange
	// MetricTokenAdded counts tokens written to storage.
	MetricTokenAdded
	// MetricTokenRenewed counts successful token renewals.
	MetricTokenRenewed
	// MetricTokenRemoved counts tokens removed from storage.
	MetricTokenRemoved
	// MetricTokenExpired counts expiry timers fired.
	MetricTokenExpired
	// MetricTokenRenewError counts failed or throttled renewals.
	MetricTokenRenewError
	// MetricRunLatency is the Run duration histogram.
	MetricRunLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line so hot-path
// increments from different goroutines do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the client's lock-free counter set. A nil or disabled Metrics
// is safe to use; every method degrades to a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds the counter set per cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the Run latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the metric's latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricRunLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency histogram when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRunLatency].buckets[i])
		}
		s.Histograms[MetricRunLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
