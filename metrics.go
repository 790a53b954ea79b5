package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID indexes the engine's in-process counters.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricLoginDelayed
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFAReplayBlocked
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodesRegenerated
	MetricRefreshSuccess
	MetricRefreshReuseDetected
	MetricRefreshFailure
	MetricVerifySuccess
	MetricVerifyFailure
	MetricLogout
	MetricRevokeAll
	MetricSessionCreated
	MetricSessionEvicted
	MetricNewIPObserved
	MetricIPVelocityFlagged
	MetricStoreError
	MetricVerifyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// Metrics holds lock-free counters, one cache line each so hot counters
// on different cores do not false-share.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a collector honoring the config toggles.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter. Safe on a nil or disabled collector.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a token verification latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricVerifyLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter atomically enough for dashboards; the
// values are individually consistent, not cross-consistent.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifyLatency].buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	switch {
	case ms <= 1:
		return 0
	case ms <= 5:
		return 1
	case ms <= 10:
		return 2
	case ms <= 25:
		return 3
	case ms <= 50:
		return 4
	case ms <= 100:
		return 5
	case ms <= 250:
		return 6
	default:
		return 7
	}
}
