package metrics

import "sync/atomic"

// MetricID identifies one counter in the in-process metrics table.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricLockoutTriggered
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricMassRevocation
	MetricTokenInvalid
	MetricTokenExpired
	MetricRateLimitBlocked
	MetricCSRFRejected
	MetricLogout
	MetricLogoutAll
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricStoreTimeout

	MetricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

// Config controls whether the metrics table records anything at all.
type Config struct {
	Enabled bool
}

// Metrics holds one padded atomic counter per MetricID. A nil or disabled
// Metrics is safe to use; every operation becomes a no-op.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	m.counters[id].value.Add(1)
}

func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return 0
	}
	return m.counters[id].value.Load()
}

func (m *Metrics) TakeSnapshot() Snapshot {
	snap := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		snap.Counters[id] = m.counters[id].value.Load()
	}
	return snap
}
