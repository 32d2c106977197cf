package service

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultMaxSamples = 200
	slowLoadThreshold = 2 * time.Second
)

// LoadMonitor tracks how loads were answered and how long they took
type LoadMonitor struct {
	mu           sync.RWMutex
	replicaTimes []time.Duration
	networkTimes []time.Duration
	counts       map[OutcomeKind]int64
	slowLoads    int64
	totalLoads   int64
	maxSamples   int
}

// NewLoadMonitor creates a monitor keeping the last maxSamples durations per
// source. Zero or negative uses the default.
func NewLoadMonitor(maxSamples int) *LoadMonitor {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	return &LoadMonitor{
		counts:     make(map[OutcomeKind]int64),
		maxSamples: maxSamples,
	}
}

// Record adds one finished load
func (m *LoadMonitor) Record(kind OutcomeKind, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalLoads++
	m.counts[kind]++
	if duration > slowLoadThreshold {
		m.slowLoads++
	}

	switch kind {
	case OutcomeServedFromCache:
		m.replicaTimes = appendSample(m.replicaTimes, duration, m.maxSamples)
	case OutcomeServedFromNetwork:
		m.networkTimes = appendSample(m.networkTimes, duration, m.maxSamples)
	}
}

func appendSample(samples []time.Duration, d time.Duration, limit int) []time.Duration {
	samples = append(samples, d)
	if len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	return samples
}

// Stats returns a snapshot of the counters
func (m *LoadMonitor) Stats() *LoadStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &LoadStats{
		TotalLoads:     m.totalLoads,
		FromReplica:    m.counts[OutcomeServedFromCache],
		FromNetwork:    m.counts[OutcomeServedFromNetwork],
		Offline:        m.counts[OutcomeServedFromExpiredCache],
		AuthRequired:   m.counts[OutcomeAuthenticationRequired],
		Failures:       m.counts[OutcomeFailure],
		SlowLoads:      m.slowLoads,
		AvgReplicaLoad: average(m.replicaTimes),
		AvgNetworkLoad: average(m.networkTimes),
		P95NetworkLoad: percentile(m.networkTimes, 0.95),
	}
	if answered := stats.FromReplica + stats.FromNetwork; answered > 0 {
		stats.ReplicaHitRate = float64(stats.FromReplica) / float64(answered) * 100
	}
	return stats
}

// Reset clears all counters
func (m *LoadMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replicaTimes = nil
	m.networkTimes = nil
	m.counts = make(map[OutcomeKind]int64)
	m.slowLoads = 0
	m.totalLoads = 0
}

// LoadStats summarizes recorded loads
type LoadStats struct {
	TotalLoads   int64 `json:"totalLoads"`
	FromReplica  int64 `json:"fromReplica"`
	FromNetwork  int64 `json:"fromNetwork"`
	Offline      int64 `json:"offline"`
	AuthRequired int64 `json:"authRequired"`
	Failures     int64 `json:"failures"`
	SlowLoads    int64 `json:"slowLoads"`
	// percentage of answered loads that did not need the network
	ReplicaHitRate float64       `json:"replicaHitRate"`
	AvgReplicaLoad time.Duration `json:"avgReplicaLoad"`
	AvgNetworkLoad time.Duration `json:"avgNetworkLoad"`
	P95NetworkLoad time.Duration `json:"p95NetworkLoad"`
}

func average(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return total / time.Duration(len(samples))
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
