package stats

import (
	"math/rand/v2"
	"sort"
	"sync"
)

const DefaultLatencySampleSize = 100

// ReservoirSampler keeps a bounded, uniformly drawn sample of latency
// observations so percentiles stay cheap to read on hot paths. Memory is
// fixed at sampleSize regardless of how many values arrive.
type ReservoirSampler struct {
	samples    []int64
	sampleSize int
	count      int64
	mu         sync.Mutex
}

func NewReservoirSampler(sampleSize int) *ReservoirSampler {
	if sampleSize <= 0 {
		sampleSize = DefaultLatencySampleSize
	}
	return &ReservoirSampler{
		sampleSize: sampleSize,
		samples:    make([]int64, 0, sampleSize),
	}
}

func (rs *ReservoirSampler) Add(value int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.count++
	if len(rs.samples) < rs.sampleSize {
		rs.samples = append(rs.samples, value)
		return
	}

	// Every arrival keeps an equal chance of landing in the sample
	j := rand.Int64N(rs.count) //nolint:gosec // statistical sampling, not security
	if j < int64(rs.sampleSize) {
		rs.samples[j] = value
	}
}

// GetPercentiles returns the 50th, 95th and 99th percentiles of the current
// sample. All zero before the first value arrives.
func (rs *ReservoirSampler) GetPercentiles() (p50, p95, p99 int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.samples) == 0 {
		return 0, 0, 0
	}

	sorted := make([]int64, len(rs.samples))
	copy(sorted, rs.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return sorted[percentileIndex(len(sorted), 50)],
		sorted[percentileIndex(len(sorted), 95)],
		sorted[percentileIndex(len(sorted), 99)]
}

func (rs *ReservoirSampler) Count() int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.count
}

func (rs *ReservoirSampler) Reset() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.samples = rs.samples[:0]
	rs.count = 0
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}
