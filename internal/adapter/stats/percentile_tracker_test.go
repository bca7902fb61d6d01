package stats

import (
	"testing"
)

func TestReservoirSampler(t *testing.T) {
	t.Run("percentile ordering", func(t *testing.T) {
		rs := NewReservoirSampler(10)

		for i := int64(1); i <= 20; i++ {
			rs.Add(i * 10)
		}

		if rs.Count() != 20 {
			t.Errorf("Expected count 20, got %d", rs.Count())
		}

		p50, p95, p99 := rs.GetPercentiles()
		if p50 == 0 || p95 == 0 || p99 == 0 {
			t.Error("Percentiles should not be zero")
		}
		if p50 > p95 || p95 > p99 {
			t.Errorf("Invalid percentile ordering: p50=%d, p95=%d, p99=%d", p50, p95, p99)
		}
	})

	t.Run("empty sampler", func(t *testing.T) {
		rs := NewReservoirSampler(10)

		p50, p95, p99 := rs.GetPercentiles()
		if p50 != 0 || p95 != 0 || p99 != 0 {
			t.Error("Empty sampler should return zero percentiles")
		}
	})

	t.Run("single value", func(t *testing.T) {
		rs := NewReservoirSampler(10)
		rs.Add(100)

		p50, p95, p99 := rs.GetPercentiles()
		if p50 != 100 || p95 != 100 || p99 != 100 {
			t.Error("Single value should back every percentile")
		}
	})

	t.Run("bounded memory under load", func(t *testing.T) {
		rs := NewReservoirSampler(50)

		for i := 0; i < 10_000; i++ {
			rs.Add(int64(i))
		}

		if rs.Count() != 10_000 {
			t.Errorf("Expected count 10000, got %d", rs.Count())
		}
		if got := len(rs.samples); got != 50 {
			t.Errorf("Sample size should stay at 50, got %d", got)
		}
	})

	t.Run("reset", func(t *testing.T) {
		rs := NewReservoirSampler(10)

		for i := 0; i < 100; i++ {
			rs.Add(int64(i))
		}

		rs.Reset()

		if rs.Count() != 0 {
			t.Error("Count should be 0 after reset")
		}

		p50, p95, p99 := rs.GetPercentiles()
		if p50 != 0 || p95 != 0 || p99 != 0 {
			t.Error("Percentiles should be 0 after reset")
		}
	})

	t.Run("zero sample size falls back to default", func(t *testing.T) {
		rs := NewReservoirSampler(0)

		if rs.sampleSize != DefaultLatencySampleSize {
			t.Errorf("Expected default sample size %d, got %d", DefaultLatencySampleSize, rs.sampleSize)
		}
	})
}

func BenchmarkReservoirSampler(b *testing.B) {
	rs := NewReservoirSampler(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rs.Add(int64(i % 1000))
	}
}
