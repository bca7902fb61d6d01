package util

import (
	"testing"
	"time"
)

func TestCalculateReconnectDelay(t *testing.T) {
	base := 1000 * time.Millisecond
	max := 30 * time.Second
	jitter := 1000 * time.Millisecond

	tests := []struct {
		name    string
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{"attempt 1 starts at base", 1, 1000 * time.Millisecond, 2000 * time.Millisecond},
		{"attempt 2 doubles", 2, 2000 * time.Millisecond, 3000 * time.Millisecond},
		{"attempt 3 doubles again", 3, 4000 * time.Millisecond, 5000 * time.Millisecond},
		{"attempt 6 hits the cap", 6, 30000 * time.Millisecond, 31000 * time.Millisecond},
		{"attempt 10 stays capped", 10, 30000 * time.Millisecond, 31000 * time.Millisecond},
		{"attempt 0 is zero", 0, 0, 0},
		{"negative attempt is zero", -3, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateReconnectDelay(tc.attempt, base, max, jitter)
			if got < tc.min || got > tc.max {
				t.Errorf("attempt %d: delay %v outside [%v, %v]", tc.attempt, got, tc.min, tc.max)
			}
		})
	}
}

func TestCalculateReconnectDelayNoJitter(t *testing.T) {
	got := CalculateReconnectDelay(4, time.Second, time.Minute, 0)
	if got != 8*time.Second {
		t.Errorf("expected exactly 8s without jitter, got %v", got)
	}
}

func TestCalculateRetryBackoff(t *testing.T) {
	step := 100 * time.Millisecond
	for attempt, want := range map[int]time.Duration{
		0: 0,
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 300 * time.Millisecond,
	} {
		if got := CalculateRetryBackoff(attempt, step); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}
