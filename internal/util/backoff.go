package util

import (
	"math"
	"time"
)

// CalculateReconnectDelay computes the websocket reconnect delay for a
// 1-based attempt number.
// Formula: min(baseDelay * 2^(attempt-1), maxDelay) + uniform(0, jitter)
func CalculateReconnectDelay(attempt int, baseDelay, maxDelay, jitter time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitter > 0 {
		// Time-based pseudo-random avoids import of math/rand
		pseudoRandom := float64(time.Now().UnixNano()%1000) / 1000.0
		backoff += float64(jitter) * pseudoRandom
	}

	return time.Duration(backoff)
}

// CalculateRetryBackoff computes the pause before retry attempt n of an RPC
// operation. Linear progression: attempt * step.
func CalculateRetryBackoff(attempt int, step time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(attempt) * step
}
