package ports

import "context"

// HealthChecker probes every RPC endpoint on an interval and feeds the
// results back into endpoint health state.
type HealthChecker interface {
	StartChecking(ctx context.Context) error
	StopChecking(ctx context.Context) error
	// RunChecks probes everything once, outside the schedule.
	RunChecks(ctx context.Context)
}
