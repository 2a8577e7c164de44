package probe

import (
	"context"
	"time"

	"github.com/updatewatch/update-sentinel/internal/inventory"
)

// Status is the normalized health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Result is the normalized output of one health check. For checks without
// replica semantics (HTTP, TCP) the counts are 1/1 on success and 0/1 on
// failure. HealthPercentage is 0 whenever TotalReplicas is 0.
type Result struct {
	Status           Status         `json:"status"`
	Healthy          bool           `json:"healthy"`
	ReadyReplicas    int            `json:"ready_replicas"`
	TotalReplicas    int            `json:"total_replicas"`
	HealthPercentage float64        `json:"health_percentage"`
	ChecksPassed     []string       `json:"checks_passed"`
	ChecksFailed     []string       `json:"checks_failed"`
	Message          string         `json:"message"`
	Details          map[string]any `json:"details,omitempty"`
}

// Checker executes one kind of health check against an asset.
type Checker interface {
	Check(ctx context.Context, asset inventory.Asset) Result
}

// WaitForHealthy polls the checker until it reports healthy or the timeout
// elapses, returning the last observed result. On timeout the result's
// message is annotated; on context cancellation the last result is
// returned as-is.
func WaitForHealthy(ctx context.Context, checker Checker, asset inventory.Asset, timeout, interval time.Duration) Result {
	deadline := time.Now().Add(timeout)

	var last Result
	for {
		last = checker.Check(ctx, asset)
		if last.Healthy {
			return last
		}
		if time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return last
		case <-time.After(interval):
		}
	}

	last.Message += " (timeout after " + timeout.String() + ")"
	return last
}

func percentage(ready, total int) float64 {
	if total <= 0 {
		return 0.0
	}
	return float64(ready) / float64(total) * 100.0
}
