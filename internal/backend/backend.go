package backend

import (
	"context"
	"time"
)

// Status describes the outcome of an execution backend operation.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusPending    Status = "pending"
	StatusRolledBack Status = "rolled_back"
)

// Options tune how an upgrade or rollback is applied.
type Options struct {
	DryRun  bool
	Atomic  bool
	Wait    bool
	Timeout time.Duration
}

// UpgradeRequest asks the backend to move a release to a target version.
type UpgradeRequest struct {
	Release   string
	ChartRef  string
	Version   string
	Namespace string
	Options   Options
}

// RollbackRequest asks the backend to revert a release. Revision 0 means
// "the previous revision".
type RollbackRequest struct {
	Release   string
	Namespace string
	Revision  int
	Options   Options
}

// UpdateResult reports what the backend did.
type UpdateResult struct {
	Success  bool
	Status   Status
	Revision int
	Duration time.Duration
	Message  string
	Err      error
}

// Revision is one entry of a release's history.
type Revision struct {
	Revision   int    `json:"revision"`
	Updated    string `json:"updated"`
	Status     string `json:"status"`
	Chart      string `json:"chart"`
	AppVersion string `json:"app_version"`
}

// ExecutionBackend performs upgrades and rollbacks against the target
// runtime. Implementations are adapters around external systems; failures
// come back as failed UpdateResults, not panics.
type ExecutionBackend interface {
	Upgrade(ctx context.Context, req UpgradeRequest) UpdateResult
	Rollback(ctx context.Context, req RollbackRequest) UpdateResult
	History(ctx context.Context, release, namespace string, max int) ([]Revision, error)
}
