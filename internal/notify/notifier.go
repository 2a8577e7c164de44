package notify

import (
	"context"
)

// Phase marks where in the update lifecycle an event was emitted.
type Phase string

const (
	PhaseEvaluated       Phase = "evaluated"
	PhaseUpdateApplied   Phase = "update_applied"
	PhaseUpdateConfirmed Phase = "update_confirmed"
	PhaseUpdateFailed    Phase = "update_failed"
	PhaseRolledBack      Phase = "rolled_back"
	PhaseRollbackBlocked Phase = "rollback_blocked"
)

// Event is one update lifecycle notification.
type Event struct {
	Asset       string `json:"asset"`
	Namespace   string `json:"namespace,omitempty"`
	Phase       Phase  `json:"phase"`
	Decision    string `json:"decision,omitempty"`
	FromVersion string `json:"from_version,omitempty"`
	ToVersion   string `json:"to_version,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Notifier delivers update lifecycle events to external systems. The
// source identifies which manifest the events came from.
type Notifier interface {
	Notify(ctx context.Context, source string, events []Event) error
}
