package gate

import (
	"fmt"
	"strings"

	"github.com/updatewatch/update-sentinel/internal/version"
)

// Action is the policy-configured handling for a change type.
type Action string

const (
	ActionAuto   Action = "auto"
	ActionReview Action = "review"
	ActionManual Action = "manual"
	ActionSkip   Action = "skip"
)

// Decision is the gate's verdict on a proposed update.
type Decision string

const (
	Approve        Decision = "approve"
	ReviewRequired Decision = "review_required"
	ManualApproval Decision = "manual_approval"
	Reject         Decision = "reject"
)

// Policy maps each change type to an action. Change types without an
// entry here (unknown, build, no_change) always resolve to manual.
type Policy struct {
	Patch      Action `yaml:"patch"`
	Minor      Action `yaml:"minor"`
	Major      Action `yaml:"major"`
	Prerelease Action `yaml:"prerelease"`
}

// DefaultPolicy returns the stock gate policy: patches flow through,
// minors need review, majors and prereleases need a human.
func DefaultPolicy() Policy {
	return Policy{
		Patch:      ActionAuto,
		Minor:      ActionReview,
		Major:      ActionManual,
		Prerelease: ActionManual,
	}
}

// Evaluation is the immutable outcome of gating one proposed update.
type Evaluation struct {
	CurrentVersion string             `json:"current_version"`
	NewVersion     string             `json:"new_version"`
	ChangeType     version.ChangeType `json:"change_type"`
	Action         Action             `json:"action,omitempty"`
	Decision       Decision           `json:"decision"`
	Safe           bool               `json:"safe"`
	Reason         string             `json:"reason"`
}

// Gate converts classified version changes into approval decisions.
type Gate struct {
	policy Policy
}

// New constructs a Gate with the given policy.
func New(policy Policy) *Gate {
	return &Gate{policy: policy}
}

// Evaluate gates a single proposed update. Anything that is not strictly
// an upgrade is rejected before any policy lookup happens.
func (g *Gate) Evaluate(current, next string) Evaluation {
	ordering, changeType := version.Compare(current, next)

	if ordering != version.Greater {
		return Evaluation{
			CurrentVersion: current,
			NewVersion:     next,
			ChangeType:     changeType,
			Decision:       Reject,
			Safe:           false,
			Reason:         "not an upgrade or unknown version format",
		}
	}

	action := g.actionFor(changeType)
	decision := actionToDecision(action)

	return Evaluation{
		CurrentVersion: current,
		NewVersion:     next,
		ChangeType:     changeType,
		Action:         action,
		Decision:       decision,
		Safe:           isSafeChange(changeType, action),
		Reason:         reasonFor(changeType, decision),
	}
}

// ShouldAutoUpdate reports whether the update would be approved outright.
func (g *Gate) ShouldAutoUpdate(current, next string) bool {
	return g.Evaluate(current, next).Decision == Approve
}

func (g *Gate) actionFor(changeType version.ChangeType) Action {
	switch changeType {
	case version.ChangePatch:
		return g.policy.Patch
	case version.ChangeMinor:
		return g.policy.Minor
	case version.ChangeMajor:
		return g.policy.Major
	case version.ChangePrerelease:
		return g.policy.Prerelease
	default:
		return ActionManual
	}
}

func actionToDecision(action Action) Decision {
	switch action {
	case ActionAuto:
		return Approve
	case ActionReview:
		return ReviewRequired
	case ActionManual:
		return ManualApproval
	case ActionSkip:
		return Reject
	default:
		return ManualApproval
	}
}

// isSafeChange: patches are always safe, minors only under auto, and
// majors/prereleases never qualify regardless of the configured action.
func isSafeChange(changeType version.ChangeType, action Action) bool {
	if changeType == version.ChangePatch {
		return true
	}
	if changeType == version.ChangeMinor && action == ActionAuto {
		return true
	}
	return false
}

func reasonFor(changeType version.ChangeType, decision Decision) string {
	label := capitalize(string(changeType))
	switch decision {
	case Approve:
		return fmt.Sprintf("%s version update - auto-approved by policy", label)
	case ReviewRequired:
		return fmt.Sprintf("%s version update - requires review", label)
	case ManualApproval:
		return fmt.Sprintf("%s version update - requires manual approval", label)
	case Reject:
		return fmt.Sprintf("%s version update - rejected by policy", label)
	}
	return "Unknown decision reason"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// RiskLevel grades a change type for reporting. It plays no part in the
// decision itself.
func RiskLevel(changeType version.ChangeType) string {
	switch changeType {
	case version.ChangePatch:
		return "low"
	case version.ChangeMinor:
		return "medium"
	case version.ChangeMajor, version.ChangePrerelease:
		return "high"
	default:
		return "unknown"
	}
}
