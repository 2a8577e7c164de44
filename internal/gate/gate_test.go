package gate

import (
	"testing"

	"github.com/updatewatch/update-sentinel/internal/version"
)

func TestEvaluatePatchAutoApproved(t *testing.T) {
	g := New(DefaultPolicy())

	eval := g.Evaluate("1.0.0", "1.0.1")

	if eval.Decision != Approve {
		t.Fatalf("expected approve, got %s", eval.Decision)
	}
	if eval.ChangeType != version.ChangePatch {
		t.Fatalf("expected patch change, got %s", eval.ChangeType)
	}
	if !eval.Safe {
		t.Fatalf("expected patch update to be safe")
	}
	if eval.Reason != "Patch version update - auto-approved by policy" {
		t.Fatalf("unexpected reason: %q", eval.Reason)
	}
}

func TestEvaluateMajorNeedsManualApproval(t *testing.T) {
	g := New(DefaultPolicy())

	eval := g.Evaluate("1.0.0", "2.0.0")

	if eval.Decision != ManualApproval {
		t.Fatalf("expected manual_approval, got %s", eval.Decision)
	}
	if eval.ChangeType != version.ChangeMajor {
		t.Fatalf("expected major change, got %s", eval.ChangeType)
	}
	if eval.Safe {
		t.Fatalf("major update must not be safe")
	}
}

func TestEvaluateMinorRequiresReview(t *testing.T) {
	g := New(DefaultPolicy())

	eval := g.Evaluate("1.0.0", "1.1.0")

	if eval.Decision != ReviewRequired {
		t.Fatalf("expected review_required, got %s", eval.Decision)
	}
	if eval.Safe {
		t.Fatalf("minor update under review policy must not be safe")
	}
}

func TestEvaluateMinorSafeUnderAutoPolicy(t *testing.T) {
	policy := DefaultPolicy()
	policy.Minor = ActionAuto
	g := New(policy)

	eval := g.Evaluate("1.0.0", "1.1.0")

	if eval.Decision != Approve {
		t.Fatalf("expected approve, got %s", eval.Decision)
	}
	if !eval.Safe {
		t.Fatalf("minor update under auto policy should be safe")
	}
}

func TestEvaluateMajorNeverSafeEvenUnderAuto(t *testing.T) {
	policy := DefaultPolicy()
	policy.Major = ActionAuto
	g := New(policy)

	eval := g.Evaluate("1.0.0", "2.0.0")

	if eval.Decision != Approve {
		t.Fatalf("expected approve, got %s", eval.Decision)
	}
	if eval.Safe {
		t.Fatalf("major update must never be flagged safe")
	}
}

func TestEvaluateDowngradeRejected(t *testing.T) {
	policy := Policy{Patch: ActionAuto, Minor: ActionAuto, Major: ActionAuto, Prerelease: ActionAuto}
	g := New(policy)

	eval := g.Evaluate("2.0.0", "1.0.0")

	if eval.Decision != Reject {
		t.Fatalf("downgrade must reject regardless of policy, got %s", eval.Decision)
	}
	if eval.Reason != "not an upgrade or unknown version format" {
		t.Fatalf("unexpected reason: %q", eval.Reason)
	}
}

func TestEvaluateUnparseableRejected(t *testing.T) {
	g := New(DefaultPolicy())

	for _, pair := range [][2]string{{"latest", "1.0.0"}, {"1.0.0", "latest"}, {"", "1.0.0"}} {
		eval := g.Evaluate(pair[0], pair[1])
		if eval.Decision != Reject {
			t.Fatalf("Evaluate(%q, %q): expected reject, got %s", pair[0], pair[1], eval.Decision)
		}
		if eval.ChangeType != version.ChangeUnknown {
			t.Fatalf("Evaluate(%q, %q): expected unknown change type, got %s", pair[0], pair[1], eval.ChangeType)
		}
		if eval.Safe {
			t.Fatalf("unknown change must not be safe")
		}
	}
}

func TestEvaluateSkipRejects(t *testing.T) {
	policy := DefaultPolicy()
	policy.Patch = ActionSkip
	g := New(policy)

	eval := g.Evaluate("1.0.0", "1.0.1")

	if eval.Decision != Reject {
		t.Fatalf("skip action must yield reject, got %s", eval.Decision)
	}
}

func TestShouldAutoUpdate(t *testing.T) {
	g := New(DefaultPolicy())

	if !g.ShouldAutoUpdate("1.2.0", "1.2.5") {
		t.Fatalf("patch update should auto-update")
	}
	if g.ShouldAutoUpdate("1.2.0", "2.0.0") {
		t.Fatalf("major update should not auto-update")
	}
}

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		changeType version.ChangeType
		want       string
	}{
		{version.ChangePatch, "low"},
		{version.ChangeMinor, "medium"},
		{version.ChangeMajor, "high"},
		{version.ChangePrerelease, "high"},
		{version.ChangeUnknown, "unknown"},
		{version.ChangeBuild, "unknown"},
	}

	for _, tt := range tests {
		if got := RiskLevel(tt.changeType); got != tt.want {
			t.Fatalf("RiskLevel(%s) = %q, want %q", tt.changeType, got, tt.want)
		}
	}
}

func TestBatchEvaluateSummary(t *testing.T) {
	g := New(DefaultPolicy())

	requests := []Request{
		{ID: "api", Current: "1.0.0", New: "1.0.1"},
		{ID: "web", Current: "1.0.0", New: "1.1.0"},
		{ID: "db", Current: "1.0.0", New: "2.0.0"},
		{ID: "cache", Current: "2.0.0", New: "1.0.0"},
		{ID: "queue", Current: "latest", New: "1.0.0"},
	}

	result := g.BatchEvaluate(requests)

	if len(result.Evaluations) != len(requests) {
		t.Fatalf("expected %d evaluations, got %d", len(requests), len(result.Evaluations))
	}

	s := result.Summary
	if s.Total != 5 || s.Approved != 1 || s.ReviewRequired != 1 || s.ManualApproval != 1 || s.Rejected != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if sum := s.Approved + s.ReviewRequired + s.ManualApproval + s.Rejected; sum != s.Total {
		t.Fatalf("summary counts %d do not sum to total %d", sum, s.Total)
	}
}

func TestBatchEvaluateEmpty(t *testing.T) {
	g := New(DefaultPolicy())

	result := g.BatchEvaluate(nil)

	if result.Summary.Total != 0 || len(result.Evaluations) != 0 {
		t.Fatalf("expected empty batch result, got %+v", result)
	}
}
