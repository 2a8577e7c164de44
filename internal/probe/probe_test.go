package probe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/inventory"
)

type scriptedChecker struct {
	results []Result
	calls   int
}

func (s *scriptedChecker) Check(_ context.Context, _ inventory.Asset) Result {
	result := s.results[s.calls]
	if s.calls < len(s.results)-1 {
		s.calls++
	}
	return result
}

func TestWaitForHealthy_ImmediateSuccess(t *testing.T) {
	checker := &scriptedChecker{results: []Result{{Status: StatusHealthy, Healthy: true}}}

	result := WaitForHealthy(context.Background(), checker, inventory.Asset{}, time.Second, time.Millisecond)
	if !result.Healthy {
		t.Fatalf("expected healthy, got %+v", result)
	}
	if strings.Contains(result.Message, "timeout") {
		t.Fatalf("healthy result must not carry a timeout note: %q", result.Message)
	}
}

func TestWaitForHealthy_RecoversBeforeTimeout(t *testing.T) {
	checker := &scriptedChecker{results: []Result{
		{Status: StatusUnhealthy},
		{Status: StatusDegraded},
		{Status: StatusHealthy, Healthy: true},
	}}

	result := WaitForHealthy(context.Background(), checker, inventory.Asset{}, time.Second, time.Millisecond)
	if !result.Healthy {
		t.Fatalf("expected recovery, got %+v", result)
	}
	if checker.calls != 2 {
		t.Fatalf("expected 3 checks, advanced %d times", checker.calls)
	}
}

func TestWaitForHealthy_TimeoutAnnotates(t *testing.T) {
	checker := &scriptedChecker{results: []Result{{Status: StatusUnhealthy, Message: "0/3 ready"}}}

	result := WaitForHealthy(context.Background(), checker, inventory.Asset{}, 20*time.Millisecond, 5*time.Millisecond)
	if result.Healthy {
		t.Fatalf("expected unhealthy result")
	}
	if !strings.Contains(result.Message, "timeout after") {
		t.Fatalf("expected timeout annotation, got %q", result.Message)
	}
}

func TestWaitForHealthy_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := &scriptedChecker{results: []Result{{Status: StatusUnhealthy, Message: "down"}}}
	result := WaitForHealthy(ctx, checker, inventory.Asset{}, time.Hour, time.Hour)

	if result.Healthy {
		t.Fatalf("expected the last unhealthy result")
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		ready, total int
		want         float64
	}{
		{4, 4, 100.0},
		{2, 4, 50.0},
		{0, 4, 0.0},
		{0, 0, 0.0},
		{3, 0, 0.0},
	}
	for _, tt := range tests {
		if got := percentage(tt.ready, tt.total); got != tt.want {
			t.Fatalf("percentage(%d, %d) = %.1f, want %.1f", tt.ready, tt.total, got, tt.want)
		}
	}
}

func TestBuildSpec(t *testing.T) {
	if _, err := Build(Spec{Type: TypeHTTP}, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for http spec without config")
	}
	if _, err := Build(Spec{Type: TypeTCP}, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for tcp spec without config")
	}
	if _, err := Build(Spec{Type: "exec"}, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	checker, err := Build(Spec{Type: TypeKubernetes}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("kubernetes spec: %v", err)
	}
	if _, ok := checker.(*KubeChecker); !ok {
		t.Fatalf("expected KubeChecker, got %T", checker)
	}
}
