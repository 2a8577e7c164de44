package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) Notify(context.Context, string, []Event) error {
	n.calls++
	return nil
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	inner := &countingNotifier{}
	dryRun := NewDryRunNotifier(zerolog.Nop(), inner)

	events := []Event{
		{Asset: "api", Phase: PhaseUpdateFailed, Reason: "upgrade failed"},
	}

	if err := dryRun.Notify(context.Background(), "prod", events); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected no notifier calls, got %d", inner.calls)
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	a := &countingNotifier{}
	b := &countingNotifier{}
	multi := NewMultiNotifier(a, nil, b)

	if err := multi.Notify(context.Background(), "prod", makeEvents(1)); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("expected both notifiers called once, got %d/%d", a.calls, b.calls)
	}
}
