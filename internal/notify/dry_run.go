package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRunNotifier logs events without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, source string, events []Event) error {
	for _, event := range events {
		n.logger.Info().
			Str("source", source).
			Str("asset", event.Asset).
			Str("phase", string(event.Phase)).
			Str("from_version", event.FromVersion).
			Str("to_version", event.ToVersion).
			Str("reason", event.Reason).
			Msg("[DRY-RUN] Would notify")
	}
	return nil
}
