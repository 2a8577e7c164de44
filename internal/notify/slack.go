package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header block + context block in each message
	slackReservedBlocks = 2
	slackMaxEvents      = slackMaxBlocks - slackReservedBlocks
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	policy     sendPolicy
	sender     *sender
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides delivery timing (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.policy.throttleEvery = rateInterval
		s.policy.throttleBurst = rateBurst
		s.policy.retryBase = backoffInitial
		s.policy.retryCap = backoffMax
		s.policy.retryBudget = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		policy:     defaultSendPolicy(),
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.sender = newSender(logger, "slack", webhookURL, "application/json", notifier.policy)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, source string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sourceName := source
	if sourceName == "" {
		sourceName = "default"
	}
	if err := n.sender.acquire(ctx, rateKey(sourceName, events)); err != nil {
		return err
	}

	messages := buildSlackMessages(sourceName, events)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.sender.deliver(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("source", sourceName).
		Int("events", len(events)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func buildSlackMessages(source string, events []Event) []slack.WebhookMessage {
	if len(events) == 0 {
		return nil
	}
	if slackMaxEvents <= 0 {
		return []slack.WebhookMessage{buildSlackMessage(source, events, len(events), 1, 1)}
	}

	total := len(events)
	chunkTotal := (total + slackMaxEvents - 1) / slackMaxEvents
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxEvents {
		end := i + slackMaxEvents
		if end > total {
			end = total
		}
		partIndex := (i / slackMaxEvents) + 1
		messages = append(messages, buildSlackMessage(source, events[i:end], total, partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(source string, events []Event, total int, partIndex int, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("Source %s: %d update event(s)", source, total)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Source: *%s*", source), false, false),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	context := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, context}
	for _, event := range events {
		blocks = append(blocks, buildEventBlock(event))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildEventBlock(event Event) slack.Block {
	title := fmt.Sprintf("*%s*: %s %s", event.Asset, phaseEmoji(event.Phase), phaseLabel(event.Phase))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 4)
	if event.FromVersion != "" || event.ToVersion != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn",
			fmt.Sprintf("*Version:*\n`%s` → `%s`", orUnknown(event.FromVersion), orUnknown(event.ToVersion)), false, false))
	}
	if event.Decision != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Decision:*\n"+event.Decision, false, false))
	}
	if event.Namespace != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Namespace:*\n"+event.Namespace, false, false))
	}
	if event.Reason != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Reason:*\n"+event.Reason, false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func phaseLabel(phase Phase) string {
	if phase == "" {
		return "UNKNOWN"
	}
	return string(phase)
}

func phaseEmoji(phase Phase) string {
	switch phase {
	case PhaseUpdateConfirmed:
		return ":white_check_mark:"
	case PhaseUpdateFailed, PhaseRollbackBlocked:
		return ":x:"
	case PhaseRolledBack:
		return ":leftwards_arrow_with_hook:"
	default:
		return ":information_source:"
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
