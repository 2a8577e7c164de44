package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"source":"{{ .Source }}","events":{{ toJson .Events }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Source      string
	Events      []Event
	GeneratedAt time.Time
}

// WebhookNotifier sends update events to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	sender   *sender
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		sender:   newSender(logger, "webhook", webhookURL, "application/json", defaultSendPolicy()),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, source string, events []Event) error {
	if len(events) == 0 || n == nil {
		return nil
	}

	sourceName := source
	if sourceName == "" {
		sourceName = "default"
	}

	if err := n.sender.acquire(ctx, rateKey(sourceName, events)); err != nil {
		return err
	}

	payload := WebhookPayload{
		Source:      sourceName,
		Events:      events,
		GeneratedAt: time.Now().UTC(),
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}

	if err := n.sender.deliver(ctx, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("source", sourceName).
		Int("events", len(events)).
		Msg("webhook notification sent")

	return nil
}
