// Package slack announces new catalog targets on a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/sdtom/internal/jobs"
)

const (
	maxNameLen  = 150
	httpTimeout = 10 * time.Second
)

// Notifier posts new target events to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, TargetCreated is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// TargetCreated posts ev to the configured webhook.
func (n *Notifier) TargetCreated(ctx context.Context, ev *jobs.TargetEvent) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(ev))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(ev *jobs.TargetEvent) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("New target %s", ev.Name),
		"blocks": []map[string]any{
			headerBlock(ev),
			fieldsBlock(ev),
			contextBlock(ev),
		},
	}
}

func headerBlock(ev *jobs.TargetEvent) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": "✨ New target: " + truncate(ev.Name, maxNameLen),
		},
	}
}

func fieldsBlock(ev *jobs.TargetEvent) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*RA:* %.5f", ev.RA)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Dec:* %+.5f", ev.Dec)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Query:* %s", escape(ev.Query))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Broker:* %s", escape(ev.Broker))},
	}
	if ev.Mag != 0 {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Mag:* %.2f", ev.Mag)})
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(ev *jobs.TargetEvent) map[string]any {
	ts := ev.Created
	if ts.IsZero() {
		ts = time.Now()
	}
	text := fmt.Sprintf("sdtom • target %d • %s", ev.TargetID, ts.UTC().Format("2006-01-02 15:04 UTC"))
	if ev.URL != "" {
		text += fmt.Sprintf(" • <%s|broker page>", ev.URL)
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": text},
		},
	}
}

// escape neutralises the characters Slack treats as markup in mrkdwn text.
func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
