// Package slack posts issue-created notifications to Slack incoming webhooks.
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

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/pipeline"
)

const (
	maxDescriptionLen = 3000
	maxHeaderLen      = 150
	httpTimeout       = 10 * time.Second
)

// Notifier sends notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

var _ pipeline.Notifier = (*Notifier)(nil)

// New creates a Slack notifier posting to webhookURL unless a notification
// names its own webhook. With neither set, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Notify posts a message about a created issue.
func (n *Notifier) Notify(ctx context.Context, msg *pipeline.Notification) error {
	url := n.webhookURL
	if msg.WebhookURL != "" {
		url = msg.WebhookURL
	}
	if url == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(msg, time.Now()))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhook URL comes from operator config or tenant policy
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "issue", msg.IssueKey)
	return nil
}

func buildMessage(n *pipeline.Notification, now time.Time) map[string]any {
	al := n.Alert
	if al == nil {
		al = &alert.Normalized{}
	}
	return map[string]any{
		"text": fmt.Sprintf("Security issue %s created for %s", n.IssueKey, n.Repository),
		"blocks": []map[string]any{
			headerBlock(n, al),
			{"type": "divider"},
			fieldsBlock(n, al),
			{"type": "divider"},
			descriptionBlock(al),
			{"type": "divider"},
			contextBlock(n, now),
		},
	}
}

func headerBlock(n *pipeline.Notification, al *alert.Normalized) map[string]any {
	text := fmt.Sprintf("%s %s: %s", severityEmoji(al.Rule.EffectiveSeverity), al.Type.Label(), al.Title())
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, maxHeaderLen),
		},
	}
}

func fieldsBlock(n *pipeline.Notification, al *alert.Normalized) map[string]any {
	issue := n.IssueKey
	if n.IssueURL != "" {
		issue = fmt.Sprintf("<%s|%s>", n.IssueURL, n.IssueKey)
	}
	fields := []map[string]any{
		mrkdwn("*Issue:* %s", issue),
		mrkdwn("*Severity:* %s", orNA(al.Rule.EffectiveSeverity)),
		mrkdwn("*Repository:* %s", orNA(n.Repository)),
		mrkdwn("*Rule:* %s", orNA(al.Rule.ID)),
		mrkdwn("*Story:* %s", orNA(n.Story)),
		mrkdwn("*File:* %s", orNA(al.Location.Path)),
	}
	if n.PRURL != "" {
		fields = append(fields, mrkdwn("*Pull request:* <%s|view>", n.PRURL))
	}
	if al.URL != "" {
		fields = append(fields, mrkdwn("*Alert:* <%s|#%d>", al.URL, al.Number))
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func descriptionBlock(al *alert.Normalized) map[string]any {
	text := al.Rule.LongDescription
	if text == "" {
		text = al.Rule.ShortDescription
	}
	text = truncate(text, maxDescriptionLen)
	if text == "" {
		text = "_No description available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Description*\n\n%s", text),
		},
	}
}

func contextBlock(n *pipeline.Notification, now time.Time) map[string]any {
	elements := []map[string]any{
		mrkdwn("warden • tenant %s • %s", n.TenantID, now.UTC().Format("2006-01-02 15:04 UTC")),
	}
	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func mrkdwn(format string, args ...any) map[string]any {
	return map[string]any{
		"type": "mrkdwn",
		"text": fmt.Sprintf(format, args...),
	}
}

func severityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "critical", "high", "error":
		return "\U0001f534" // red circle
	case "medium", "warning":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
