// Package slack sends escalation notifications to Slack via incoming
// webhooks. Delivery is best effort: a failed notification never fails
// the workflow that triggered it.
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

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/orchestrator"
)

const (
	maxDetailLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notice is one escalation to surface to the on-call channel.
type Notice struct {
	WorkflowID string
	AlertName  string
	Reason     string
	Stage      string
	Priority   string
	Detail     string
	OccurredAt time.Time
}

// Notifier sends escalation notices to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// HandleEscalation adapts the notifier to the event bus. Decode or
// delivery failures are logged, never propagated.
func (n *Notifier) HandleEscalation(ctx context.Context, ev *orchestrator.Event) {
	var p orchestrator.EscalationPayload
	if err := ev.DecodePayload(&p); err != nil {
		n.logger.Error(ctx, err, "bad escalation payload", "event_id", ev.ID)
		return
	}
	notice := &Notice{
		WorkflowID: ev.WorkflowID,
		Reason:     p.Reason,
		Stage:      p.Stage,
		Priority:   p.Priority,
		Detail:     p.Detail,
		OccurredAt: ev.OccurredAt,
	}
	if err := n.Send(ctx, notice); err != nil {
		n.logger.Error(ctx, err, "slack notification failed", "workflow_id", ev.WorkflowID)
	}
}

// Send posts an escalation notice to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, notice *Notice) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(notice)

	body, err := json.Marshal(msg)
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

func buildMessage(notice *Notice) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(notice),
			{"type": "divider"},
			fieldsBlock(notice),
			{"type": "divider"},
			detailBlock(notice),
			{"type": "divider"},
			contextBlock(notice),
		},
	}
}

func headerBlock(notice *Notice) map[string]any {
	text := fmt.Sprintf("%s Escalation Required: %s", priorityEmoji(notice.Priority), humanize(notice.Reason))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(notice *Notice) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Workflow:* %s", notice.WorkflowID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %s", notice.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reason:* %s", notice.Reason),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Stage:* %s", orEmpty(notice.Stage, "n/a")),
		},
	}
	if notice.AlertName != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Alert:* %s", notice.AlertName),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func detailBlock(notice *Notice) map[string]any {
	text := truncate(notice.Detail, maxDetailLen)
	if text == "" {
		text = "_No further detail available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Detail*\n\n%s", text),
		},
	}
}

func contextBlock(notice *Notice) map[string]any {
	ts := notice.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("warden • workflow %s • %s", notice.WorkflowID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func priorityEmoji(priority string) string {
	switch strings.ToLower(priority) {
	case "critical", "high":
		return "\U0001f534" // red circle
	case "medium":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// humanize turns a reason code into header prose.
func humanize(reason string) string {
	if reason == "" {
		return "Workflow Escalated"
	}
	return strings.ReplaceAll(reason, "_", " ")
}

func orEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
