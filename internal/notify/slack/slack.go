// Package slack sends incident escalations to Slack via incoming webhooks.
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

	"github.com/linnemanlabs/repute/internal/incident"
)

const (
	maxDraftLen = 2000
	maxClaimLen = 500
	httpTimeout = 10 * time.Second
)

// Notifier posts escalations to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
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

// Notify posts an escalation to the configured Slack webhook.
func (n *Notifier) Notify(ctx context.Context, esc *incident.Escalation) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(esc))
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

	n.logger.Info(ctx, "escalation posted to slack", "incident_id", esc.Incident.ID, "to", esc.To)
	return nil
}

func buildMessage(esc *incident.Escalation) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(esc),
			{"type": "divider"},
			fieldsBlock(esc),
			{"type": "divider"},
			claimBlock(esc.Incident),
			draftBlock(esc.Incident),
			{"type": "divider"},
			contextBlock(esc.Incident),
		},
	}
}

func headerBlock(esc *incident.Escalation) map[string]any {
	title := "Incident escalated"
	if esc.From == incident.StatusClosed {
		title = "Incident reopened"
	}
	text := fmt.Sprintf("%s %s: %s", riskEmoji(esc.Incident.RiskScore), title, esc.Incident.Title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

func fieldsBlock(esc *incident.Escalation) map[string]any {
	inc := esc.Incident
	bd := inc.Breakdown

	ctxSource := bd.ContextSource
	if bd.Degraded {
		ctxSource += " (degraded)"
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s → %s", esc.From, esc.To),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Risk score:* %.2f", inc.RiskScore),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Mentions:* %d from %d sources", bd.Mentions, bd.Sources),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reach:* %d", bd.Reach),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Context:* %s", ctxSource),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Why:* %s", esc.Reason),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

// claimBlock quotes the most recent mention.
func claimBlock(inc *incident.Incident) map[string]any {
	text := "_No mentions._"
	if n := len(inc.Mentions); n > 0 {
		m := inc.Mentions[n-1]
		text = fmt.Sprintf("*Latest mention* (%s, %s)\n>%s", m.Source, m.SourceID, truncate(oneLine(m.RawText), maxClaimLen))
		if m.URL != "" {
			text += "\n" + m.URL
		}
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func draftBlock(inc *incident.Incident) map[string]any {
	text := truncate(inc.ResponseDraft, maxDraftLen)
	if text == "" {
		text = "_No response draft available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Suggested response*\n\n%s", text),
		},
	}
}

func contextBlock(inc *incident.Incident) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("repute • incident %s • %s", inc.ID, inc.LastTransitionAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func riskEmoji(score float64) string {
	switch {
	case score >= 80:
		return "\U0001f534" // red circle
	case score >= 60:
		return "\U0001f7e0" // orange circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
