// Package notify delivers failure alerts to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notification is a channel-agnostic alert. Severity selects the attachment
// color: "error", "warning", or anything else for the neutral info color.
type Notification struct {
	Title    string
	Message  string
	Severity string
	Details  string
}

var severityColors = map[string]string{
	"info":    "#3b82f6",
	"success": "#22c55e",
	"warning": "#f59e0b",
	"error":   "#ef4444",
}

// SlackClient posts notifications to a Slack incoming webhook. The limiter
// caps outgoing webhook calls so a burst of failing jobs cannot hammer the
// Slack API; excess notifications inside the burst window are dropped, which
// is acceptable because alerting is best-effort.
type SlackClient struct {
	webhookURL string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewSlackClient(webhookURL string, logger zerolog.Logger) *SlackClient {
	return &SlackClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(10*time.Second), 5),
		logger:     logger.With().Str("component", "slack-notifier").Logger(),
	}
}

// Configured reports whether a webhook URL is set.
func (c *SlackClient) Configured() bool {
	return c.webhookURL != ""
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

// Notify sends one notification. Callers treat errors as advisory.
func (c *SlackClient) Notify(ctx context.Context, n Notification) error {
	if c.webhookURL == "" {
		return fmt.Errorf("slack webhook not configured")
	}
	if !c.limiter.Allow() {
		return fmt.Errorf("slack notification rate limited")
	}

	color, ok := severityColors[n.Severity]
	if !ok {
		color = severityColors["info"]
	}

	fields := []slackField{
		{Title: "Error", Value: n.Message, Short: false},
		{Title: "Time", Value: time.Now().Format("2006-01-02 15:04:05"), Short: true},
	}
	if n.Details != "" {
		fields = append(fields, slackField{Title: "Output (truncated)", Value: "```" + n.Details + "```"})
	}

	payload := slackPayload{
		Text:        fmt.Sprintf(":x: *%s*", n.Title),
		Attachments: []slackAttachment{{Color: color, Fields: fields}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	c.logger.Debug().Str("title", n.Title).Msg("slack notification sent")
	return nil
}
