package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Slack posts notifications to an incoming webhook as a colored attachment
// carrying the run fields and the summary table.
type Slack struct {
	webhookURL string
	client     *http.Client
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Fallback   string       `json:"fallback"`
	Color      string       `json:"color"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []slackField `json:"fields,omitempty"`
	MarkdownIn []string     `json:"mrkdwn_in,omitempty"`
	Footer     string       `json:"footer"`
	Timestamp  int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlack creates a Slack notifier. An empty URL disables it.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func levelColor(l Level) string {
	switch l {
	case LevelSuccess:
		return "good"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "danger"
	default:
		return "#439FE0"
	}
}

func slackMessage(n Notification) slackPayload {
	att := slackAttachment{
		Fallback: n.Title,
		Color:    levelColor(n.Level),
		Title:    strings.TrimSpace(n.BatchName + " " + n.BatchRunID),
		Footer:   "batchctl",
	}
	if n.Body != "" {
		att.Text = "```\n" + n.Body + "\n```"
		att.MarkdownIn = []string{"text"}
	}
	for _, f := range n.Fields {
		att.Fields = append(att.Fields, slackField{Title: f.Name, Value: f.Value, Short: f.Short})
	}
	if !n.At.IsZero() {
		att.Timestamp = n.At.Unix()
	}
	return slackPayload{Text: n.Title, Attachments: []slackAttachment{att}}
}

func (s *Slack) Send(ctx context.Context, n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(slackMessage(n))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
