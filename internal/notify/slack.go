package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackNotifier sends fix notifications to a Slack webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a SlackNotifier with the given webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

// slackText represents a text object in Slack Block Kit.
type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// slackPayload is the top-level Slack message payload.
type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

func mrkdwn(text string) slackBlock {
	return slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}}
}

// BuildSlackPayload creates the Slack Block Kit message payload for a report.
func BuildSlackPayload(r Report) slackPayload {
	location := fmt.Sprintf("*<%s|%s>* in `%s`",
		FileURL(r.Repo, r.File, r.Line), FormatLocation(r.File, r.Line, r.EndLine), r.Repo)

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: Title(r)},
		},
		mrkdwn(fmt.Sprintf(":page_facing_up: %s", location)),
		mrkdwn(fmt.Sprintf("*%s issue:* %s", r.IssueType, Truncate(r.Description, maxDescriptionLen))),
	}

	if r.URL != "" {
		blocks = append(blocks, mrkdwn(fmt.Sprintf(":link: *Pull Request:* <%s>", r.URL)))
	}
	if r.Detail != "" {
		blocks = append(blocks, mrkdwn(fmt.Sprintf("*Diff size:* %s", r.Detail)))
	}

	return slackPayload{Blocks: blocks}
}

// Notify sends a Slack notification for the given report.
// Callers are expected to wrap this with retry logic if needed.
func (s *SlackNotifier) Notify(ctx context.Context, r Report) error {
	body, err := json.Marshal(BuildSlackPayload(r))
	if err != nil {
		return fmt.Errorf("marshaling slack payload: %w", err)
	}
	return s.post(ctx, body)
}

func (s *SlackNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
