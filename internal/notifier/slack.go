package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackNotifier posts notifications to a Slack incoming webhook. The recipient
// is used as the target channel.
type SlackNotifier struct {
	webhookURL string
	username   string
	httpClient *http.Client
}

type slackMessage struct {
	Channel   string `json:"channel,omitempty"`
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

func NewSlackNotifier(webhookURL string) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL cannot be empty")
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		username:   "Fleet Monitor",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (s *SlackNotifier) Notify(ctx context.Context, recipient, text string) error {
	payload, err := json.Marshal(slackMessage{
		Channel:   recipient,
		Text:      text,
		Username:  s.username,
		IconEmoji: ":rotating_light:",
	})
	if err != nil {
		return fmt.Errorf("error marshaling Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response status: %s", resp.Status)
	}
	return nil
}
