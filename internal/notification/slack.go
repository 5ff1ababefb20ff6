package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// SlackSender posts escalations to a Slack channel through chat.postMessage.
type SlackSender struct {
	botToken   string
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackSender creates a Slack notification sender.
func NewSlackSender(botToken string, logger *slog.Logger) *SlackSender {
	return &SlackSender{
		botToken:   botToken,
		apiURL:     slackPostMessageURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (s *SlackSender) Type() string { return domain.ChannelSlack }

func (s *SlackSender) Send(ctx context.Context, ch *domain.NotificationChannel, msg *Message) error {
	channelID := ch.Config["channel_id"]
	if channelID == "" {
		return fmt.Errorf("slack channel %q missing channel_id in config", ch.Name)
	}

	body, err := json.Marshal(map[string]any{
		"channel": channelID,
		"text":    slackText(msg),
		"mrkdwn":  true,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned %d: %s", resp.StatusCode, string(respBody))
	}

	// Slack answers 200 on application errors too.
	var slackResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err == nil && !slackResp.OK {
		return fmt.Errorf("slack API error: %s", slackResp.Error)
	}
	return nil
}

// slackText renders the subject in bold, the body, and the metadata as a
// sorted key list.
func slackText(msg *Message) string {
	var b strings.Builder
	if msg.Subject != "" {
		fmt.Fprintf(&b, "*%s*\n", msg.Subject)
	}
	b.WriteString(msg.Body)
	if len(msg.Metadata) > 0 {
		keys := make([]string, 0, len(msg.Metadata))
		for k := range msg.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n• %s: `%s`", k, msg.Metadata[k])
		}
	}
	return b.String()
}
