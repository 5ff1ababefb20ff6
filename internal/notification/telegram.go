package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

const (
	telegramAPIBase    = "https://api.telegram.org/bot"
	telegramSafeMaxLen = 4000 // Telegram caps messages at 4096 characters.
)

// TelegramSender posts escalations to a Telegram chat through the Bot API.
type TelegramSender struct {
	botToken   string
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTelegramSender creates a Telegram notification sender.
func NewTelegramSender(botToken string, logger *slog.Logger) *TelegramSender {
	return &TelegramSender{
		botToken:   botToken,
		apiBase:    telegramAPIBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (s *TelegramSender) Type() string { return domain.ChannelTelegram }

func (s *TelegramSender) Send(ctx context.Context, ch *domain.NotificationChannel, msg *Message) error {
	target := telegramTarget{ChatID: ch.Config["chat_id"], ThreadID: ch.Config["thread_id"]}
	if target.ChatID == "" {
		return fmt.Errorf("telegram channel %q missing chat_id in config", ch.Name)
	}

	chunks := splitMessage(telegramText(msg), telegramSafeMaxLen)
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			chunk = fmt.Sprintf("(%d/%d)\n%s", i+1, len(chunks), chunk)
		}
		if err := s.post(ctx, target, chunk); err != nil {
			return fmt.Errorf("telegram chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// telegramTarget is a chat, optionally narrowed to one forum topic.
type telegramTarget struct {
	ChatID   string
	ThreadID string
}

func (s *TelegramSender) post(ctx context.Context, target telegramTarget, text string) error {
	payload := map[string]any{
		"chat_id":                  target.ChatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	if target.ThreadID != "" {
		payload["message_thread_id"] = target.ThreadID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+s.botToken+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	// The Bot API reports failures as {"ok": false, "description": "..."}.
	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiResp); err != nil {
		return fmt.Errorf("telegram API returned %d with unreadable body: %w", resp.StatusCode, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, apiResp.Description)
	}
	return nil
}

// telegramText renders the subject in bold and the approval metadata as a
// sorted key list below the body.
func telegramText(msg *Message) string {
	var b strings.Builder
	if msg.Subject != "" {
		fmt.Fprintf(&b, "*%s*\n\n", escapeMarkdown(msg.Subject))
	}
	b.WriteString(msg.Body)
	if len(msg.Metadata) > 0 {
		b.WriteString("\n")
		for _, k := range slices.Sorted(maps.Keys(msg.Metadata)) {
			fmt.Fprintf(&b, "\n%s: %s", escapeMarkdown(k), escapeMarkdown(msg.Metadata[k]))
		}
	}
	return b.String()
}

// splitMessage cuts text into chunks of at most maxLen, preferring newline
// boundaries in the second half of each chunk.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cutAt := maxLen
		if i := strings.LastIndexByte(text[maxLen/2:maxLen], '\n'); i >= 0 {
			cutAt = maxLen/2 + i + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`")

// escapeMarkdown escapes the Telegram Markdown v1 control characters.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
