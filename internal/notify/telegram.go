package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// TelegramSender delivers notifications through the Bot API sendMessage
// method.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for one chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: sendTimeout},
	}
}

// Send posts the title in bold above message, with Markdown metacharacters
// escaped.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      "*" + escapeMarkdown(title) + "*\n" + escapeMarkdown(message),
		ParseMode: "Markdown",
	}
	endpoint := t.apiBase + "/bot" + t.token + "/sendMessage"
	err := postJSON(ctx, t.client, endpoint, msg)
	var se *statusError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return fmt.Errorf("telegram: %w", err)
	default:
		// Transport errors quote the URL, which carries the bot token.
		return errors.New("telegram: send request failed")
	}
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }
