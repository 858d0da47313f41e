package notify

import (
	"context"
	"fmt"
	"net/http"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  newHTTPClient(),
	}
}

// Send posts a message to the configured chat using sendMessage. The title is
// rendered in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	if err := postJSON(ctx, t.client, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
