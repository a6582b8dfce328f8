package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Discord rejects embed descriptions above 4096 characters.
const discordMaxDescription = 4096

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSender posts one embed per notification to a webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender posting as "arbbot".
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "arbbot",
		client:     &http.Client{Timeout: sendTimeout},
		now:        time.Now,
	}
}

// Send posts an embed titled title with message in a code block.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	desc := "```\n" + message + "\n```"
	if len(desc) > discordMaxDescription {
		desc = desc[:discordMaxDescription-len("…\n```")] + "…\n```"
	}
	payload := discordPayload{
		Username: d.username,
		Embeds: []discordEmbed{{
			Title:       title,
			Description: desc,
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
