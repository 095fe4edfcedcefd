package notify

import (
	"context"
	"net/http"
	"time"
)

// Embed colours keyed by notification title; anything else is grey.
var discordColours = map[string]int{
	"Credit minted":     0x2e7d32,
	"Listing created":   0x1565c0,
	"Listing cancelled": 0x757575,
	"Sale completed":    0xf9a825,
	"Credit retired":    0x6a1b9a,
}

// DiscordSender delivers notifications as embeds through a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	nowFn      func() time.Time
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
		nowFn:      time.Now,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts one embed. Discord answers 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	colour, ok := discordColours[title]
	if !ok {
		colour = 0x9e9e9e
	}
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordMessage{
		Username: "carbonex",
		Embeds: []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       colour,
			Timestamp:   d.nowFn().UTC().Format(time.RFC3339),
		}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
