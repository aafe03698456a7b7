package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordLimit is the maximum length of a webhook message's content.
const discordLimit = 2000

// DiscordSender posts to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: defaultClient()}
}

// Send posts "**title**\nmessage", truncated to Discord's content limit.
// Mentions are disabled so titles cannot ping the channel.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	if r := []rune(content); len(r) > discordLimit {
		content = string(r[:discordLimit-1]) + "…"
	}
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, map[string]any{
		"content":          content,
		"allowed_mentions": map[string]any{"parse": []string{}},
	})
}

func (d *DiscordSender) Name() string { return "discord" }
