package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// Embed colours by event class.
const (
	colourFailure = 0xE74C3C
	colourWarning = 0xE67E22
	colourInfo    = 0x2ECC71
)

// DiscordSender delivers alerts through a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for a webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

var (
	_ Sender      = (*DiscordSender)(nil)
	_ AlertSender = (*DiscordSender)(nil)
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts a plain embed with message as a code block.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.post(ctx, discordEmbed{
		Title:       title,
		Description: "```\n" + message + "\n```",
		Color:       colourWarning,
	})
}

// SendAlert posts a as an embed with one inline field per alert field,
// coloured by event.
func (d *DiscordSender) SendAlert(ctx context.Context, a Alert) error {
	embed := discordEmbed{
		Title:     a.Title,
		Color:     eventColour(a.Event),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if a.Entity != "" {
		embed.Description = fmt.Sprintf("%s `%s`", a.Entity, a.ID)
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		embed.Fields = append(embed.Fields, discordField{Name: k, Value: a.Fields[k], Inline: true})
	}
	return d.post(ctx, embed)
}

func (d *DiscordSender) post(ctx context.Context, embed discordEmbed) error {
	body, err := json.Marshal(discordPayload{Username: "proptoken", Embeds: []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}

func eventColour(event string) int {
	switch event {
	case EventIssuanceFailed, EventSettlementFailed, EventArchiveFailed:
		return colourFailure
	case EventSettlementTimeout:
		return colourWarning
	default:
		return colourInfo
	}
}
