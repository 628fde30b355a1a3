package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	kit "flightwatch/internal/transport"
)

// TextSender is the part of a chat adapter the Telegram sink needs.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// TelegramSink posts notifications to one Telegram chat (optionally a forum topic).
type TelegramSink struct {
	Sender TextSender
	Target kit.ChatTarget
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, text string) error {
	if t.Sender == nil || t.Target.ChatID == 0 {
		return &PermanentError{Err: errors.New("telegram sink not configured")}
	}
	_, err := t.Sender.SendText(ctx, t.Target, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// discordContentLimit is Discord's max message content length.
const discordContentLimit = 2000

// DiscordSink posts notifications to a Discord channel webhook.
type DiscordSink struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordSink(webhookURL string) *DiscordSink {
	return &DiscordSink{
		WebhookURL: strings.TrimSpace(webhookURL),
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) Send(ctx context.Context, text string) error {
	if d.WebhookURL == "" {
		return &PermanentError{Err: errors.New("discord webhook url is empty")}
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	for _, chunk := range splitContent(text, discordContentLimit) {
		if err := d.post(ctx, client, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordSink) post(ctx context.Context, client *http.Client, content string) error {
	body, err := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("discord webhook: http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
		return &PermanentError{Err: err}
	}
	return err
}

// splitContent cuts text into chunks of at most limit runes, preferring
// newline boundaries.
func splitContent(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		rs = rs[end:]
	}
	return out
}
