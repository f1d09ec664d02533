// Package alert fans ops-critical events (lockdowns, panic sells, bundle
// failures) out to a one-way Telegram notification channel, alongside the
// structured log line every event already produces.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/onchain-intel/engine/pkg/eventbus"
)

// Sink delivers an alert message. The zerolog-only NopSink is always
// available; TelegramSink is optional and configured from the environment.
type Sink interface {
	Send(ctx context.Context, message string) error
}

// NopSink only logs; used when no Telegram credentials are configured.
type NopSink struct{}

func (NopSink) Send(_ context.Context, message string) error {
	log.Warn().Str("alert", message).Msg("ops alert (no sink configured)")
	return nil
}

// TelegramSink posts a message to a single chat via the Bot API's
// sendMessage method. It is one-way: this process never reads replies.
type TelegramSink struct {
	botToken string
	chatID   string
	client   *http.Client
}

func NewTelegramSink(botToken, chatID string) *TelegramSink {
	return &TelegramSink{botToken: botToken, chatID: chatID, client: &http.Client{Timeout: 10 * time.Second}}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (t *TelegramSink) Send(ctx context.Context, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	payload, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// New picks TelegramSink when both credentials are present, else NopSink.
func New(botToken, chatID string) Sink {
	if botToken == "" || chatID == "" {
		return NopSink{}
	}
	return NewTelegramSink(botToken, chatID)
}

// Run drains ops.alerts until ctx is canceled, forwarding every message to
// sink. Delivery failures are logged, never retried, and never block the
// topic's other subscribers.
func Run(ctx context.Context, bus *eventbus.Bus, sink Sink) {
	messages := eventbus.Subscribe[string](bus, eventbus.TopicOpsAlerts, eventbus.PolicyDropOldest)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := sink.Send(ctx, msg); err != nil {
				log.Warn().Err(err).Str("alert", msg).Msg("failed to deliver ops alert")
			}
		}
	}
}
