package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type rpcSubscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcNotification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type logsNotificationParams struct {
	Result struct {
		Context struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Signature string   `json:"signature"`
			Err       any      `json:"err"`
			Logs      []string `json:"logs"`
		} `json:"value"`
	} `json:"result"`
}

// WSClient is a reconnecting logsSubscribe client over the raw Solana
// JSON-RPC websocket protocol. It subscribes to the logs of each monitored
// program only; it sends no accountSubscribe and no per-wallet
// subscriptions, so CEX hot-wallet balance changes do not arrive through
// this transport. Reconnection uses capped
// exponential backoff, mirroring the listener's own retry policy.
type WSClient struct {
	url               string
	monitoredPrograms []string
	normalizer        *Normalizer

	maxReconnectDelay time.Duration
}

func NewWSClient(url string, monitoredPrograms []string, normalizer *Normalizer) *WSClient {
	return &WSClient{
		url:               url,
		monitoredPrograms: monitoredPrograms,
		normalizer:        normalizer,
		maxReconnectDelay: 60 * time.Second,
	}
}

// Run connects and processes notifications until ctx is cancelled,
// reconnecting with backoff on any connection error.
func (c *WSClient) Run(ctx context.Context) error {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", delay).Msg("🔌 websocket disconnected, reconnecting")
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > c.maxReconnectDelay {
			delay = c.maxReconnectDelay
		}
	}
}

func (c *WSClient) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	log.Info().Str("url", c.url).Msg("✅ solana websocket connected")

	for i, programID := range c.monitoredPrograms {
		req := rpcSubscribeRequest{
			JSONRPC: "2.0",
			ID:      i + 1,
			Method:  "logsSubscribe",
			Params: []any{
				map[string]any{"mentions": []string{programID}},
				map[string]any{"commitment": "confirmed"},
			},
		}
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe %s: %w", programID, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(ctx, raw)
	}
}

func (c *WSClient) handleMessage(ctx context.Context, raw []byte) {
	var note rpcNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		return
	}
	if note.Method != "logsNotification" {
		return
	}

	var parsed logsNotificationParams
	if err := json.Unmarshal(note.Params, &parsed); err != nil {
		log.Debug().Err(err).Msg("malformed logsNotification")
		return
	}
	if parsed.Result.Value.Err != nil {
		return
	}

	c.normalizer.HandleSwap(ctx, RawSwap{
		TxID:      parsed.Result.Value.Signature,
		Slot:      parsed.Result.Context.Slot,
		Timestamp: time.Now().UTC(),
		InputAmount: decimal.Zero,
		OutputAmount: decimal.Zero,
	})
}
