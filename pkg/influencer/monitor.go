// Package influencer tracks a whitelist of high-signal wallets and emits
// a trade signal whenever a tracked wallet buys a new token — spends a
// quote asset (SOL/USDC/USDT) and receives anything else.
package influencer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/eventbus"
	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/store"
)

var quoteMints = map[string]struct{}{
	"So11111111111111111111111111111111111111112": {}, // SOL
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": {}, // USDC
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": {}, // USDT
}

func isQuoteToken(mint string) bool {
	_, ok := quoteMints[mint]
	return ok
}

type influencerInfo struct {
	confidence decimal.Decimal
}

// Monitor watches the ChainEvent stream for trades from a whitelisted set
// of tracked wallets, refreshed periodically from the relational store.
type Monitor struct {
	store *store.Store
	bus   *eventbus.Bus

	mu      sync.RWMutex
	wallets map[string]influencerInfo
}

func New(s *store.Store, bus *eventbus.Bus) *Monitor {
	return &Monitor{store: s, bus: bus, wallets: make(map[string]influencerInfo)}
}

// RefreshWhitelist reloads tracked influencer wallets from the relational
// store. Called on a ticker by the caller, not internally scheduled.
func (m *Monitor) RefreshWhitelist() error {
	rows, err := m.store.TrackedWalletsByCategory("influencer")
	if err != nil {
		return err
	}

	next := make(map[string]influencerInfo, len(rows))
	for _, r := range rows {
		next[r.Address] = influencerInfo{confidence: r.Confidence}
	}

	m.mu.Lock()
	m.wallets = next
	m.mu.Unlock()

	log.Info().Int("count", len(next)).Msg("refreshed influencer whitelist")
	return nil
}

// ProcessEvent checks a normalized chain event against the whitelist and,
// on a qualifying buy, publishes a sig.influencer signal.
func (m *Monitor) ProcessEvent(ctx context.Context, ev model.ChainEvent) *model.TradeSignal {
	m.mu.RLock()
	info, tracked := m.wallets[ev.Wallet]
	m.mu.RUnlock()
	if !tracked {
		return nil
	}
	if ev.InputMint == "" || ev.OutputMint == "" {
		return nil
	}

	isBuy := isQuoteToken(ev.InputMint) && !isQuoteToken(ev.OutputMint)
	if !isBuy {
		return nil
	}

	confidence := info.confidence
	if confidence.IsZero() {
		confidence = decimal.NewFromFloat(0.5)
	}

	signal := &model.TradeSignal{
		SignalID:   uuid.NewString(),
		Source:     model.SourceInfluencer,
		SourceID:   ev.Wallet,
		TokenMint:  ev.OutputMint,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
		Metadata: map[string]any{
			"amount_in":  ev.InputAmount.String(),
			"amount_out": ev.OutputAmount.String(),
			"program_id": ev.ProgramID,
		},
	}

	log.Info().Str("wallet", abbrev(ev.Wallet)).Str("token", ev.OutputMint).
		Str("confidence", confidence.String()).Msg("🚨 influencer buy signal")

	eventbus.Publish(ctx, m.bus, eventbus.TopicSigInfluencer, eventbus.PolicyBlock, *signal)
	return signal
}

func abbrev(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
