// Package journal records trade lifecycle and folds closed trades into
// per-signal-source attribution, answering "which influencer/cabal/fresh-
// wallet source is actually worth following."
package journal

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/store"
)

// Journal wraps the relational store's trade_log and signal_attribution
// tables with the P&L math the raw SQL layer doesn't do itself.
type Journal struct {
	store *store.Store
}

func New(s *store.Store) *Journal {
	return &Journal{store: s}
}

// LogEntry opens a new trade_log row.
func (j *Journal) LogEntry(t model.TradeLog) error {
	if err := j.store.InsertTradeLogOpen(t); err != nil {
		return fmt.Errorf("log trade entry: %w", err)
	}
	log.Info().Str("trade_id", t.TradeID[:8]).Msg("logged trade entry")
	return nil
}

// LogExit closes a trade, computing realized P&L from the entry recorded
// earlier, and folds the result into that signal source's attribution
// stats.
func (j *Journal) LogExit(tradeID string, exitPrice decimal.Decimal, tier model.ExitTier, status model.TradeStatus, slippageActual decimal.Decimal) error {
	existing, err := j.store.GetTradeLog(tradeID)
	if err != nil {
		return fmt.Errorf("trade not found: %w", err)
	}

	var pnl, pnlPct decimal.Decimal
	if existing.EntryPrice.GreaterThan(decimal.Zero) {
		pnl = exitPrice.Sub(existing.EntryPrice).Mul(existing.PositionSizeToken)
		pnlPct = exitPrice.Sub(existing.EntryPrice).Div(existing.EntryPrice)
	}

	if err := j.store.CloseTradeLog(tradeID, exitPrice, pnl, pnlPct, slippageActual, tier, status); err != nil {
		return fmt.Errorf("close trade log: %w", err)
	}

	holdHours := decimal.Zero
	if !existing.EntryTime.IsZero() {
		holdHours = decimal.NewFromFloat(time.Since(existing.EntryTime).Hours())
	}

	if err := j.store.UpdateSourceStats(existing.SignalID, string(existing.SignalSource), "", pnl, pnl.GreaterThan(decimal.Zero), holdHours); err != nil {
		log.Warn().Err(err).Msg("failed to update source attribution stats")
	}

	log.Info().Str("trade_id", tradeID[:8]).Str("pnl", pnl.StringFixed(4)).
		Str("pnl_pct", pnlPct.StringFixed(4)).Msg("logged trade exit")
	return nil
}

// GetTrade fetches a single trade_log row.
func (j *Journal) GetTrade(tradeID string) (*model.TradeLog, error) {
	return j.store.GetTradeLog(tradeID)
}

// OpenTrades returns every trade currently in the open state, used at
// startup to rebuild the orchestrator's in-memory position book.
func (j *Journal) OpenTrades() ([]model.TradeLog, error) {
	return j.store.OpenTradeLogs()
}

// Leaderboard ranks signal sources of sourceType by total P&L, requiring
// at least minTrades closed trades to qualify (filters out one-lucky-trade
// noise).
func (j *Journal) Leaderboard(sourceType string, minTrades, limit int) ([]store.Leaderboard, error) {
	return j.store.Leaderboard(sourceType, minTrades, limit)
}
