// Package riskgate implements the global circuit breaker: the last gate a
// signal passes through before real capital moves, and the emergency brake
// that halts everything once it doesn't. State survives restarts through
// the relational store, guarded by a single mutex so concurrent trade
// decisions never race a lockdown.
package riskgate

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/store"
)

// Gate is the CircuitBreaker equivalent: it gates new trades and records
// the outcome of closed ones, tripping a timed lockdown on breach.
type Gate struct {
	store   *store.Store
	capital decimal.Decimal
	limits  config.RiskLimitsConfig

	mu    sync.Mutex
	state model.CircuitBreakerState
}

func New(s *store.Store, capitalSOL decimal.Decimal, limits config.RiskLimitsConfig) *Gate {
	return &Gate{store: s, capital: capitalSOL, limits: limits}
}

// Load pulls persisted state at startup. Call once before CanTrade.
func (g *Gate) Load() error {
	st, err := g.store.LoadCircuitBreakerState()
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.state = st
	g.mu.Unlock()
	return nil
}

// CanTrade reports whether new trades are currently allowed. A lockdown
// whose unlock time has passed self-clears here rather than waiting for a
// separate ticker.
func (g *Gate) CanTrade() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.IsLocked {
		if !g.state.UnlockAt.IsZero() && time.Now().UTC().After(g.state.UnlockAt) {
			g.unlockLocked()
			return true
		}
		return false
	}

	if g.state.OpenPositionCount >= g.limits.MaxOpenPositions {
		log.Warn().Int("open_positions", g.state.OpenPositionCount).Msg("max open positions reached")
		return false
	}

	return true
}

// ValidatePositionSize rejects a position that would exceed the configured
// fraction of total capital.
func (g *Gate) ValidatePositionSize(sizeSOL decimal.Decimal) bool {
	maxSize := g.capital.Mul(g.limits.MaxPositionSizePct)
	if sizeSOL.GreaterThan(maxSize) {
		log.Warn().Str("size", sizeSOL.String()).Str("max", maxSize.String()).Msg("position size exceeds limit")
		return false
	}
	return true
}

// RecordPositionOpened increments the open-position book; call after a
// trade is actually submitted, not merely attempted.
func (g *Gate) RecordPositionOpened(sizeSOL decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.OpenPositionCount++
	g.state.TotalExposure = g.state.TotalExposure.Add(sizeSOL)
	return g.store.SaveCircuitBreakerState(g.state)
}

// RecordTradeResult folds a closed trade's P&L into the daily tally and
// consecutive-loss streak, tripping a lockdown if either limit is breached.
// Returns false when the breach triggered a lockdown.
func (g *Gate) RecordTradeResult(pnl decimal.Decimal, isWin bool, positionSizeSOL decimal.Decimal) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.DailyPnL = g.state.DailyPnL.Add(pnl)
	if !g.capital.IsZero() {
		g.state.DailyPnLPct = g.state.DailyPnL.Div(g.capital)
	}

	if isWin {
		g.state.ConsecutiveLosses = 0
	} else {
		g.state.ConsecutiveLosses++
	}

	if g.state.OpenPositionCount > 0 {
		g.state.OpenPositionCount--
	}
	g.state.TotalExposure = g.state.TotalExposure.Sub(positionSizeSOL)
	g.state.LastTradeTime = time.Now().UTC()

	var lockReason string
	switch {
	case g.state.DailyPnLPct.Abs().GreaterThan(g.limits.MaxDailyDrawdownPct):
		lockReason = fmt.Sprintf("daily drawdown exceeded: %s", g.state.DailyPnLPct.StringFixed(4))
	case g.state.ConsecutiveLosses >= g.limits.MaxConsecutiveLosses:
		lockReason = fmt.Sprintf("consecutive losses: %d", g.state.ConsecutiveLosses)
	}

	if lockReason != "" {
		g.triggerLockdownLocked(lockReason)
		return false, g.store.SaveCircuitBreakerState(g.state)
	}

	return true, g.store.SaveCircuitBreakerState(g.state)
}

func (g *Gate) triggerLockdownLocked(reason string) {
	now := time.Now().UTC()
	g.state.IsLocked = true
	g.state.LockedAt = now
	g.state.LockReason = reason
	g.state.UnlockAt = now.Add(time.Duration(g.limits.LockdownHours) * time.Hour)

	log.Error().Str("reason", reason).Time("unlock_at", g.state.UnlockAt).
		Msg("🚨 circuit breaker triggered")
}

func (g *Gate) unlockLocked() {
	g.state.IsLocked = false
	g.state.LockedAt = time.Time{}
	g.state.LockReason = ""
	g.state.UnlockAt = time.Time{}
	g.state.DailyPnL = decimal.Zero
	g.state.DailyPnLPct = decimal.Zero
	g.state.ConsecutiveLosses = 0

	if err := g.store.SaveCircuitBreakerState(g.state); err != nil {
		log.Warn().Err(err).Msg("failed to persist unlock")
	}
	log.Info().Msg("circuit breaker unlocked - trading resumed")
}

// ForceUnlock manually clears a lockdown regardless of unlock_at.
func (g *Gate) ForceUnlock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unlockLocked()
	log.Warn().Msg("circuit breaker manually unlocked")
}

// ResetDailyStats zeroes the rolling daily P&L; call once per UTC day.
func (g *Gate) ResetDailyStats() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.DailyPnL = decimal.Zero
	g.state.DailyPnLPct = decimal.Zero
	return g.store.SaveCircuitBreakerState(g.state)
}

// PanicSellAll trips an immediate lockdown and marks every open trade log
// row PANIC, clearing the gate's open-position count and exposure. It does
// not submit sell transactions and does not touch the Orchestrator's
// in-memory position book; it returns the ids of the rows it marked.
func (g *Gate) PanicSellAll() ([]string, error) {
	log.Error().Msg("🚨 PANIC SELL INITIATED - marking all open positions")

	g.mu.Lock()
	g.triggerLockdownLocked("manual panic sell")
	g.mu.Unlock()

	ids, err := g.store.PanicMarkAllOpen(model.TierPanic)
	if err != nil {
		return ids, err
	}

	g.mu.Lock()
	g.state.OpenPositionCount = 0
	g.state.TotalExposure = decimal.Zero
	saveErr := g.store.SaveCircuitBreakerState(g.state)
	g.mu.Unlock()

	return ids, saveErr
}

// IsLocked reports the current lockdown state.
func (g *Gate) IsLocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.IsLocked
}

// State returns a copy of the current circuit breaker state.
func (g *Gate) State() model.CircuitBreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
