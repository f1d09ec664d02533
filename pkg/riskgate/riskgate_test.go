package riskgate

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/store"
)

func newTestGate(t *testing.T, limits config.RiskLimitsConfig) *Gate {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "riskgate.db")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	g := New(s, decimal.NewFromFloat(100), limits)
	require.NoError(t, g.Load())
	return g
}

func defaultLimits() config.RiskLimitsConfig {
	return config.RiskLimitsConfig{
		MaxDailyDrawdownPct: decimal.NewFromFloat(0.10),
		MaxPositionSizePct:  decimal.NewFromFloat(0.05),
		MaxOpenPositions:    5,
		MaxConsecutiveLosses: 3,
		LockdownHours:       4,
	}
}

func TestCanTradeAllowsWhenUnlockedAndUnderLimit(t *testing.T) {
	g := newTestGate(t, defaultLimits())
	require.True(t, g.CanTrade())
}

func TestValidatePositionSizeRejectsOversized(t *testing.T) {
	g := newTestGate(t, defaultLimits())
	// 5% of 100 SOL capital = 5 SOL max.
	require.True(t, g.ValidatePositionSize(decimal.NewFromFloat(4)))
	require.False(t, g.ValidatePositionSize(decimal.NewFromFloat(6)))
}

func TestRecordTradeResultTripsOnConsecutiveLosses(t *testing.T) {
	g := newTestGate(t, defaultLimits())

	for i := 0; i < 2; i++ {
		ok, err := g.RecordTradeResult(decimal.NewFromFloat(-0.1), false, decimal.NewFromFloat(1))
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Third consecutive loss breaches MaxConsecutiveLosses (3).
	ok, err := g.RecordTradeResult(decimal.NewFromFloat(-0.1), false, decimal.NewFromFloat(1))
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, g.IsLocked())
}

func TestRecordTradeResultTripsOnDailyDrawdown(t *testing.T) {
	g := newTestGate(t, defaultLimits())

	// Drawdown of 11 SOL against 100 SOL capital exceeds the 10% limit.
	ok, err := g.RecordTradeResult(decimal.NewFromFloat(-11), false, decimal.NewFromFloat(5))
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, g.IsLocked())
}

func TestWinResetsConsecutiveLossStreak(t *testing.T) {
	g := newTestGate(t, defaultLimits())

	ok, err := g.RecordTradeResult(decimal.NewFromFloat(-0.1), false, decimal.NewFromFloat(1))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.RecordTradeResult(decimal.NewFromFloat(0.5), true, decimal.NewFromFloat(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, g.State().ConsecutiveLosses)
}

func TestForceUnlockClearsLockdown(t *testing.T) {
	g := newTestGate(t, defaultLimits())
	_, err := g.RecordTradeResult(decimal.NewFromFloat(-11), false, decimal.NewFromFloat(5))
	require.NoError(t, err)
	require.True(t, g.IsLocked())

	g.ForceUnlock()
	require.False(t, g.IsLocked())
	require.True(t, g.CanTrade())
}

func TestPanicSellAllLocksAndClearsExposure(t *testing.T) {
	g := newTestGate(t, defaultLimits())
	require.NoError(t, g.RecordPositionOpened(decimal.NewFromFloat(2)))

	ids, err := g.PanicSellAll()
	require.NoError(t, err)
	require.Empty(t, ids, "no open trade rows exist yet, so nothing to mark")
	require.True(t, g.IsLocked())
	require.Equal(t, 0, g.State().OpenPositionCount)
}

func TestResetDailyStatsZeroesPnL(t *testing.T) {
	g := newTestGate(t, defaultLimits())
	_, err := g.RecordTradeResult(decimal.NewFromFloat(-2), false, decimal.NewFromFloat(1))
	require.NoError(t, err)
	require.False(t, g.State().DailyPnL.IsZero())

	require.NoError(t, g.ResetDailyStats())
	require.True(t, g.State().DailyPnL.IsZero())
}
