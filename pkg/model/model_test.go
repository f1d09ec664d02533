package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestWithdrawalEventIsFreshFunding(t *testing.T) {
	t.Run("zero prior tx counts as fresh", func(t *testing.T) {
		w := WithdrawalEvent{RecipientPriorTxCount: 0}
		assert.True(t, w.IsFreshFunding())
	})

	t.Run("any prior tx disqualifies", func(t *testing.T) {
		w := WithdrawalEvent{RecipientPriorTxCount: 1}
		assert.False(t, w.IsFreshFunding())
	})
}

func TestWalletClusterActivation(t *testing.T) {
	newCluster := func(size, contracts int, avgCorr decimal.Decimal) *WalletCluster {
		c := &WalletCluster{
			Wallets:         map[string]struct{}{},
			SharedContracts: map[string]struct{}{},
			AvgCorrelation:  avgCorr,
		}
		for i := 0; i < size; i++ {
			c.Wallets[string(rune('a'+i))] = struct{}{}
		}
		for i := 0; i < contracts; i++ {
			c.SharedContracts[string(rune('A'+i))] = struct{}{}
		}
		return c
	}

	t.Run("below size threshold stays forming", func(t *testing.T) {
		c := newCluster(2, 5, decimal.NewFromFloat(0.9))
		assert.False(t, c.IsActiveCabal())
		assert.Equal(t, ClusterForming, c.State())
	})

	t.Run("below contract threshold stays forming", func(t *testing.T) {
		c := newCluster(3, 4, decimal.NewFromFloat(0.9))
		assert.False(t, c.IsActiveCabal())
	})

	t.Run("below correlation threshold stays forming", func(t *testing.T) {
		c := newCluster(3, 5, decimal.NewFromFloat(0.69))
		assert.False(t, c.IsActiveCabal())
	})

	t.Run("meets all thresholds activates", func(t *testing.T) {
		c := newCluster(3, 5, decimal.NewFromFloat(0.70))
		assert.True(t, c.IsActiveCabal())
		assert.Equal(t, ClusterActive, c.State())
		assert.Equal(t, 3, c.Size())
	})
}

func TestTradeSignalIsHighConfidence(t *testing.T) {
	assert.True(t, TradeSignal{Confidence: decimal.NewFromFloat(0.81)}.IsHighConfidence())
	assert.False(t, TradeSignal{Confidence: decimal.NewFromFloat(0.8)}.IsHighConfidence())
	assert.False(t, TradeSignal{Confidence: decimal.NewFromFloat(0.5)}.IsHighConfidence())
}

func TestTradeLogDerivedMetrics(t *testing.T) {
	entry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exit := entry.Add(45 * time.Minute)

	t.Run("win when pnl positive", func(t *testing.T) {
		tl := TradeLog{RealizedPnL: decimal.NewFromFloat(1.5)}
		assert.True(t, tl.IsWin())
	})

	t.Run("not a win at zero or negative pnl", func(t *testing.T) {
		assert.False(t, TradeLog{RealizedPnL: decimal.Zero}.IsWin())
		assert.False(t, TradeLog{RealizedPnL: decimal.NewFromFloat(-0.2)}.IsWin())
	})

	t.Run("hold duration zero for unexited trade", func(t *testing.T) {
		tl := TradeLog{EntryTime: entry}
		assert.Equal(t, time.Duration(0), tl.HoldDuration())
	})

	t.Run("hold duration measured once exited", func(t *testing.T) {
		tl := TradeLog{EntryTime: entry, ExitTime: exit}
		assert.Equal(t, 45*time.Minute, tl.HoldDuration())
	})

	t.Run("net pnl subtracts fees", func(t *testing.T) {
		tl := TradeLog{RealizedPnL: decimal.NewFromFloat(2), FeesPaid: decimal.NewFromFloat(0.3)}
		assert.True(t, tl.NetPnL().Equal(decimal.NewFromFloat(1.7)))
	})
}

func TestSourceStats(t *testing.T) {
	t.Run("profit factor zero when no losses recorded", func(t *testing.T) {
		s := SourceStats{BestTradePnL: decimal.NewFromFloat(5), WorstTradePnL: decimal.Zero}
		assert.True(t, s.ProfitFactor().Equal(decimal.Zero))
	})

	t.Run("profit factor is best over abs worst", func(t *testing.T) {
		s := SourceStats{BestTradePnL: decimal.NewFromFloat(6), WorstTradePnL: decimal.NewFromFloat(-3)}
		assert.True(t, s.ProfitFactor().Equal(decimal.NewFromFloat(2)))
	})

	t.Run("roi zero with no trades", func(t *testing.T) {
		s := SourceStats{TotalTrades: 0, TotalPnL: decimal.NewFromFloat(10)}
		assert.True(t, s.ROI().Equal(decimal.Zero))
	})

	t.Run("roi averages total pnl over trade count", func(t *testing.T) {
		s := SourceStats{TotalTrades: 4, TotalPnL: decimal.NewFromFloat(8)}
		assert.True(t, s.ROI().Equal(decimal.NewFromFloat(2)))
	})
}

func TestForensicReportSummary(t *testing.T) {
	r := ForensicReport{FailureCategory: FailureRugPull, TradeID: "trade-123"}
	assert.Equal(t, "rug_pull on trade trade-123", r.Summary())
}
