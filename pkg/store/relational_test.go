package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onchain-intel/engine/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTrackedWalletUpsertAndEscalate(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertTrackedWallet("wallet-1", "fresh_wallet", decimal.NewFromFloat(0.5), `{}`))

	wallets, err := s.TrackedWalletsByCategory("fresh_wallet")
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	require.True(t, wallets[0].Confidence.Equal(decimal.NewFromFloat(0.5)))

	require.NoError(t, s.EscalateConfidence("wallet-1", decimal.NewFromFloat(0.2)))
	wallets, err = s.TrackedWalletsByCategory("fresh_wallet")
	require.NoError(t, err)
	require.True(t, wallets[0].Confidence.Equal(decimal.NewFromFloat(0.7)))
}

func TestTxEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	ev := model.CorrelationEvent{Contract: "program-a", Slot: 100, Timestamp: now, Wallet: "wallet-a", TxID: "tx-1", Action: "swap"}
	require.NoError(t, s.RecordTxEvent(ev))

	events, err := s.TxEventsInSlotRange("program-a", 90, 110, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "wallet-a", events[0].Wallet)
}

func TestSubWalletLifecycle(t *testing.T) {
	s := newTestStore(t)

	w := model.SubWallet{
		WalletID: "wallet-id-1", Address: "addr-1", EncryptedKey: "enc-key",
		BalanceSOL: decimal.NewFromFloat(5), IsActive: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertSubWallet(w))

	found, err := s.AvailableSubWallet(decimal.NewFromFloat(1))
	require.NoError(t, err)
	require.Equal(t, "wallet-id-1", found.WalletID)

	id, err := s.SubWalletIDByAddress("addr-1")
	require.NoError(t, err)
	require.Equal(t, "wallet-id-1", id)

	require.NoError(t, s.MarkSubWalletUsed("wallet-id-1"))
	byID, err := s.SubWalletByID("wallet-id-1")
	require.NoError(t, err)
	require.Equal(t, 1, byID.TotalTrades)

	require.NoError(t, s.RetireSubWallet("wallet-id-1"))
	_, err = s.AvailableSubWallet(decimal.NewFromFloat(1))
	require.Error(t, err, "retired wallet should no longer be available")

	status, err := s.SubWalletPoolStatus()
	require.NoError(t, err)
	require.Equal(t, 0, status.ActiveCount)
	require.Equal(t, 1, status.RetiredCount)
}

func TestTradeLogOpenAndClose(t *testing.T) {
	s := newTestStore(t)

	tl := model.TradeLog{
		TradeID: "trade-1", SignalSource: model.SourceCabal, SignalID: "sig-1", TokenMint: "mint-1",
		EntryPrice: decimal.NewFromFloat(1.0), PositionSizeToken: decimal.NewFromFloat(100),
		PositionSizeSOL: decimal.NewFromFloat(1), EntryTime: time.Now().UTC(), SubWalletAddress: "addr-1",
		SlippageExpected: decimal.NewFromFloat(0.01),
	}
	require.NoError(t, s.InsertTradeLogOpen(tl))

	open, err := s.OpenTradeLogs()
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, model.StatusOpen, open[0].Status)

	require.NoError(t, s.CloseTradeLog("trade-1", decimal.NewFromFloat(1.5), decimal.NewFromFloat(0.5),
		decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.02), model.TierT1, model.StatusClosed))

	closed, err := s.GetTradeLog("trade-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusClosed, closed.Status)
	require.True(t, closed.RealizedPnL.Equal(decimal.NewFromFloat(0.5)))

	open, err = s.OpenTradeLogs()
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestPanicMarkAllOpen(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		tl := model.TradeLog{
			TradeID: "trade-" + string(rune('a'+i)), SignalSource: model.SourceCabal, TokenMint: "mint-x",
			EntryPrice: decimal.NewFromFloat(1), PositionSizeToken: decimal.NewFromFloat(1),
			PositionSizeSOL: decimal.NewFromFloat(1), EntryTime: time.Now().UTC(), SlippageExpected: decimal.Zero,
		}
		require.NoError(t, s.InsertTradeLogOpen(tl))
	}

	ids, err := s.PanicMarkAllOpen(model.TierPanic)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	open, err := s.OpenTradeLogs()
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestUpdateSourceStatsAndLeaderboard(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpdateSourceStats("source-1", "cabal", "Cabal One", decimal.NewFromFloat(1.0), true, decimal.NewFromFloat(0.5)))
	require.NoError(t, s.UpdateSourceStats("source-1", "cabal", "Cabal One", decimal.NewFromFloat(-0.3), false, decimal.NewFromFloat(0.2)))

	board, err := s.Leaderboard("cabal", 1, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	require.Equal(t, int64(2), board[0].TotalTrades)
}

func TestForensicReportSummaryQueries(t *testing.T) {
	s := newTestStore(t)

	report := model.ForensicReport{
		ForensicID: "forensic-1", TradeID: "trade-1", FailureCategory: model.FailureSimulationMiss,
		DetectedAt: time.Now().UTC(), WasSimulationRun: true, SimulationResult: "honeypot",
		ExpectedOutput: decimal.Zero, ActualOutput: decimal.Zero, SlippagePct: decimal.Zero, SignalConfidence: decimal.Zero,
	}
	require.NoError(t, s.InsertForensicReport(report))

	summary, err := s.FailureSummary(7)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	require.Equal(t, string(model.FailureSimulationMiss), summary[0].Category)

	misses, err := s.SimulationMisses(7)
	require.NoError(t, err)
	require.Contains(t, misses, "trade-1")
}

func TestCircuitBreakerStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	initial, err := s.LoadCircuitBreakerState()
	require.NoError(t, err)
	require.False(t, initial.IsLocked)

	st := model.CircuitBreakerState{
		IsLocked: true, LockReason: "daily loss limit", DailyPnL: decimal.NewFromFloat(-2.5),
		DailyPnLPct: decimal.NewFromFloat(-0.1), ConsecutiveLosses: 4, TotalExposure: decimal.NewFromFloat(3),
	}
	require.NoError(t, s.SaveCircuitBreakerState(st))

	loaded, err := s.LoadCircuitBreakerState()
	require.NoError(t, err)
	require.True(t, loaded.IsLocked)
	require.Equal(t, "daily loss limit", loaded.LockReason)
	require.Equal(t, 4, loaded.ConsecutiveLosses)
}

func TestSimResultFreshness(t *testing.T) {
	s := newTestStore(t)

	r := model.SimulationResult{
		TokenMint: "mint-z", BuySuccess: true, SellSuccess: true, IsHoneypot: false,
		RiskClass: model.RiskSafe, BuyTax: decimal.Zero, SellTax: decimal.Zero, SimTime: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertSimResult(r))

	fresh, err := s.RecentSimResult("mint-z", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	require.Equal(t, model.RiskSafe, fresh.RiskClass)

	stale, err := s.RecentSimResult("mint-z", -time.Hour)
	require.Error(t, err)
	require.Nil(t, stale)
}
