package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/store"
)

func newTestJournal(t *testing.T) (*Journal, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func openTrade(tradeID string) model.TradeLog {
	return model.TradeLog{
		TradeID: tradeID, SignalSource: model.SourceCabal, SignalID: uuid.NewString(), TokenMint: "mint-1",
		EntryPrice: decimal.NewFromFloat(2.0), PositionSizeToken: decimal.NewFromFloat(50),
		PositionSizeSOL: decimal.NewFromFloat(1), EntryTime: time.Now().UTC(), SubWalletAddress: "addr-1",
		SlippageExpected: decimal.NewFromFloat(0.01),
	}
}

func TestLogEntryThenGetTrade(t *testing.T) {
	j, _ := newTestJournal(t)
	tradeID := uuid.NewString()

	require.NoError(t, j.LogEntry(openTrade(tradeID)))

	fetched, err := j.GetTrade(tradeID)
	require.NoError(t, err)
	require.Equal(t, model.StatusOpen, fetched.Status)
}

func TestLogExitComputesPnLAndUpdatesAttribution(t *testing.T) {
	j, _ := newTestJournal(t)
	tradeID := uuid.NewString()
	trade := openTrade(tradeID)
	require.NoError(t, j.LogEntry(trade))

	require.NoError(t, j.LogExit(tradeID, decimal.NewFromFloat(3.0), model.TierT1, model.StatusClosed, decimal.NewFromFloat(0.02)))

	closed, err := j.GetTrade(tradeID)
	require.NoError(t, err)
	require.Equal(t, model.StatusClosed, closed.Status)
	// pnl = (3.0 - 2.0) * 50 = 50
	require.True(t, closed.RealizedPnL.Equal(decimal.NewFromFloat(50)))
	// pnl_pct = (3.0 - 2.0) / 2.0 = 0.5
	require.True(t, closed.PnLPercentage.Equal(decimal.NewFromFloat(0.5)))

	board, err := j.Leaderboard("cabal", 1, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	require.Equal(t, trade.SignalID, board[0].SourceID)
}

func TestOpenTradesExcludesClosed(t *testing.T) {
	j, _ := newTestJournal(t)
	openID, closedID := uuid.NewString(), uuid.NewString()

	require.NoError(t, j.LogEntry(openTrade(openID)))
	require.NoError(t, j.LogEntry(openTrade(closedID)))
	require.NoError(t, j.LogExit(closedID, decimal.NewFromFloat(2.5), model.TierT2, model.StatusClosed, decimal.Zero))

	open, err := j.OpenTrades()
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, openID, open[0].TradeID)
}

func TestLogExitUnknownTradeReturnsError(t *testing.T) {
	j, _ := newTestJournal(t)
	err := j.LogExit(uuid.NewString(), decimal.NewFromFloat(1), model.TierSL, model.StatusStoppedOut, decimal.Zero)
	require.Error(t, err)
}
