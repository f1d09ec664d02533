package forensics

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

func newTestForensics(t *testing.T) (*Forensics, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "forensics.db")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestAnalyzeFailureRugPullWithoutSimulation(t *testing.T) {
	f, _ := newTestForensics(t)

	report := f.AnalyzeFailure(uuid.NewString(), "mint-never-simulated", decimal.NewFromFloat(-0.95),
		model.SourceFreshWallet, decimal.NewFromFloat(0.7), decimal.Zero, decimal.Zero)

	require.Equal(t, model.FailureRugPull, report.FailureCategory)
	require.False(t, report.WasSimulationRun)
}

func TestAnalyzeFailureSimulationMissWhenHoneypotCleared(t *testing.T) {
	f, s := newTestForensics(t)

	require.NoError(t, s.UpsertSimResult(model.SimulationResult{
		TokenMint: "mint-honeypot", BuySuccess: true, SellSuccess: true, IsHoneypot: false,
		RiskClass: model.RiskSafe, BuyTax: decimal.Zero, SellTax: decimal.Zero, SimTime: time.Now().UTC(),
	}))

	report := f.AnalyzeFailure(uuid.NewString(), "mint-honeypot", decimal.NewFromFloat(-0.9),
		model.SourceCabal, decimal.NewFromFloat(0.8), decimal.Zero, decimal.Zero)

	require.Equal(t, model.FailureSimulationMiss, report.FailureCategory)
	require.True(t, report.WasSimulationRun)
}

func TestAnalyzeFailureSlippageExcess(t *testing.T) {
	f, _ := newTestForensics(t)

	report := f.AnalyzeFailure(uuid.NewString(), "mint-slip", decimal.NewFromFloat(-0.05),
		model.SourceInfluencer, decimal.NewFromFloat(0.75), decimal.NewFromFloat(0.15), decimal.NewFromFloat(0.02))

	require.Equal(t, model.FailureSlippage, report.FailureCategory)
}

func TestAnalyzeFailureBadSignalMildLoss(t *testing.T) {
	f, _ := newTestForensics(t)

	report := f.AnalyzeFailure(uuid.NewString(), "mint-bad-signal", decimal.NewFromFloat(-0.15),
		model.SourceInfluencer, decimal.NewFromFloat(0.6), decimal.Zero, decimal.Zero)

	require.Equal(t, model.FailureBadSignal, report.FailureCategory)
}

func TestAnalyzeFailureUnknownWhenNoRuleMatches(t *testing.T) {
	f, _ := newTestForensics(t)

	report := f.AnalyzeFailure(uuid.NewString(), "mint-small-loss", decimal.NewFromFloat(-0.01),
		model.SourceManual, decimal.NewFromFloat(0.5), decimal.Zero, decimal.Zero)

	require.Equal(t, model.FailureUnknown, report.FailureCategory)
}

func TestFailureSummaryAndSimulationMisses(t *testing.T) {
	f, _ := newTestForensics(t)
	tradeID := uuid.NewString()

	f.AnalyzeFailure(tradeID, "mint-rug", decimal.NewFromFloat(-0.99), model.SourceFreshWallet,
		decimal.NewFromFloat(0.7), decimal.Zero, decimal.Zero)

	summary, err := f.FailureSummary(30)
	require.NoError(t, err)
	require.NotEmpty(t, summary)

	misses, err := f.SimulationMisses(30)
	require.NoError(t, err)
	require.Empty(t, misses, "a rug pull without a prior simulation is not a simulation miss")
}
