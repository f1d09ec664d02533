// Package forensics runs a rule cascade over a closed losing trade to
// categorize why it lost, feeding signal-source penalties and simulator
// gap analysis rather than leaving every loss as an undifferentiated
// "it went down."
package forensics

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/store"
)

var (
	rugPullLossFloor      = decimal.NewFromFloat(-0.80)
	slippageExcessFloor   = decimal.NewFromFloat(0.05)
	badSignalLossCeiling  = decimal.NewFromFloat(-0.10)
	badSignalLossFloor    = decimal.NewFromFloat(-0.30)
)

// Forensics classifies closed-losing-trade failures and persists the
// resulting report.
type Forensics struct {
	store *store.Store
}

func New(s *store.Store) *Forensics {
	return &Forensics{store: s}
}

// AnalyzeFailure categorizes why tradeID lost money, in priority order:
// rug pull (simulation missed or wasn't run), then excess slippage, then
// a mild loss attributed to a bad signal. Anything that doesn't match a
// rule stays Unknown.
func (f *Forensics) AnalyzeFailure(tradeID, tokenMint string, lossPct decimal.Decimal, signalSource model.SignalSource, signalConfidence, slippageActual, slippageExpected decimal.Decimal) model.ForensicReport {
	report := model.ForensicReport{
		ForensicID:      uuid.NewString(),
		TradeID:         tradeID,
		FailureCategory: model.FailureUnknown,
		DetectedAt:      time.Now().UTC(),
		Details:         map[string]any{"signal_source": string(signalSource)},
		SignalConfidence: signalConfidence,
	}

	switch {
	case lossPct.LessThanOrEqual(rugPullLossFloor):
		f.classifyRugPull(tokenMint, &report)

	case !slippageActual.IsZero() && !slippageExpected.IsZero() &&
		slippageActual.Sub(slippageExpected).GreaterThan(slippageExcessFloor):
		report.FailureCategory = model.FailureSlippage
		report.ExpectedOutput = slippageExpected
		report.ActualOutput = slippageActual
		report.SlippagePct = slippageActual.Sub(slippageExpected)

	case lossPct.GreaterThan(badSignalLossFloor) && lossPct.LessThanOrEqual(badSignalLossCeiling):
		report.FailureCategory = model.FailureBadSignal
	}

	if err := f.store.InsertForensicReport(report); err != nil {
		log.Warn().Err(err).Str("trade_id", tradeID[:8]).Msg("failed to persist forensic report")
	}
	log.Info().Str("trade_id", tradeID[:8]).Str("category", string(report.FailureCategory)).
		Msg("saved forensic report")
	return report
}

func (f *Forensics) classifyRugPull(tokenMint string, report *model.ForensicReport) {
	sim, err := f.store.RecentSimResult(tokenMint, 24*time.Hour)
	if err != nil || sim == nil {
		report.WasSimulationRun = false
		report.FailureCategory = model.FailureRugPull
		return
	}

	report.WasSimulationRun = true
	report.TimeSinceSimulation = time.Since(sim.SimTime)
	if sim.IsHoneypot {
		report.SimulationResult = "honeypot"
		report.FailureCategory = model.FailureRugPull
	} else {
		report.SimulationResult = "safe"
		report.FailureCategory = model.FailureSimulationMiss
	}
}

// FailureSummary buckets forensic reports from the last `days` days by
// category.
func (f *Forensics) FailureSummary(days int) ([]store.ForensicSummary, error) {
	return f.store.FailureSummary(days)
}

// SimulationMisses lists trades where the simulator ran and cleared a
// token that went on to rug anyway.
func (f *Forensics) SimulationMisses(days int) ([]string, error) {
	return f.store.SimulationMisses(days)
}
