// Package orchestrator is the central hub connecting intelligence signals
// to trades: it validates a signal through the safety and risk gates,
// sizes and quotes the entry, records it as an open position on one
// sub-wallet, and manages the tiered exit strategy on every open position,
// submitting each exit leg via the bundle submitter. The entry itself is
// not built, signed or submitted as a transaction, and it is not split
// across several sub-wallets.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/onchain-intel/engine/pkg/bundle"
	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/confidence"
	"github.com/onchain-intel/engine/pkg/forensics"
	"github.com/onchain-intel/engine/pkg/journal"
	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/riskgate"
	"github.com/onchain-intel/engine/pkg/router"
	"github.com/onchain-intel/engine/pkg/simulator"
	"github.com/onchain-intel/engine/pkg/store"
	"github.com/onchain-intel/engine/pkg/subwallet"
)

// ExitStrategy is the tiered take-profit / stop-loss ladder. Each tier's
// sell percentage applies to the position's REMAINING size, not its
// original size, so T1 then T2 compounds down rather than overselling.
type ExitStrategy struct {
	T1Multiplier decimal.Decimal
	T1SellPct    decimal.Decimal
	T2Multiplier decimal.Decimal
	T2SellPct    decimal.Decimal
	T3Multiplier decimal.Decimal
	T3SellPct    decimal.Decimal
	StopLossPct  decimal.Decimal
}

func DefaultExitStrategy(stopLossPct decimal.Decimal) ExitStrategy {
	return ExitStrategy{
		T1Multiplier: decimal.NewFromFloat(2.0),
		T1SellPct:    decimal.NewFromFloat(0.50),
		T2Multiplier: decimal.NewFromFloat(5.0),
		T2SellPct:    decimal.NewFromFloat(0.50),
		T3Multiplier: decimal.NewFromFloat(10.0),
		T3SellPct:    decimal.NewFromFloat(0.50),
		StopLossPct:  stopLossPct,
	}
}

// ExecutionResult mirrors the outcome of a process/exit call for logging
// and, eventually, API responses.
type ExecutionResult struct {
	Success        bool
	TradeID        string
	EntryPrice     decimal.Decimal
	AmountReceived decimal.Decimal
	FeesPaid       decimal.Decimal
	Error          string
}

var (
	one                     = decimal.NewFromInt(1)
	closePositionThreshold  = decimal.NewFromFloat(0.01)
)

// Orchestrator owns the in-memory book of active positions and every
// dependency the entry and exit paths use.
type Orchestrator struct {
	simulator *simulator.Simulator
	riskgate  *riskgate.Gate
	policy    *confidence.Policy
	router    *router.Router
	subwallets *subwallet.Pool
	bundler   *bundle.Submitter
	store     *store.Store
	journal   *journal.Journal
	forensics *forensics.Forensics

	capital      decimal.Decimal
	exitStrategy ExitStrategy
	blockEngineURL string
	basePct      decimal.Decimal
	maxPct       decimal.Decimal

	mu           sync.Mutex
	positions    map[string]*model.Position
	seenSignals  map[string]struct{}
	entryFlights singleflight.Group
}

func New(
	cfg config.OrchestratorConfig,
	capital decimal.Decimal,
	blockEngineURL string,
	sim *simulator.Simulator,
	rg *riskgate.Gate,
	policy *confidence.Policy,
	r *router.Router,
	pool *subwallet.Pool,
	submitter *bundle.Submitter,
	s *store.Store,
	j *journal.Journal,
	f *forensics.Forensics,
) *Orchestrator {
	return &Orchestrator{
		simulator:      sim,
		riskgate:       rg,
		policy:         policy,
		router:         r,
		subwallets:     pool,
		bundler:        submitter,
		store:          s,
		journal:        j,
		forensics:      f,
		capital:        capital,
		exitStrategy:   DefaultExitStrategy(cfg.StopLossPct),
		blockEngineURL: blockEngineURL,
		basePct:        cfg.BasePositionPct,
		maxPct:         cfg.MaxPositionPct,
		positions:      make(map[string]*model.Position),
		seenSignals:    make(map[string]struct{}),
	}
}

// ProcessSignal runs a TradeSignal through every gate and, if it clears
// all of them, opens a new position. Duplicate delivery of the same
// SignalID is a no-op, and entries for distinct token mints proceed
// concurrently while entries for the same mint are single-flighted so two
// signals on one token can never race into two positions.
func (o *Orchestrator) ProcessSignal(ctx context.Context, signal model.TradeSignal) ExecutionResult {
	log.Info().Str("source", string(signal.Source)).Str("token", abbrev(signal.TokenMint)).
		Str("confidence", signal.Confidence.String()).Msg("processing signal")

	if o.alreadyProcessed(signal.SignalID) {
		log.Debug().Str("signal_id", signal.SignalID).Msg("duplicate signal delivery ignored")
		return ExecutionResult{Error: "signal already processed"}
	}

	result, err, _ := o.entryFlights.Do(signal.TokenMint, func() (any, error) {
		return o.openPosition(ctx, signal), nil
	})
	if err != nil {
		return ExecutionResult{Error: err.Error()}
	}
	return result.(ExecutionResult)
}

// alreadyProcessed records signal.SignalID the first time it is seen and
// reports whether it had already been recorded by an earlier call.
func (o *Orchestrator) alreadyProcessed(signalID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, seen := o.seenSignals[signalID]; seen {
		return true
	}
	o.seenSignals[signalID] = struct{}{}
	return false
}

// openPosition runs the gates and, if every one clears, opens a new
// position. Called at most once per token mint at a time via ProcessSignal's
// single-flight group.
func (o *Orchestrator) openPosition(ctx context.Context, signal model.TradeSignal) ExecutionResult {
	category := "memecoin"
	if v, ok := signal.Metadata["category"].(string); ok && v != "" {
		category = v
	}
	if !o.policy.ShouldExecute(signal.Source, signal.Confidence, category) {
		return ExecutionResult{Error: "confidence below policy threshold"}
	}

	if !o.riskgate.CanTrade() {
		return ExecutionResult{Error: "trading halted: circuit breaker active"}
	}

	if o.simulator.CheckHoneypot(ctx, signal.TokenMint) {
		log.Warn().Str("token", abbrev(signal.TokenMint)).Msg("honeypot detected, rejecting signal")
		return ExecutionResult{Error: "token failed simulation: potential honeypot"}
	}

	positionSize := o.calculatePositionSize(signal.Confidence)
	if !o.riskgate.ValidatePositionSize(positionSize) {
		return ExecutionResult{Error: "position size exceeds risk limits"}
	}

	lamports := positionSize.Mul(decimal.New(1, 9)).IntPart()
	route, err := o.router.GetBestRoute(ctx, router.SOLMint, signal.TokenMint, lamports, 1)
	if err != nil || route == nil {
		return ExecutionResult{Error: "no route found for swap"}
	}

	wallet, err := o.subwallets.AvailableWallet()
	if err != nil {
		return ExecutionResult{Error: fmt.Sprintf("no sub-wallet available: %v", err)}
	}

	tradeID := uuid.NewString()
	entryPrice := entryPriceFromRoute(lamports, route)

	tradeLog := model.TradeLog{
		TradeID:           tradeID,
		SignalSource:      signal.Source,
		SignalID:          signal.SignalID,
		TokenMint:         signal.TokenMint,
		EntryPrice:        entryPrice,
		PositionSizeToken: route.OutputAmount,
		PositionSizeSOL:   positionSize,
		EntryTime:         time.Now().UTC(),
		SubWalletAddress:  wallet.Address,
		SlippageExpected:  route.PriceImpactPct,
	}
	if err := o.journal.LogEntry(tradeLog); err != nil {
		return ExecutionResult{Error: fmt.Sprintf("failed to log trade entry: %v", err)}
	}

	if err := o.riskgate.RecordPositionOpened(positionSize); err != nil {
		log.Warn().Err(err).Msg("failed to record position with risk gate")
	}
	if err := o.subwallets.MarkUsed(ctx, wallet.WalletID); err != nil {
		log.Warn().Err(err).Msg("failed to mark sub-wallet used")
	}

	o.mu.Lock()
	o.positions[tradeID] = &model.Position{
		TradeID:            tradeID,
		TokenMint:          signal.TokenMint,
		SubWalletID:        wallet.WalletID,
		SubWalletAddress:   wallet.Address,
		EntryPrice:         entryPrice,
		TokenAmountAtEntry: route.OutputAmount,
		RemainingFraction:  one,
		EntryTime:          tradeLog.EntryTime,
		LastObservedPrice:  entryPrice,
		SourceAttribution:  signal.Source,
		SourceID:           signal.SourceID,
		HighestTierHit:     model.TierNone,
		Confidence:         signal.Confidence,
	}
	o.mu.Unlock()

	log.Info().Str("trade_id", tradeID[:8]).Str("token", abbrev(signal.TokenMint)).
		Str("size_sol", positionSize.String()).Msg("✅ trade executed")

	return ExecutionResult{
		Success:        true,
		TradeID:        tradeID,
		EntryPrice:     entryPrice,
		AmountReceived: route.OutputAmount,
	}
}

// calculatePositionSize scales linearly from BasePositionPct at zero
// confidence up to MaxPositionPct at full confidence.
func (o *Orchestrator) calculatePositionSize(confidence decimal.Decimal) decimal.Decimal {
	spread := o.maxPct.Sub(o.basePct)
	positionPct := o.basePct.Add(confidence.Mul(spread))
	return o.capital.Mul(positionPct)
}

// CheckExits polls every active position for an exit-tier breach. Called
// on a ticker by the caller; never internally scheduled so tests can drive
// it deterministically.
func (o *Orchestrator) CheckExits(ctx context.Context) []ExecutionResult {
	o.mu.Lock()
	snapshot := make([]*model.Position, 0, len(o.positions))
	for _, p := range o.positions {
		snapshot = append(snapshot, p)
	}
	o.mu.Unlock()

	var results []ExecutionResult
	for _, pos := range snapshot {
		currentPrice, err := o.currentPrice(ctx, pos.TokenMint)
		if err != nil || currentPrice.IsZero() || pos.EntryPrice.IsZero() {
			continue
		}

		priceMultiple := currentPrice.Div(pos.EntryPrice)

		tier, sellPct := o.evaluateTier(priceMultiple)
		if tier == model.TierNone {
			continue
		}
		o.mu.Lock()
		highest := pos.HighestTierHit
		o.mu.Unlock()
		if tier != model.TierSL && tierRank(tier) <= tierRank(highest) {
			continue
		}

		results = append(results, o.executeExit(ctx, pos, tier, sellPct, currentPrice))
	}
	return results
}

func (o *Orchestrator) evaluateTier(priceMultiple decimal.Decimal) (model.ExitTier, decimal.Decimal) {
	switch {
	case priceMultiple.LessThanOrEqual(one.Add(o.exitStrategy.StopLossPct)):
		return model.TierSL, one
	case priceMultiple.GreaterThanOrEqual(o.exitStrategy.T3Multiplier):
		return model.TierT3, o.exitStrategy.T3SellPct
	case priceMultiple.GreaterThanOrEqual(o.exitStrategy.T2Multiplier):
		return model.TierT2, o.exitStrategy.T2SellPct
	case priceMultiple.GreaterThanOrEqual(o.exitStrategy.T1Multiplier):
		return model.TierT1, o.exitStrategy.T1SellPct
	default:
		return model.TierNone, decimal.Zero
	}
}

func (o *Orchestrator) executeExit(ctx context.Context, pos *model.Position, tier model.ExitTier, sellPct, currentPrice decimal.Decimal) ExecutionResult {
	currentHoldingTokens := pos.TokenAmountAtEntry.Mul(pos.RemainingFraction)
	tokensToSell := currentHoldingTokens.Mul(sellPct)
	if tokensToSell.LessThanOrEqual(decimal.Zero) {
		return ExecutionResult{Success: true, TradeID: pos.TradeID}
	}

	log.Info().Str("tier", string(tier)).Str("trade_id", pos.TradeID[:8]).
		Str("sell_pct", sellPct.String()).Msg("executing tiered exit")

	urgency := 3
	if tier == model.TierSL || tier == model.TierPanic {
		urgency = 5
	}

	route, err := o.router.GetBestRoute(ctx, pos.TokenMint, router.SOLMint, tokensToSell.IntPart(), urgency)
	if err != nil || route == nil {
		return ExecutionResult{Success: false, TradeID: pos.TradeID, Error: "no route found for exit"}
	}

	txBytes, err := o.router.GetSwapTransaction(ctx, route, pos.SubWalletAddress)
	if err != nil {
		return ExecutionResult{Success: false, TradeID: pos.TradeID, Error: fmt.Sprintf("failed to build swap tx: %v", err)}
	}

	if _, err := o.subwallets.SignAs(pos.SubWalletID, txBytes); err != nil {
		log.Warn().Err(err).Msg("exit transaction signing failed")
	}

	bundleResult := o.bundler.SubmitBundle(ctx, o.blockEngineURL, [][]byte{txBytes}, 0)
	if bundleResult.Status == bundle.StatusFailed {
		return ExecutionResult{Success: false, TradeID: pos.TradeID, Error: fmt.Sprintf("jito submission failed: %s", bundleResult.Error)}
	}

	o.mu.Lock()
	actualSoldOfTotal := pos.RemainingFraction.Mul(sellPct)
	newRemaining := pos.RemainingFraction.Sub(actualSoldOfTotal)
	pos.RemainingFraction = newRemaining
	pos.LastObservedPrice = currentPrice
	if tierRank(tier) > tierRank(pos.HighestTierHit) {
		pos.HighestTierHit = tier
	}
	closed := newRemaining.LessThanOrEqual(closePositionThreshold)
	if closed {
		delete(o.positions, pos.TradeID)
	}
	o.mu.Unlock()

	status := model.StatusClosed
	if tier == model.TierSL {
		status = model.StatusStoppedOut
	}
	if closed {
		if err := o.journal.LogExit(pos.TradeID, currentPrice, tier, status, route.PriceImpactPct); err != nil {
			log.Warn().Err(err).Msg("failed to log trade exit")
		}

		if trade, err := o.journal.GetTrade(pos.TradeID); err == nil {
			// EntryPrice is lamports per token unit, so P&L and size are
			// converted from lamports to SOL for the risk gate.
			lamportsPerSOL := decimal.New(1, 9)
			positionSizeSOL := pos.EntryPrice.Mul(pos.TokenAmountAtEntry).Div(lamportsPerSOL)
			pnlSOL := trade.RealizedPnL.Div(lamportsPerSOL)
			if _, err := o.riskgate.RecordTradeResult(pnlSOL, pnlSOL.GreaterThan(decimal.Zero), positionSizeSOL); err != nil {
				log.Warn().Err(err).Msg("failed to record trade result with risk gate")
			}
			if trade.PnLPercentage.IsNegative() {
				o.forensics.AnalyzeFailure(pos.TradeID, pos.TokenMint, trade.PnLPercentage, pos.SourceAttribution,
					pos.Confidence, route.PriceImpactPct, trade.SlippageExpected)
			}
		}
	}

	log.Info().Str("bundle_id", bundleResult.BundleID).Msg("✅ exit successful")

	return ExecutionResult{
		Success:        true,
		TradeID:        pos.TradeID,
		EntryPrice:     currentPrice,
		AmountReceived: route.OutputAmount,
	}
}

// currentPrice quotes lamports-per-token by probing a fixed-size sell
// route: the larger the SOL output for a fixed token input, the higher the
// price has risen since entry.
func (o *Orchestrator) currentPrice(ctx context.Context, tokenMint string) (decimal.Decimal, error) {
	const probeTokens = 1_000_000
	route, err := o.router.GetBestRoute(ctx, tokenMint, router.SOLMint, probeTokens, 1)
	if err != nil || route == nil {
		return decimal.Zero, fmt.Errorf("no price route available")
	}
	if route.OutputAmount.IsZero() {
		return decimal.Zero, fmt.Errorf("zero output amount")
	}
	return route.OutputAmount.Div(decimal.NewFromInt(probeTokens)), nil
}

func entryPriceFromRoute(inputLamports int64, route *router.Route) decimal.Decimal {
	if route.OutputAmount.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(inputLamports).Div(route.OutputAmount)
}

func tierRank(t model.ExitTier) int {
	switch t {
	case model.TierT1:
		return 1
	case model.TierT2:
		return 2
	case model.TierT3:
		return 3
	case model.TierSL:
		return 4
	case model.TierPanic:
		return 5
	default:
		return 0
	}
}

// RebuildOpenPositions repopulates the in-memory position book from trades
// still open in the durable log, so a restart doesn't orphan live exits.
func (o *Orchestrator) RebuildOpenPositions(trades []model.TradeLog) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, t := range trades {
		walletID, err := o.store.SubWalletIDByAddress(t.SubWalletAddress)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", t.TradeID[:8]).Msg("could not resolve sub-wallet for open trade, skipping rebuild")
			continue
		}
		o.positions[t.TradeID] = &model.Position{
			TradeID:            t.TradeID,
			TokenMint:          t.TokenMint,
			SubWalletID:        walletID,
			SubWalletAddress:   t.SubWalletAddress,
			EntryPrice:         t.EntryPrice,
			TokenAmountAtEntry: t.PositionSizeToken,
			RemainingFraction:  one,
			EntryTime:          t.EntryTime,
			LastObservedPrice:  t.EntryPrice,
			SourceAttribution:  t.SignalSource,
			SourceID:           t.SignalID,
			HighestTierHit:     model.TierNone,
		}
	}
	log.Info().Int("count", len(trades)).Msg("rebuilt open position book from trade log")
}

// ActivePositions returns a snapshot of every currently open position.
func (o *Orchestrator) ActivePositions() []model.Position {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.Position, 0, len(o.positions))
	for _, p := range o.positions {
		out = append(out, *p)
	}
	return out
}

func abbrev(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
