// Package matcher links CEX withdrawals to freshly-funded wallets by
// temporal and quantitative proximity, emitting sig.fresh_wallet signals
// for high-confidence matches.
package matcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/eventbus"
	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/store"
)

var one = decimal.NewFromInt(1)
var half = decimal.NewFromFloat(0.5)

// FreshWalletMatcher scores every fresh-wallet candidate in the relational
// store against an incoming withdrawal and emits a signal for the single
// best match above the configured threshold.
type FreshWalletMatcher struct {
	cfg   config.FreshWalletConfig
	store *store.Store
	graph *store.GraphStore
	bus   *eventbus.Bus
}

func New(cfg config.FreshWalletConfig, s *store.Store, g *store.GraphStore, bus *eventbus.Bus) *FreshWalletMatcher {
	return &FreshWalletMatcher{cfg: cfg, store: s, graph: g, bus: bus}
}

// ProcessWithdrawal is the matcher's single entry point: given a CEX
// withdrawal, it searches for the best freshly-funded wallet candidate
// within the configured time/amount window and, on a sufficiently
// confident match, persists and publishes it.
func (m *FreshWalletMatcher) ProcessWithdrawal(ctx context.Context, w model.WithdrawalEvent) (*model.FreshWalletMatch, error) {
	log.Info().Str("tx", abbrev(w.TxID)).Str("exchange", w.SourceExchangeName).
		Str("amount", w.Amount.String()).Msg("processing cex withdrawal for fresh-wallet match")

	windowStart := w.Timestamp
	windowEnd := w.Timestamp.Add(m.cfg.TimeWindow)

	tolerance := m.cfg.SoftAmountDeltaPct
	amountLo := w.Amount.Mul(one.Sub(tolerance))
	amountHi := w.Amount.Mul(one.Add(tolerance))

	candidates, err := m.store.FreshWalletCandidates(windowStart, windowEnd, amountLo, amountHi, m.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		log.Debug().Str("tx", abbrev(w.TxID)).Msg("no fresh-wallet candidates in window")
		return nil, nil
	}

	var best store.FreshCandidate
	bestScore := decimal.Zero
	for _, c := range candidates {
		score := m.scoreCandidate(w, c)
		if score.GreaterThan(bestScore) {
			bestScore = score
			best = c
		}
	}

	if bestScore.LessThan(m.cfg.MinScore) {
		log.Debug().Str("tx", abbrev(w.TxID)).Str("best_score", bestScore.String()).Msg("no candidate cleared match threshold")
		return nil, nil
	}

	timeDeltaMs := best.FirstFundedAt.Sub(w.Timestamp).Milliseconds()
	match := &model.FreshWalletMatch{
		Withdrawal:     w,
		FundedWallet:   best.Address,
		DeltaTimeMs:    timeDeltaMs,
		DeltaAmountPct: best.FirstAmount.Sub(w.Amount).Abs().Div(w.Amount),
		Score:          bestScore,
	}

	if err := m.store.InsertFreshMatch(*match); err != nil {
		return nil, err
	}
	if m.graph != nil {
		if err := m.graph.RecordFunding(ctx, best.Address, "CEX:"+w.SourceExchangeName, w.Amount.InexactFloat64(), w.Timestamp); err != nil {
			log.Warn().Err(err).Msg("failed to record funding edge in graph store")
		}
	}

	log.Info().Str("wallet", abbrev(best.Address)).Str("score", bestScore.StringFixed(4)).
		Msg("🎯 matched cex withdrawal to fresh wallet")

	signal := model.TradeSignal{
		SignalID:   uuid.NewString(),
		Source:     model.SourceFreshWallet,
		SourceID:   w.SourceExchangeName,
		TokenMint:  "",
		Confidence: bestScore,
		Timestamp:  time.Now().UTC(),
		Metadata: map[string]any{
			"funded_wallet": best.Address,
			"withdrawal_tx": w.TxID,
		},
	}
	eventbus.Publish(ctx, m.bus, eventbus.TopicSigFreshWallet, eventbus.PolicyBlock, signal)

	return match, nil
}

// scoreCandidate implements the weighted time+amount+freshness formula:
// score = weight_time*time_score + weight_amount*amount_score + freshness_bonus,
// capped at 1.
func (m *FreshWalletMatcher) scoreCandidate(w model.WithdrawalEvent, c store.FreshCandidate) decimal.Decimal {
	timeDeltaMs := decimal.NewFromInt(c.FirstFundedAt.Sub(w.Timestamp).Abs().Milliseconds())
	windowMs := decimal.NewFromInt(m.cfg.TimeWindow.Milliseconds())
	if timeDeltaMs.GreaterThan(windowMs) {
		return decimal.Zero
	}
	timeScore := one.Sub(timeDeltaMs.Div(windowMs))

	var amountDeltaPct decimal.Decimal
	if w.Amount.IsZero() {
		amountDeltaPct = one
	} else {
		amountDeltaPct = c.FirstAmount.Sub(w.Amount).Abs().Div(w.Amount)
	}

	var amountScore decimal.Decimal
	switch {
	case amountDeltaPct.GreaterThan(m.cfg.HardAmountDeltaPct):
		return decimal.Zero
	case amountDeltaPct.GreaterThan(m.cfg.SoftAmountDeltaPct):
		amountScore = half
	case m.cfg.SoftAmountDeltaPct.IsZero():
		amountScore = one
	default:
		amountScore = one.Sub(amountDeltaPct.Div(m.cfg.SoftAmountDeltaPct))
	}

	freshnessBonus := decimal.Zero
	if c.PriorTxCount == 0 {
		freshnessBonus = m.cfg.FreshnessBonus
	}

	score := m.cfg.WeightTime.Mul(timeScore).Add(m.cfg.WeightAmount.Mul(amountScore)).Add(freshnessBonus)
	if score.GreaterThan(one) {
		return one
	}
	return score
}

func abbrev(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
