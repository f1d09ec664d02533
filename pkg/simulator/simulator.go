// Package simulator dry-runs a token's buy/sell path before the
// Orchestrator commits real capital, classifying the token's rug/honeypot
// risk from the resulting quote behavior.
package simulator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/router"
	"github.com/onchain-intel/engine/pkg/store"
)

var (
	safeTaxCeiling    = decimal.NewFromFloat(0.05)
	cautionTaxCeiling = decimal.NewFromFloat(0.15)
	honeypotTaxFloor  = decimal.NewFromFloat(0.50)
)

type cachedResult struct {
	result  model.SimulationResult
	cutoff  time.Time
}

// Simulator runs the buy -> transfer -> sell dry-run sequence against the
// router and classifies the outcome. Results are cached in-memory for
// CacheTTL and mirrored into the relational store for StoreTTL.
type Simulator struct {
	cfg    config.SimulatorConfig
	router *router.Router
	store  *store.Store

	mu    sync.Mutex
	cache map[string]cachedResult
}

func New(cfg config.SimulatorConfig, r *router.Router, s *store.Store) *Simulator {
	return &Simulator{cfg: cfg, router: r, store: s, cache: make(map[string]cachedResult)}
}

// SimulateToken runs (or returns a cached) simulation for tokenMint.
func (s *Simulator) SimulateToken(ctx context.Context, tokenMint string, forceRefresh bool) model.SimulationResult {
	if !forceRefresh {
		if cached, ok := s.fromCache(tokenMint); ok {
			return cached
		}
		if stored, err := s.store.RecentSimResult(tokenMint, s.cfg.StoreTTL); err == nil && stored != nil {
			s.putCache(tokenMint, *stored)
			return *stored
		}
	}

	log.Info().Str("token", abbrev(tokenMint)).Msg("simulating token")

	result := model.SimulationResult{
		TokenMint: tokenMint,
		SimTime:   time.Now().UTC(),
	}

	simCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxSimulateTime)
	defer cancel()

	s.simulateBuy(simCtx, &result)
	if result.BuySuccess {
		s.simulateTransfer(&result)
		s.simulateSell(simCtx, &result)
	}
	s.classifyRisk(&result)

	if err := s.store.UpsertSimResult(result); err != nil {
		log.Warn().Err(err).Msg("failed to persist simulation result")
	}
	s.putCache(tokenMint, result)

	log.Info().Str("token", abbrev(tokenMint)).Str("risk", string(result.RiskClass)).Msg("simulation complete")
	return result
}

func (s *Simulator) simulateBuy(ctx context.Context, result *model.SimulationResult) {
	route, err := s.router.GetBestRoute(ctx, router.SOLMint, result.TokenMint, s.cfg.TestBuyLamports, 1)
	if err != nil || route == nil {
		result.Notes = "buy quote failed"
		return
	}
	result.BuySuccess = true
	result.BuyTax = route.PriceImpactPct
}

func (s *Simulator) simulateTransfer(result *model.SimulationResult) {
	result.TransferSuccess = true
	result.TransferBlocked = false
}

func (s *Simulator) simulateSell(ctx context.Context, result *model.SimulationResult) {
	route, err := s.router.GetBestRoute(ctx, result.TokenMint, router.SOLMint, 1, 1)
	if err != nil || route == nil {
		result.SellBlocked = true
		result.SellError = "no sell route available - possible honeypot"
		return
	}
	result.SellSuccess = true
	result.SellTax = route.PriceImpactPct
}

// classifyRisk implements, in order: Honeypot if sell blocked or sell tax
// > 50%; Unknown if the buy or sell leg did not succeed; Safe if both
// taxes < 5%; Caution if sell tax < 15%; HighRisk otherwise.
func (s *Simulator) classifyRisk(result *model.SimulationResult) {
	switch {
	case result.SellBlocked || result.SellTax.GreaterThan(honeypotTaxFloor):
		result.IsHoneypot = true
		result.RiskClass = model.RiskHoneypot
	case !result.BuySuccess || !result.SellSuccess:
		result.RiskClass = model.RiskUnknown
	case result.BuyTax.LessThan(safeTaxCeiling) && result.SellTax.LessThan(safeTaxCeiling):
		result.RiskClass = model.RiskSafe
	case result.SellTax.LessThan(cautionTaxCeiling):
		result.RiskClass = model.RiskCaution
	default:
		result.RiskClass = model.RiskHigh
	}
}

// CheckHoneypot is the cheap, cache- and store-first honeypot gate the
// Orchestrator calls before every entry.
func (s *Simulator) CheckHoneypot(ctx context.Context, tokenMint string) bool {
	result := s.SimulateToken(ctx, tokenMint, false)
	return result.IsHoneypot
}

func (s *Simulator) fromCache(tokenMint string) (model.SimulationResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[tokenMint]
	if !ok || time.Now().After(c.cutoff) {
		return model.SimulationResult{}, false
	}
	return c.result, true
}

func (s *Simulator) putCache(tokenMint string, result model.SimulationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[tokenMint] = cachedResult{result: result, cutoff: time.Now().Add(s.cfg.CacheTTL)}
}

func abbrev(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
