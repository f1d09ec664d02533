// Package confidence decides whether a signal clears the bar to trade.
// Thresholds vary by signal source and risk profile; the active profile
// can be swapped at runtime without a restart and without racing an
// in-flight decision.
package confidence

import (
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/model"
)

var thresholdTable = map[config.Profile]map[model.SignalSource]decimal.Decimal{
	config.ProfileConservative: {
		model.SourceInfluencer:  decimal.NewFromFloat(0.75),
		model.SourceCabal:       decimal.NewFromFloat(0.80),
		model.SourceFreshWallet: decimal.NewFromFloat(0.85),
		model.SourcePerps:       decimal.NewFromFloat(0.90),
		model.SourceHybrid:      decimal.NewFromFloat(0.70),
	},
	config.ProfileModerate: {
		model.SourceInfluencer:  decimal.NewFromFloat(0.60),
		model.SourceCabal:       decimal.NewFromFloat(0.65),
		model.SourceFreshWallet: decimal.NewFromFloat(0.75),
		model.SourcePerps:       decimal.NewFromFloat(0.80),
		model.SourceHybrid:      decimal.NewFromFloat(0.55),
	},
	config.ProfileAggressive: {
		model.SourceInfluencer:  decimal.NewFromFloat(0.45),
		model.SourceCabal:       decimal.NewFromFloat(0.50),
		model.SourceFreshWallet: decimal.NewFromFloat(0.60),
		model.SourcePerps:       decimal.NewFromFloat(0.65),
		model.SourceHybrid:      decimal.NewFromFloat(0.40),
	},
}

var categoryMultiplier = map[string]decimal.Decimal{
	"memecoin":  decimal.NewFromFloat(1.0),
	"ecosystem": decimal.NewFromFloat(0.90),
}

var (
	floorMultiplier = decimal.NewFromFloat(0.5)
	ceilMultiplier  = decimal.NewFromFloat(1.0)
)

// PolicySnapshot is the immutable value swapped atomically on a profile
// change. Every field read during ShouldExecute comes from one snapshot,
// so an in-flight decision never observes a half-updated profile.
type PolicySnapshot struct {
	Profile config.Profile
}

// Policy exposes ShouldExecute over a hot-swappable snapshot pointer.
type Policy struct {
	snapshot atomic.Pointer[PolicySnapshot]
}

func New(initial config.Profile) *Policy {
	p := &Policy{}
	p.snapshot.Store(&PolicySnapshot{Profile: initial})
	return p
}

// SetProfile swaps the active profile wholesale; concurrent ShouldExecute
// calls see either the old or the new snapshot, never a mix.
func (p *Policy) SetProfile(profile config.Profile) {
	p.snapshot.Store(&PolicySnapshot{Profile: profile})
}

func (p *Policy) ActiveProfile() config.Profile {
	return p.snapshot.Load().Profile
}

// ShouldExecute is the pure gating decision: confidence must meet the
// category-adjusted base threshold for the active profile and signal
// source.
func (p *Policy) ShouldExecute(source model.SignalSource, confidence decimal.Decimal, walletCategory string) bool {
	snap := p.snapshot.Load()

	byProfile, ok := thresholdTable[snap.Profile]
	if !ok {
		byProfile = thresholdTable[config.ProfileModerate]
	}
	base, ok := byProfile[source]
	if !ok {
		return false
	}

	mult, ok := categoryMultiplier[walletCategory]
	if !ok {
		mult = decimal.NewFromFloat(1.0)
	}

	threshold := base.Mul(mult)
	if threshold.GreaterThan(ceilMultiplier) {
		threshold = ceilMultiplier
	}
	if threshold.LessThan(floorMultiplier) {
		threshold = floorMultiplier
	}

	return confidence.GreaterThanOrEqual(threshold)
}
