package confidence

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/model"
)

func TestPolicyProfileSwap(t *testing.T) {
	p := New(config.ProfileModerate)
	require.Equal(t, config.ProfileModerate, p.ActiveProfile())

	p.SetProfile(config.ProfileAggressive)
	assert.Equal(t, config.ProfileAggressive, p.ActiveProfile())
}

func TestShouldExecuteThresholds(t *testing.T) {
	p := New(config.ProfileModerate)

	t.Run("meets base threshold for memecoin", func(t *testing.T) {
		ok := p.ShouldExecute(model.SourceInfluencer, decimal.NewFromFloat(0.60), "memecoin")
		assert.True(t, ok)
	})

	t.Run("below base threshold rejected", func(t *testing.T) {
		ok := p.ShouldExecute(model.SourceInfluencer, decimal.NewFromFloat(0.59), "memecoin")
		assert.False(t, ok)
	})

	t.Run("ecosystem category lowers the bar", func(t *testing.T) {
		ok := p.ShouldExecute(model.SourceInfluencer, decimal.NewFromFloat(0.55), "ecosystem")
		assert.True(t, ok)
	})

	t.Run("unknown source never clears", func(t *testing.T) {
		ok := p.ShouldExecute(model.SignalSource("unknown_source"), decimal.NewFromFloat(0.99), "memecoin")
		assert.False(t, ok)
	})

	t.Run("conservative profile raises the bar", func(t *testing.T) {
		p.SetProfile(config.ProfileConservative)
		assert.False(t, p.ShouldExecute(model.SourceCabal, decimal.NewFromFloat(0.65), "memecoin"))
		assert.True(t, p.ShouldExecute(model.SourceCabal, decimal.NewFromFloat(0.80), "memecoin"))
	})

	t.Run("aggressive profile lowers the bar", func(t *testing.T) {
		p.SetProfile(config.ProfileAggressive)
		assert.True(t, p.ShouldExecute(model.SourceFreshWallet, decimal.NewFromFloat(0.60), "memecoin"))
	})
}

func TestShouldExecuteUnknownProfileFallsBackToModerate(t *testing.T) {
	p := New(config.Profile("nonexistent"))
	// Moderate's influencer threshold is 0.60.
	assert.True(t, p.ShouldExecute(model.SourceInfluencer, decimal.NewFromFloat(0.60), "memecoin"))
	assert.False(t, p.ShouldExecute(model.SourceInfluencer, decimal.NewFromFloat(0.50), "memecoin"))
}
