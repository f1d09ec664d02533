package correlation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/eventbus"
	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/store"
)

func testConfig() config.CorrelationConfig {
	return config.CorrelationConfig{
		SlotWindow:           5,
		MinClusterSize:       2,
		WeightTime:           decimal.NewFromFloat(0.4),
		WeightOrder:          decimal.NewFromFloat(0.3),
		WeightHistory:        decimal.NewFromFloat(0.3),
		MinPairwiseScore:     decimal.Zero,
		SharedContractSat:    1,
		ConfidenceEscalation: decimal.NewFromFloat(0.1),
		SlotMillis:           400,
		MaxCachedSlots:       1000,
	}
}

func newTestEngine(t *testing.T) (*Engine, *eventbus.Bus) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "correlation.db")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := eventbus.NewBus()
	t.Cleanup(bus.Close)

	return New(testConfig(), s, nil, bus), bus
}

func TestProcessEventIgnoresUnmonitoredContract(t *testing.T) {
	e, _ := newTestEngine(t)
	results, err := e.ProcessEvent(context.Background(), model.CorrelationEvent{
		Contract: "untracked-program", Wallet: "wallet-a", Slot: 1, Timestamp: time.Now().UTC(),
	}, []string{"prog-a"})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestProcessEventBelowMinClusterSizeYieldsNoResult(t *testing.T) {
	e, _ := newTestEngine(t)
	results, err := e.ProcessEvent(context.Background(), model.CorrelationEvent{
		Contract: "prog-a", Wallet: "wallet-a", Slot: 100, Timestamp: time.Now().UTC(),
	}, []string{"prog-a"})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestProcessEventDetectsPairwiseCorrelation(t *testing.T) {
	e, _ := newTestEngine(t)
	now := time.Now().UTC()
	monitored := []string{"prog-a"}

	_, err := e.ProcessEvent(context.Background(), model.CorrelationEvent{
		Contract: "prog-a", Wallet: "wallet-a", Slot: 100, Timestamp: now,
	}, monitored)
	require.NoError(t, err)

	results, err := e.ProcessEvent(context.Background(), model.CorrelationEvent{
		Contract: "prog-a", Wallet: "wallet-b", Slot: 102, Timestamp: now.Add(100 * time.Millisecond),
	}, monitored)
	require.NoError(t, err)
	require.NotEmpty(t, results, "two wallets interacting with the same contract within the slot window should correlate")

	cluster := e.ClusterForWallet("wallet-b")
	require.NotNil(t, cluster)
	require.Equal(t, 2, cluster.Size())
}
