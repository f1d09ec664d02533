package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onchain-intel/engine/pkg/bundle"
	"github.com/onchain-intel/engine/pkg/confidence"
	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/forensics"
	"github.com/onchain-intel/engine/pkg/journal"
	"github.com/onchain-intel/engine/pkg/keyvault"
	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/riskgate"
	"github.com/onchain-intel/engine/pkg/router"
	"github.com/onchain-intel/engine/pkg/simulator"
	"github.com/onchain-intel/engine/pkg/store"
	"github.com/onchain-intel/engine/pkg/subwallet"
)

// newTestServer builds a mock aggregator + block engine that echoes back
// the requested amount as the quoted output (a 1x price, so entry and exit
// probes agree unless a test overrides the response), at a fixed impact.
func newTestServer(priceImpactPct string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, req *http.Request) {
		amount := req.URL.Query().Get("amount")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"outAmount":      amount,
			"inAmount":       amount,
			"priceImpactPct": priceImpactPct,
		})
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"swapTransaction": base64.StdEncoding.EncodeToString([]byte("signed-tx")),
		})
	})
	mux.HandleFunc("/api/v1/bundles", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": "bundle-id-1"})
	})
	return httptest.NewServer(mux)
}

type harness struct {
	orch      *Orchestrator
	store     *store.Store
	pool      *subwallet.Pool
	riskgate  *riskgate.Gate
	serverURL string
}

func newHarness(t *testing.T, profile config.Profile) *harness {
	t.Helper()
	srv := newTestServer("0.01")
	t.Cleanup(srv.Close)

	dbPath := filepath.Join(t.TempDir(), "orchestrator.db")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	vault, err := keyvault.New("a-sufficiently-long-master-secret")
	require.NoError(t, err)

	poolCfg := config.SubWalletConfig{SplitCount: 3, MinActiveBalance: decimal.Zero, MaxTradesBeforeRotation: 10}
	pool := subwallet.New(poolCfg, s, vault)
	_, err = pool.CreateWallet("wallet-1")
	require.NoError(t, err)

	riskLimits := config.RiskLimitsConfig{
		MaxDailyDrawdownPct: decimal.NewFromFloat(0.10), MaxPositionSizePct: decimal.NewFromFloat(0.50),
		MaxOpenPositions: 5, MaxConsecutiveLosses: 3, LockdownHours: 4,
	}
	gate := riskgate.New(s, decimal.NewFromFloat(100), riskLimits)
	require.NoError(t, gate.Load())

	r := router.New(srv.URL)
	sim := simulator.New(config.SimulatorConfig{CacheTTL: 0, StoreTTL: 0, MaxSimulateTime: 5_000_000_000, TestBuyLamports: 100_000_000}, r, s)
	policy := confidence.New(profile)
	submitter := bundle.New(config.BundleConfig{
		MaxTransactions: 5, DefaultTip: 10_000, MinTip: 1_000, MaxTip: 1_000_000_000,
		TipAccounts: []string{"tip-account-1"}, BundleTimeout: 5_000_000_000,
	}, srv.URL)
	j := journal.New(s)
	f := forensics.New(s)

	orchCfg := config.OrchestratorConfig{
		BasePositionPct: decimal.NewFromFloat(0.01), MaxPositionPct: decimal.NewFromFloat(0.05),
		StopLossPct: decimal.NewFromFloat(-0.30),
	}
	orch := New(orchCfg, decimal.NewFromFloat(100), srv.URL, sim, gate, policy, r, pool, submitter, s, j, f)

	return &harness{orch: orch, store: s, pool: pool, riskgate: gate, serverURL: srv.URL}
}

func highConfidenceSignal() model.TradeSignal {
	return model.TradeSignal{
		SignalID: "sig-1", Source: model.SourceCabal, SourceID: "source-1",
		TokenMint: "mint-new-token", Confidence: decimal.NewFromFloat(0.9),
	}
}

func TestProcessSignalOpensPositionOnHappyPath(t *testing.T) {
	h := newHarness(t, config.ProfileAggressive)

	result := h.orch.ProcessSignal(context.Background(), highConfidenceSignal())
	require.True(t, result.Success, "expected signal to clear every gate: %s", result.Error)
	require.NotEmpty(t, result.TradeID)

	positions := h.orch.ActivePositions()
	require.Len(t, positions, 1)
	require.Equal(t, "mint-new-token", positions[0].TokenMint)
}

func TestProcessSignalRejectsBelowConfidenceThreshold(t *testing.T) {
	h := newHarness(t, config.ProfileConservative)

	sig := highConfidenceSignal()
	sig.Confidence = decimal.NewFromFloat(0.1)

	result := h.orch.ProcessSignal(context.Background(), sig)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "confidence")
}

func TestProcessSignalRejectsWhenCircuitBreakerTripped(t *testing.T) {
	h := newHarness(t, config.ProfileAggressive)

	_, err := h.riskgate.PanicSellAll()
	require.NoError(t, err)

	result := h.orch.ProcessSignal(context.Background(), highConfidenceSignal())
	require.False(t, result.Success)
	require.Contains(t, result.Error, "circuit breaker")
}

func TestProcessSignalRejectsHoneypot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "honeypot.db")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	vault, err := keyvault.New("a-sufficiently-long-master-secret")
	require.NoError(t, err)
	pool := subwallet.New(config.SubWalletConfig{SplitCount: 3, MaxTradesBeforeRotation: 10}, s, vault)
	_, err = pool.CreateWallet("wallet-1")
	require.NoError(t, err)

	gate := riskgate.New(s, decimal.NewFromFloat(100), config.RiskLimitsConfig{
		MaxDailyDrawdownPct: decimal.NewFromFloat(0.10), MaxPositionSizePct: decimal.NewFromFloat(0.50),
		MaxOpenPositions: 5, MaxConsecutiveLosses: 3, LockdownHours: 4,
	})
	require.NoError(t, gate.Load())

	// Sell quote requests always fail on this server (no /quote handler
	// beyond a 404), so the simulator treats the token as a honeypot.
	honeypotSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/quote" && req.URL.Query().Get("inputMint") != router.SOLMint {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"outAmount": "1000000", "inAmount": "1000000", "priceImpactPct": "0.01"})
	}))
	defer honeypotSrv.Close()

	r := router.New(honeypotSrv.URL)
	sim := simulator.New(config.SimulatorConfig{CacheTTL: 0, StoreTTL: 0, MaxSimulateTime: 5_000_000_000, TestBuyLamports: 100_000_000}, r, s)
	policy := confidence.New(config.ProfileAggressive)
	submitter := bundle.New(config.BundleConfig{TipAccounts: []string{"tip"}, BundleTimeout: 5_000_000_000}, honeypotSrv.URL)
	j := journal.New(s)
	f := forensics.New(s)
	orch := New(config.OrchestratorConfig{
		BasePositionPct: decimal.NewFromFloat(0.01), MaxPositionPct: decimal.NewFromFloat(0.05),
		StopLossPct: decimal.NewFromFloat(-0.30),
	}, decimal.NewFromFloat(100), honeypotSrv.URL, sim, gate, policy, r, pool, submitter, s, j, f)

	result := orch.ProcessSignal(context.Background(), highConfidenceSignal())
	require.False(t, result.Success)
	require.Contains(t, result.Error, "honeypot")
}

func TestCheckExitsIsNoopWhenPriceUnchanged(t *testing.T) {
	h := newHarness(t, config.ProfileAggressive)

	result := h.orch.ProcessSignal(context.Background(), highConfidenceSignal())
	require.True(t, result.Success)

	// The mock aggregator echoes back the requested amount for both buy and
	// probe quotes, so price multiple stays at 1x and no tier should fire.
	exits := h.orch.CheckExits(context.Background())
	require.Empty(t, exits)
	require.Len(t, h.orch.ActivePositions(), 1)
}

func TestRebuildOpenPositionsRestoresBookFromTradeLog(t *testing.T) {
	h := newHarness(t, config.ProfileAggressive)

	walletID, err := h.store.SubWalletIDByAddress("wallet-address-does-not-exist")
	require.Error(t, err, "sanity check: unknown address should not resolve")
	_ = walletID

	w, err := h.pool.AvailableWallet()
	require.NoError(t, err)

	trade := model.TradeLog{
		TradeID: "rebuilt-trade", SignalSource: model.SourceCabal, SignalID: "sig-rebuild",
		TokenMint: "mint-rebuild", EntryPrice: decimal.NewFromFloat(1.5),
		PositionSizeToken: decimal.NewFromFloat(100), PositionSizeSOL: decimal.NewFromFloat(1),
		SubWalletAddress: w.Address,
	}

	h.orch.RebuildOpenPositions([]model.TradeLog{trade})

	positions := h.orch.ActivePositions()
	require.Len(t, positions, 1)
	require.Equal(t, "mint-rebuild", positions[0].TokenMint)
}
