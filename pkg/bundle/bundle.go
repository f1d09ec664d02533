// Package bundle submits transactions as MEV-protected bundles to a
// Jito-style block engine, bypassing the public mempool. Every bundle's
// final transaction must carry a tip instruction or validators have no
// reason to prioritize it.
package bundle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/rs/zerolog/log"

	"github.com/onchain-intel/engine/pkg/config"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusLanded  Status = "landed"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

// Result is the outcome of a bundle submission or status poll.
type Result struct {
	BundleID  string
	Status    Status
	Slot      uint64
	Error     string
	TipPaid   int64
	TipAccount string
	SubmittedAt time.Time
}

// Submitter talks to a Jito-compatible block engine over its JSON-RPC
// bundle API.
type Submitter struct {
	cfg    config.BundleConfig
	client *http.Client

	mu          sync.RWMutex
	tipAccounts []string
}

func New(cfg config.BundleConfig, blockEngineURL string) *Submitter {
	return &Submitter{cfg: cfg, client: &http.Client{Timeout: cfg.BundleTimeout}, tipAccounts: cfg.TipAccounts}
}

// RandomTipAccount picks one of the currently-known tip accounts at
// random, so load spreads across Jito's infrastructure instead of
// hammering one. Reflects the last successful FetchTipAccounts refresh,
// or the hardcoded config default if no refresh has landed yet.
func (s *Submitter) RandomTipAccount() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipAccounts[rand.Intn(len(s.tipAccounts))]
}

// FetchTipAccounts refreshes the tip-account set from the block engine's
// getTipAccounts method. On any failure the existing set (initially the
// hardcoded config.BundleConfig.TipAccounts list) is left untouched and
// the error is returned for the caller to log.
func (s *Submitter) FetchTipAccounts(ctx context.Context, blockEngineURL string) error {
	req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: "getTipAccounts", Params: []any{}}
	resp, err := s.post(ctx, blockEngineURL, req)
	if err != nil {
		return fmt.Errorf("fetch tip accounts: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("fetch tip accounts: %s", resp.Error.Message)
	}

	var accounts []string
	if err := json.Unmarshal(resp.Result, &accounts); err != nil || len(accounts) == 0 {
		return fmt.Errorf("fetch tip accounts: empty or malformed response")
	}

	s.mu.Lock()
	s.tipAccounts = accounts
	s.mu.Unlock()
	log.Info().Int("count", len(accounts)).Msg("refreshed jito tip accounts from block engine")
	return nil
}

// TipInstruction builds the final-transaction tip transfer. tipLamports is
// clamped to [MinTip, MaxTip]; a zero tipLamports falls back to DefaultTip.
func (s *Submitter) TipInstruction(payer solana.PublicKey, tipLamports int64) (solana.Instruction, string) {
	if tipLamports == 0 {
		tipLamports = s.cfg.DefaultTip
	}
	if tipLamports < s.cfg.MinTip {
		tipLamports = s.cfg.MinTip
	}
	if tipLamports > s.cfg.MaxTip {
		tipLamports = s.cfg.MaxTip
	}

	tipAccount := s.RandomTipAccount()
	tipPubkey := solana.MustPublicKeyFromBase58(tipAccount)

	ix := system.NewTransferInstruction(uint64(tipLamports), payer, tipPubkey).Build()
	log.Debug().Int64("lamports", tipLamports).Str("tip_account", abbrev(tipAccount)).Msg("built tip instruction")
	return ix, tipAccount
}

// CalculateTip scales the default tip by urgency (exponential), bundle
// size (linear), and network congestion, clamped to [MinTip, MaxTip].
func (s *Submitter) CalculateTip(urgency, bundleSize int, networkCongestion float64) int64 {
	if urgency < 1 {
		urgency = 1
	}
	urgencyMultiplier := 1 << (urgency - 1)
	sizeMultiplier := 1 + float64(bundleSize-1)*0.5
	if networkCongestion < 1.0 {
		networkCongestion = 1.0
	}

	calculated := int64(float64(s.cfg.DefaultTip) * float64(urgencyMultiplier) * sizeMultiplier * networkCongestion)
	if calculated < s.cfg.MinTip {
		return s.cfg.MinTip
	}
	if calculated > s.cfg.MaxTip {
		return s.cfg.MaxTip
	}
	return calculated
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SubmitBundle posts the serialized transactions to the block engine's
// sendBundle method. The tip instruction must already be baked into the
// final transaction's bytes.
func (s *Submitter) SubmitBundle(ctx context.Context, blockEngineURL string, transactions [][]byte, tipLamports int64) Result {
	now := time.Now().UTC()

	if len(transactions) == 0 {
		return Result{Status: StatusFailed, Error: "bundle must contain at least one transaction", SubmittedAt: now}
	}
	if len(transactions) > s.cfg.MaxTransactions {
		return Result{Status: StatusFailed, Error: fmt.Sprintf("too many transactions: %d > %d", len(transactions), s.cfg.MaxTransactions), SubmittedAt: now}
	}

	encoded := make([]string, len(transactions))
	for i, tx := range transactions {
		encoded[i] = base64.StdEncoding.EncodeToString(tx)
	}

	req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: "sendBundle", Params: []any{encoded}}
	resp, err := s.post(ctx, blockEngineURL, req)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error(), SubmittedAt: now}
	}
	if resp.Error != nil {
		log.Error().Str("reason", resp.Error.Message).Msg("bundle rejected")
		return Result{Status: StatusFailed, Error: resp.Error.Message, SubmittedAt: now}
	}

	var bundleID string
	if err := json.Unmarshal(resp.Result, &bundleID); err != nil || bundleID == "" {
		return Result{Status: StatusFailed, Error: "empty bundle id in response", SubmittedAt: now}
	}

	if tipLamports == 0 {
		tipLamports = s.cfg.DefaultTip
	}
	log.Info().Str("bundle_id", bundleID).Int("txs", len(transactions)).Int64("tip", tipLamports).
		Msg("✅ bundle submitted")
	return Result{BundleID: bundleID, Status: StatusPending, TipPaid: tipLamports, SubmittedAt: now}
}

type bundleStatusValue struct {
	ConfirmationStatus string `json:"confirmation_status"`
	Slot               uint64 `json:"slot"`
	Err                any    `json:"err"`
}

// GetBundleStatus polls the block engine's getBundleStatuses method for a
// previously-submitted bundle.
func (s *Submitter) GetBundleStatus(ctx context.Context, blockEngineURL, bundleID string) Result {
	req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: "getBundleStatuses", Params: []any{[]string{bundleID}}}
	resp, err := s.post(ctx, blockEngineURL, req)
	if err != nil {
		return Result{BundleID: bundleID, Status: StatusPending, Error: err.Error()}
	}

	var wrapped struct {
		Value []bundleStatusValue `json:"value"`
	}
	if err := json.Unmarshal(resp.Result, &wrapped); err != nil || len(wrapped.Value) == 0 {
		return Result{BundleID: bundleID, Status: StatusPending}
	}

	sv := wrapped.Value[0]
	switch {
	case sv.ConfirmationStatus == "finalized":
		log.Info().Str("bundle_id", bundleID).Uint64("slot", sv.Slot).Msg("bundle landed")
		return Result{BundleID: bundleID, Status: StatusLanded, Slot: sv.Slot}
	case sv.Err != nil:
		return Result{BundleID: bundleID, Status: StatusFailed, Error: fmt.Sprintf("%v", sv.Err)}
	default:
		return Result{BundleID: bundleID, Status: StatusPending}
	}
}

func (s *Submitter) post(ctx context.Context, url string, body rpcRequest) (*rpcResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/api/v1/bundles", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("block engine request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode block engine response: %w", err)
	}
	return &out, nil
}

func abbrev(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
