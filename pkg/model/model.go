// Package model defines the shared data entities that flow through the
// pipeline: events, signals, positions, and the durable rows derived from
// them. Every monetary, percentage, or confidence field is a
// decimal.Decimal — float64 never appears at a decision point.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventSwap               EventKind = "swap"
	EventTransfer           EventKind = "transfer"
	EventProgramInteraction EventKind = "program_interaction"
)

// ChainEvent is an immutable record of one on-chain action, produced by the
// Normalizer and fanned out to every detector. Never mutated after creation.
type ChainEvent struct {
	Kind          EventKind
	TxID          string
	Slot          int64
	Timestamp     time.Time
	Wallet        string
	ProgramID     string
	InputMint     string
	OutputMint    string
	InputAmount   decimal.Decimal
	OutputAmount  decimal.Decimal
	FeeLamports   int64
}

// WithdrawalEvent refines a ChainEvent recognized as an exchange-to-user
// transfer. IsFreshFunding holds iff the recipient had zero prior transactions.
type WithdrawalEvent struct {
	TxID                string
	Slot                int64
	Timestamp           time.Time
	SourceExchangeWallet string
	SourceExchangeName  string
	RecipientWallet     string
	Amount              decimal.Decimal
	Decimals            int
	RecipientPriorTxCount int64
}

func (w WithdrawalEvent) IsFreshFunding() bool {
	return w.RecipientPriorTxCount == 0
}

// CorrelationEvent is the projection of a ChainEvent the CorrelationEngine
// reasons over.
type CorrelationEvent struct {
	Contract  string
	Slot      int64
	Timestamp time.Time
	Wallet    string
	TxID      string
	Action    string
}

type ClusterState string

const (
	ClusterForming ClusterState = "forming"
	ClusterActive  ClusterState = "active"
	ClusterDecayed ClusterState = "decayed"
)

// WalletCluster is the CorrelationEngine's derived notion of a cabal: a set
// of wallets plus the contracts they share. Never loses a member once added.
type WalletCluster struct {
	ClusterID        string
	Wallets          map[string]struct{}
	SharedContracts  map[string]struct{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
	AvgCorrelation   decimal.Decimal
	TotalInteractions int64
}

func (c *WalletCluster) Size() int { return len(c.Wallets) }

// IsActiveCabal matches §3's activation invariant: size >= 3, at least 5
// shared contracts, and an average pairwise correlation of at least 0.70.
func (c *WalletCluster) IsActiveCabal() bool {
	return c.Size() >= 3 && len(c.SharedContracts) >= 5 && c.AvgCorrelation.GreaterThanOrEqual(decimal.NewFromFloat(0.70))
}

func (c *WalletCluster) State() ClusterState {
	switch {
	case c.IsActiveCabal():
		return ClusterActive
	default:
		return ClusterForming
	}
}

// CorrelationResult is the undirected pairwise edge the engine computes
// between two wallets that transacted on the same contract.
type CorrelationResult struct {
	WalletA           string
	WalletB           string
	Score             decimal.Decimal
	SharedContracts   []string
	AvgTimeProximityMs int64
	CoOccurrenceCount int64
	TriggeringContract string
}

// FreshWalletMatch is the persisted link between a CEX withdrawal and the
// freshly-funded wallet the matcher believes received it.
type FreshWalletMatch struct {
	Withdrawal      WithdrawalEvent
	FundedWallet    string
	DeltaTimeMs     int64
	DeltaAmountPct  decimal.Decimal
	Score           decimal.Decimal
	ParentClusterID string
}

type SignalSource string

const (
	SourceCabal       SignalSource = "cabal"
	SourceInfluencer  SignalSource = "influencer"
	SourceFreshWallet SignalSource = "fresh_wallet"
	SourcePerps       SignalSource = "perps"
	SourceHybrid      SignalSource = "hybrid"
	SourceManual      SignalSource = "manual"
)

// TradeSignal is an ephemeral decision unit consumed at most once by the
// Orchestrator.
type TradeSignal struct {
	SignalID   string
	Source     SignalSource
	SourceID   string
	TokenMint  string
	Confidence decimal.Decimal
	Timestamp  time.Time
	Metadata   map[string]any
}

// IsHighConfidence is a log-elevation hint only — never a gating decision.
func (s TradeSignal) IsHighConfidence() bool {
	return s.Confidence.GreaterThan(decimal.NewFromFloat(0.8))
}

type ExitTier string

const (
	TierNone  ExitTier = ""
	TierT1    ExitTier = "T1"
	TierT2    ExitTier = "T2"
	TierT3    ExitTier = "T3"
	TierSL    ExitTier = "SL"
	TierPanic ExitTier = "PANIC"
)

// Position is the in-memory record of one open trade. RemainingFraction is
// non-increasing; the position is closed once it drops below 0.01.
type Position struct {
	TradeID           string
	TokenMint         string
	SubWalletID       string
	SubWalletAddress  string
	EntryPrice        decimal.Decimal
	TokenAmountAtEntry decimal.Decimal
	RemainingFraction decimal.Decimal
	EntryTime         time.Time
	LastObservedPrice decimal.Decimal
	SourceAttribution SignalSource
	SourceID          string
	HighestTierHit    ExitTier
	Confidence        decimal.Decimal
}

type TradeStatus string

const (
	StatusOpen       TradeStatus = "open"
	StatusClosed     TradeStatus = "closed"
	StatusStoppedOut TradeStatus = "stopped_out"
	StatusRugged     TradeStatus = "rugged"
	StatusPanicSold  TradeStatus = "panic_sold"
)

// TradeLog is the durable row for one trade's entry and exit.
type TradeLog struct {
	TradeID             string
	SignalSource        SignalSource
	SignalID            string
	TokenMint           string
	EntryPrice          decimal.Decimal
	ExitPrice           decimal.Decimal
	PositionSizeToken   decimal.Decimal
	PositionSizeSOL     decimal.Decimal
	EntryTime           time.Time
	ExitTime            time.Time
	ExitTier            ExitTier
	RealizedPnL         decimal.Decimal
	PnLPercentage       decimal.Decimal
	FeesPaid            decimal.Decimal
	Status              TradeStatus
	FailureReason       string
	SubWalletAddress    string
	BundleID            string
	SlippageExpected    decimal.Decimal
	SlippageActual      decimal.Decimal
}

func (t TradeLog) IsWin() bool { return t.RealizedPnL.GreaterThan(decimal.Zero) }

func (t TradeLog) HoldDuration() time.Duration {
	if t.ExitTime.IsZero() {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}

func (t TradeLog) NetPnL() decimal.Decimal {
	return t.RealizedPnL.Sub(t.FeesPaid)
}

// SourceStats is a per-signal-source aggregate, folded purely from closed
// TradeLog rows.
type SourceStats struct {
	SourceID          string
	SourceType        SignalSource
	SourceName        string
	TotalTrades       int64
	WinningTrades     int64
	LosingTrades      int64
	TotalPnL          decimal.Decimal
	AvgPnLPercentage  decimal.Decimal
	BestTradePnL      decimal.Decimal
	WorstTradePnL     decimal.Decimal
	WinRate           decimal.Decimal
	AvgHoldTimeHours  decimal.Decimal
	SharpeRatio       decimal.Decimal
	SortinoRatio      decimal.Decimal
	MaxDrawdown       decimal.Decimal
	LastTradeTime     time.Time
}

func (s SourceStats) ProfitFactor() decimal.Decimal {
	if s.WorstTradePnL.IsZero() {
		return decimal.Zero
	}
	return s.BestTradePnL.Div(s.WorstTradePnL.Abs())
}

func (s SourceStats) ROI() decimal.Decimal {
	if s.TotalTrades == 0 {
		return decimal.Zero
	}
	return s.TotalPnL.Div(decimal.NewFromInt(s.TotalTrades))
}

type RiskClass string

const (
	RiskSafe     RiskClass = "safe"
	RiskCaution  RiskClass = "caution"
	RiskHigh     RiskClass = "high_risk"
	RiskHoneypot RiskClass = "honeypot"
	RiskUnknown  RiskClass = "unknown"
)

// SimulationResult is the per-token cached safety verdict from the
// Simulator. TTL is 5 minutes in-memory, 1 hour in the relational store.
type SimulationResult struct {
	TokenMint       string
	BuySuccess      bool
	TransferSuccess bool
	SellSuccess     bool
	BuyTax          decimal.Decimal
	SellTax         decimal.Decimal
	TransferBlocked bool
	SellBlocked     bool
	SellFailed      bool
	SellError       string
	IsHoneypot      bool
	RiskClass       RiskClass
	Notes           string
	SimTime         time.Time
}

// CircuitBreakerState is the singleton risk-gate state.
type CircuitBreakerState struct {
	IsLocked           bool
	LockedAt           time.Time
	LockReason         string
	UnlockAt           time.Time
	DailyPnL           decimal.Decimal
	DailyPnLPct        decimal.Decimal
	ConsecutiveLosses  int
	OpenPositionCount  int
	TotalExposure      decimal.Decimal
	LastTradeTime      time.Time
}

// SubWallet is one entry in the SubWalletPool. Retired wallets are never
// reactivated; a retired wallet is also, by invariant, inactive.
type SubWallet struct {
	WalletID     string
	Address      string
	EncryptedKey string
	BalanceSOL   decimal.Decimal
	IsActive     bool
	IsRetired    bool
	TotalTrades  int
	CreatedAt    time.Time
	LastUsed     time.Time
}

type FailureCategory string

const (
	FailureRugPull          FailureCategory = "rug_pull"
	FailureSlippage         FailureCategory = "slippage"
	FailureBadSignal        FailureCategory = "bad_signal"
	FailureCircuitBreaker   FailureCategory = "circuit_breaker"
	FailureSimulationMiss   FailureCategory = "simulation_miss"
	FailureExecutionError   FailureCategory = "execution_error"
	FailureUnknown          FailureCategory = "unknown"
)

// ForensicReport is the durable post-mortem row for one closed losing trade.
type ForensicReport struct {
	ForensicID          string
	TradeID             string
	FailureCategory     FailureCategory
	DetectedAt          time.Time
	Details             map[string]any
	WasSimulationRun    bool
	SimulationResult    string
	TimeSinceSimulation time.Duration
	ExpectedOutput      decimal.Decimal
	ActualOutput        decimal.Decimal
	SlippagePct         decimal.Decimal
	SignalConfidence    decimal.Decimal
}

func (f ForensicReport) Summary() string {
	return string(f.FailureCategory) + " on trade " + f.TradeID
}
