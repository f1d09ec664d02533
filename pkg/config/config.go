package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/errs"
)

type Profile string

const (
	ProfileConservative Profile = "conservative"
	ProfileModerate     Profile = "moderate"
	ProfileAggressive   Profile = "aggressive"
)

type IngestTransport string

const (
	TransportWebsocket IngestTransport = "ws"
	TransportGRPC       IngestTransport = "grpc"
)

// Config is the full, validated runtime configuration for the pipeline.
// It is constructed once in Load and passed by reference through every
// component's constructor — no component reads the environment directly.
type Config struct {
	Capital          decimal.Decimal
	Profile          Profile
	DryRun           bool
	AutoExecute      bool
	KeyEncryptionSecret string

	SolanaRPCURL    string
	SolanaWSURL     string
	GRPCPushURL     string
	IngestTransport IngestTransport

	BundleURL   string
	DexQuoteURL string

	DBPath       string
	Neo4jURI     string
	Neo4jUser    string
	Neo4jPassword string

	TelegramAlertBotToken string
	TelegramAlertChatID   string

	LogFormat string // "console" | "json"

	// MonitoredPrograms restricts the CorrelationEngine to contract
	// addresses worth clustering on; empty means "reject everything".
	MonitoredPrograms []string

	FreshWallet  FreshWalletConfig
	Correlation  CorrelationConfig
	RiskLimits   RiskLimitsConfig
	Bundle       BundleConfig
	Orchestrator OrchestratorConfig
	Simulator    SimulatorConfig
	SubWallet    SubWalletConfig
}

type FreshWalletConfig struct {
	TimeWindow        time.Duration
	SoftAmountDeltaPct decimal.Decimal
	HardAmountDeltaPct decimal.Decimal
	WeightTime        decimal.Decimal
	WeightAmount      decimal.Decimal
	FreshnessBonus    decimal.Decimal
	MinScore          decimal.Decimal
	MaxCandidates     int
}

type CorrelationConfig struct {
	SlotWindow          int64
	MinClusterSize      int
	WeightTime          decimal.Decimal
	WeightOrder         decimal.Decimal
	WeightHistory       decimal.Decimal
	MinPairwiseScore    decimal.Decimal
	SharedContractSat   int
	ConfidenceEscalation decimal.Decimal
	SlotMillis          int64
	MaxCachedSlots      int
}

type RiskLimitsConfig struct {
	MaxDailyDrawdownPct decimal.Decimal
	MaxPositionSizePct  decimal.Decimal
	MaxOpenPositions    int
	MaxConsecutiveLosses int
	LockdownHours       int
}

type BundleConfig struct {
	MaxTransactions int
	DefaultTip      int64
	MinTip          int64
	MaxTip          int64
	TipAccounts     []string
	BundleTimeout   time.Duration
}

type OrchestratorConfig struct {
	BasePositionPct decimal.Decimal
	MaxPositionPct  decimal.Decimal
	StopLossPct     decimal.Decimal
	ExitPollInterval time.Duration
}

type SimulatorConfig struct {
	CacheTTL       time.Duration
	StoreTTL       time.Duration
	MaxSimulateTime time.Duration
	TestBuyLamports int64
}

type SubWalletConfig struct {
	SplitCount              int
	MinActiveBalance        decimal.Decimal
	MaxTradesBeforeRotation int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Capital:             envDecimal("CAPITAL", decimal.NewFromInt(1000)),
		Profile:             Profile(envOr("PROFILE", string(ProfileModerate))),
		DryRun:              envOr("DRY_RUN", "true") == "true",
		AutoExecute:         envOr("AUTO_EXECUTE", "false") == "true",
		KeyEncryptionSecret: os.Getenv("KEY_ENCRYPTION_SECRET"),

		SolanaRPCURL:    envOr("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		SolanaWSURL:     envOr("SOLANA_WS_URL", "wss://api.mainnet-beta.solana.com"),
		GRPCPushURL:     envOr("GRPC_PUSH_URL", ""),
		IngestTransport: IngestTransport(envOr("INGEST_TRANSPORT", string(TransportWebsocket))),

		BundleURL:   envOr("BUNDLE_URL", "https://mainnet.block-engine.jito.wtf"),
		DexQuoteURL: envOr("DEX_QUOTE_URL", "https://quote-api.jup.ag/v6"),

		DBPath:        envOr("DB_PATH", "intel_engine.db"),
		Neo4jURI:      envOr("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:     envOr("NEO4J_USER", "neo4j"),
		Neo4jPassword: os.Getenv("NEO4J_PASSWORD"),

		TelegramAlertBotToken: os.Getenv("TELEGRAM_ALERT_BOT_TOKEN"),
		TelegramAlertChatID:   os.Getenv("TELEGRAM_ALERT_CHAT_ID"),

		LogFormat: envOr("LOG_FORMAT", "console"),

		MonitoredPrograms: splitTrim(envOr("MONITORED_PROGRAMS", "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")),

		FreshWallet: FreshWalletConfig{
			TimeWindow:         time.Duration(envInt("FRESH_WALLET_WINDOW_SECONDS", 300)) * time.Second,
			SoftAmountDeltaPct: envDecimal("FRESH_WALLET_SOFT_DELTA_PCT", decimal.NewFromFloat(0.001)),
			HardAmountDeltaPct: envDecimal("FRESH_WALLET_HARD_DELTA_PCT", decimal.NewFromFloat(0.005)),
			WeightTime:         envDecimal("FRESH_WALLET_WEIGHT_TIME", decimal.NewFromFloat(0.4)),
			WeightAmount:       envDecimal("FRESH_WALLET_WEIGHT_AMOUNT", decimal.NewFromFloat(0.6)),
			FreshnessBonus:     envDecimal("FRESH_WALLET_FRESHNESS_BONUS", decimal.NewFromFloat(0.1)),
			MinScore:           envDecimal("FRESH_WALLET_MIN_SCORE", decimal.NewFromFloat(0.75)),
			MaxCandidates:      envInt("FRESH_WALLET_MAX_CANDIDATES", 100),
		},

		Correlation: CorrelationConfig{
			SlotWindow:           int64(envInt("CORRELATION_SLOT_WINDOW", 10)),
			MinClusterSize:       envInt("CORRELATION_MIN_CLUSTER_SIZE", 3),
			WeightTime:           envDecimal("CORRELATION_WEIGHT_TIME", decimal.NewFromFloat(0.4)),
			WeightOrder:          envDecimal("CORRELATION_WEIGHT_ORDER", decimal.NewFromFloat(0.3)),
			WeightHistory:        envDecimal("CORRELATION_WEIGHT_HISTORY", decimal.NewFromFloat(0.3)),
			MinPairwiseScore:     envDecimal("CORRELATION_MIN_PAIRWISE_SCORE", decimal.NewFromFloat(0.6)),
			SharedContractSat:    envInt("CORRELATION_SHARED_CONTRACT_SAT", 5),
			ConfidenceEscalation: envDecimal("CORRELATION_CONFIDENCE_ESCALATION", decimal.NewFromFloat(0.1)),
			SlotMillis:           400,
			MaxCachedSlots:       100,
		},

		RiskLimits: RiskLimitsConfig{
			MaxDailyDrawdownPct:  envDecimal("MAX_DAILY_DRAWDOWN_PCT", decimal.NewFromFloat(0.10)),
			MaxPositionSizePct:   envDecimal("MAX_POSITION_SIZE_PCT", decimal.NewFromFloat(0.05)),
			MaxOpenPositions:     envInt("MAX_OPEN_POSITIONS", 10),
			MaxConsecutiveLosses: envInt("MAX_CONSECUTIVE_LOSSES", 3),
			LockdownHours:        envInt("LOCKDOWN_HOURS", 24),
		},

		Bundle: BundleConfig{
			MaxTransactions: envInt("BUNDLE_MAX_TRANSACTIONS", 5),
			DefaultTip:      int64(envInt("BUNDLE_DEFAULT_TIP_LAMPORTS", 10_000)),
			MinTip:          int64(envInt("BUNDLE_MIN_TIP_LAMPORTS", 1_000)),
			MaxTip:          int64(envInt("BUNDLE_MAX_TIP_LAMPORTS", 1_000_000_000)),
			TipAccounts:     defaultTipAccounts(),
			BundleTimeout:   time.Duration(envInt("BUNDLE_TIMEOUT_SECONDS", 60)) * time.Second,
		},

		Orchestrator: OrchestratorConfig{
			BasePositionPct:  envDecimal("ORCHESTRATOR_BASE_POSITION_PCT", decimal.NewFromFloat(0.01)),
			MaxPositionPct:   envDecimal("ORCHESTRATOR_MAX_POSITION_PCT", decimal.NewFromFloat(0.05)),
			StopLossPct:      envDecimal("ORCHESTRATOR_STOP_LOSS_PCT", decimal.NewFromFloat(-0.30)),
			ExitPollInterval: time.Duration(envInt("ORCHESTRATOR_EXIT_POLL_SECONDS", 5)) * time.Second,
		},

		Simulator: SimulatorConfig{
			CacheTTL:        time.Duration(envInt("SIMULATOR_CACHE_TTL_SECONDS", 300)) * time.Second,
			StoreTTL:        time.Duration(envInt("SIMULATOR_STORE_TTL_SECONDS", 3600)) * time.Second,
			MaxSimulateTime: time.Duration(envInt("SIMULATOR_MAX_SECONDS", 30)) * time.Second,
			TestBuyLamports: int64(envInt("SIMULATOR_TEST_BUY_LAMPORTS", 100_000_000)),
		},

		SubWallet: SubWalletConfig{
			SplitCount:              envInt("SUBWALLET_SPLIT_COUNT", 3),
			MinActiveBalance:        envDecimal("SUBWALLET_MIN_ACTIVE_BALANCE", decimal.NewFromFloat(0.01)),
			MaxTradesBeforeRotation: envInt("SUBWALLET_MAX_TRADES_BEFORE_ROTATION", 10),
		},
	}

	return cfg, cfg.Validate()
}

// Validate enforces the fatal-config-error rules from the error handling
// design: a missing or too-short encryption secret refuses to start.
func (c *Config) Validate() error {
	if len(c.KeyEncryptionSecret) < 16 {
		return fmt.Errorf("%w: KEY_ENCRYPTION_SECRET must be set and at least 16 characters", errs.ErrFatalConfig)
	}
	switch c.Profile {
	case ProfileConservative, ProfileModerate, ProfileAggressive:
	default:
		return fmt.Errorf("%w: unrecognized PROFILE %q", errs.ErrFatalConfig, c.Profile)
	}
	switch c.IngestTransport {
	case TransportWebsocket, TransportGRPC:
	default:
		return fmt.Errorf("%w: unrecognized INGEST_TRANSPORT %q", errs.ErrFatalConfig, c.IngestTransport)
	}
	if c.IngestTransport == TransportGRPC && c.GRPCPushURL == "" {
		return fmt.Errorf("%w: GRPC_PUSH_URL required when INGEST_TRANSPORT=grpc", errs.ErrFatalConfig)
	}
	return nil
}

func defaultTipAccounts() []string {
	return []string{
		"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
		"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
		"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
		"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
		"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
		"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
		"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
		"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
	}
}

// --- env helpers, shaped after the tracker's envOr/envInt/envFloat trio ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
