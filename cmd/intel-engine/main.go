package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/onchain-intel/engine/pkg/alert"
	"github.com/onchain-intel/engine/pkg/bundle"
	"github.com/onchain-intel/engine/pkg/cex"
	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/confidence"
	"github.com/onchain-intel/engine/pkg/correlation"
	"github.com/onchain-intel/engine/pkg/eventbus"
	"github.com/onchain-intel/engine/pkg/forensics"
	"github.com/onchain-intel/engine/pkg/influencer"
	"github.com/onchain-intel/engine/pkg/ingest"
	"github.com/onchain-intel/engine/pkg/journal"
	"github.com/onchain-intel/engine/pkg/keyvault"
	"github.com/onchain-intel/engine/pkg/matcher"
	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/orchestrator"
	"github.com/onchain-intel/engine/pkg/riskgate"
	"github.com/onchain-intel/engine/pkg/router"
	"github.com/onchain-intel/engine/pkg/simulator"
	"github.com/onchain-intel/engine/pkg/store"
	"github.com/onchain-intel/engine/pkg/subwallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogFormat)
	log.Info().Msg("🧠 on-chain intelligence engine starting...")

	db, err := store.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("relational store init failed")
	}
	defer db.Close()

	graph, err := store.NewGraphStore(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		log.Warn().Err(err).Msg("graph store unavailable, correlation/matcher will run without cluster persistence")
		graph = nil
	}

	vault, err := keyvault.New(cfg.KeyEncryptionSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("key vault init failed")
	}

	bus := eventbus.NewBus()
	defer bus.Close()

	registry := cex.NewRegistry()
	detector := cex.NewWithdrawalDetector(registry)
	normalizer := ingest.NewNormalizer(bus, detector)

	freshMatcher := matcher.New(cfg.FreshWallet, db, graph, bus)
	corrEngine := correlation.New(cfg.Correlation, db, graph, bus)
	influencerMon := influencer.New(db, bus)
	if err := influencerMon.RefreshWhitelist(); err != nil {
		log.Warn().Err(err).Msg("initial influencer whitelist refresh failed")
	}

	policy := confidence.New(cfg.Profile)
	rt := router.New(cfg.DexQuoteURL)
	sim := simulator.New(cfg.Simulator, rt, db)
	rg := riskgate.New(db, cfg.Capital, cfg.RiskLimits)
	if err := rg.Load(); err != nil {
		log.Warn().Err(err).Msg("failed to load circuit breaker state, starting fresh")
	}

	pool := subwallet.New(cfg.SubWallet, db, vault)
	bundler := bundle.New(cfg.Bundle, cfg.BundleURL)
	if err := bundler.FetchTipAccounts(context.Background(), cfg.BundleURL); err != nil {
		log.Warn().Err(err).Msg("initial tip-account refresh failed, using hardcoded default list")
	}
	jrnl := journal.New(db)
	forens := forensics.New(db)

	orch := orchestrator.New(cfg.Orchestrator, cfg.Capital, cfg.BundleURL, sim, rg, policy, rt, pool, bundler, db, jrnl, forens)

	if open, err := jrnl.OpenTrades(); err != nil {
		log.Warn().Err(err).Msg("failed to load open trades for position-book rebuild")
	} else {
		orch.RebuildOpenPositions(open)
	}

	opsAlerts := alert.New(cfg.TelegramAlertBotToken, cfg.TelegramAlertChatID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, draining...")
		cancel()
	}()

	group, gctx := errgroup.WithContext(ctx)

	switch cfg.IngestTransport {
	case config.TransportGRPC:
		grpcClient := ingest.NewGRPCClient(cfg.GRPCPushURL, normalizer)
		group.Go(func() error { return grpcClient.Run(gctx) })
	default:
		wsClient := ingest.NewWSClient(cfg.SolanaWSURL, cfg.MonitoredPrograms, normalizer)
		group.Go(func() error { return wsClient.Run(gctx) })
	}

	group.Go(func() error { return runChainEventDispatch(gctx, bus, cfg.MonitoredPrograms, corrEngine, influencerMon) })
	group.Go(func() error { return runWithdrawalDispatch(gctx, bus, freshMatcher) })
	group.Go(func() error { return runSignalDispatch(gctx, bus, orch, cfg.AutoExecute, cfg.DryRun) })
	group.Go(func() error { return runExitLoop(gctx, cfg.Orchestrator.ExitPollInterval, orch) })
	group.Go(func() error { return runWhitelistRefresh(gctx, influencerMon) })
	group.Go(func() error { return runTipAccountRefresh(gctx, bundler, cfg.BundleURL) })
	group.Go(func() error { return runDailyReset(gctx, rg) })
	group.Go(func() error { alert.Run(gctx, bus, opsAlerts); return gctx.Err() })

	printSummary(cfg)

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("pipeline component exited with error")
	}

	cancel()
	if graph != nil {
		if err := graph.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("graph store close failed")
		}
	}
	log.Info().Msg("goodbye 👋")
}

// runChainEventDispatch fans every normalized chain event out to the
// correlation engine (as a program-interaction projection) and the
// influencer monitor.
func runChainEventDispatch(ctx context.Context, bus *eventbus.Bus, monitoredPrograms []string, corr *correlation.Engine, inf *influencer.Monitor) error {
	events := eventbus.Subscribe[model.ChainEvent](bus, eventbus.TopicTxRaw, eventbus.PolicyDropOldest)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.ProgramID != "" {
				corrEv := model.CorrelationEvent{
					Contract:  ev.ProgramID,
					Slot:      ev.Slot,
					Timestamp: ev.Timestamp,
					Wallet:    ev.Wallet,
					TxID:      ev.TxID,
					Action:    string(ev.Kind),
				}
				if _, err := corr.ProcessEvent(ctx, corrEv, monitoredPrograms); err != nil {
					log.Warn().Err(err).Msg("correlation engine failed to process event")
				}
			}
			inf.ProcessEvent(ctx, ev)
		}
	}
}

func runWithdrawalDispatch(ctx context.Context, bus *eventbus.Bus, m *matcher.FreshWalletMatcher) error {
	withdrawals := eventbus.Subscribe[model.WithdrawalEvent](bus, eventbus.TopicTxCEXWithdrawal, eventbus.PolicyBlock)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w, ok := <-withdrawals:
			if !ok {
				return nil
			}
			if _, err := m.ProcessWithdrawal(ctx, w); err != nil {
				log.Warn().Err(err).Msg("fresh-wallet matcher failed to process withdrawal")
			}
		}
	}
}

// runSignalDispatch merges every signal topic and routes qualifying
// signals into the orchestrator. In dry-run mode or without auto-execute,
// signals are logged but never traded. Each signal is dispatched on its
// own goroutine so that entries on different token mints proceed
// concurrently; the orchestrator's own per-mint single-flight guard and
// signal-id dedup keep same-mint or duplicate-delivered signals safe.
func runSignalDispatch(ctx context.Context, bus *eventbus.Bus, orch *orchestrator.Orchestrator, autoExecute, dryRun bool) error {
	fresh := eventbus.Subscribe[model.TradeSignal](bus, eventbus.TopicSigFreshWallet, eventbus.PolicyBlock)
	cabal := eventbus.Subscribe[model.TradeSignal](bus, eventbus.TopicSigCabal, eventbus.PolicyBlock)
	inf := eventbus.Subscribe[model.TradeSignal](bus, eventbus.TopicSigInfluencer, eventbus.PolicyBlock)

	handle := func(signal model.TradeSignal) {
		if !autoExecute {
			log.Info().Str("source", string(signal.Source)).Str("token", signal.TokenMint).
				Msg("signal received, auto-execute disabled, skipping")
			return
		}
		if dryRun {
			log.Info().Str("source", string(signal.Source)).Str("token", signal.TokenMint).
				Msg("dry run: would process signal")
			return
		}
		result := orch.ProcessSignal(ctx, signal)
		if !result.Success {
			log.Warn().Str("source", string(signal.Source)).Str("error", result.Error).Msg("signal rejected")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-fresh:
			if !ok {
				return nil
			}
			go handle(s)
		case s, ok := <-cabal:
			if !ok {
				return nil
			}
			go handle(s)
		case s, ok := <-inf:
			if !ok {
				return nil
			}
			go handle(s)
		}
	}
}

func runExitLoop(ctx context.Context, interval time.Duration, orch *orchestrator.Orchestrator) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			for _, res := range orch.CheckExits(ctx) {
				if !res.Success {
					log.Warn().Str("trade_id", res.TradeID).Str("error", res.Error).Msg("exit attempt failed")
				}
			}
		}
	}
}

func runWhitelistRefresh(ctx context.Context, inf *influencer.Monitor) error {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := inf.RefreshWhitelist(); err != nil {
				log.Warn().Err(err).Msg("influencer whitelist refresh failed")
			}
		}
	}
}

func runTipAccountRefresh(ctx context.Context, bundler *bundle.Submitter, blockEngineURL string) error {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := bundler.FetchTipAccounts(ctx, blockEngineURL); err != nil {
				log.Warn().Err(err).Msg("tip-account refresh failed, keeping last known list")
			}
		}
	}
}

func runDailyReset(ctx context.Context, rg *riskgate.Gate) error {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	lastResetDay := time.Now().UTC().Day()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			if now.UTC().Day() != lastResetDay {
				lastResetDay = now.UTC().Day()
				if err := rg.ResetDailyStats(); err != nil {
					log.Warn().Err(err).Msg("failed to reset daily risk stats")
				}
			}
		}
	}
}

func setupLogging(format string) {
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n" + strings.Repeat("═", 60))
	fmt.Println("  🧠 ON-CHAIN INTELLIGENCE ENGINE - RUNNING")
	fmt.Println(strings.Repeat("═", 60))
	fmt.Printf("  Profile:      %s\n", cfg.Profile)
	fmt.Printf("  Capital:      %s SOL\n", cfg.Capital.String())
	fmt.Printf("  Dry run:      %v\n", cfg.DryRun)
	fmt.Printf("  Auto-execute: %v\n", cfg.AutoExecute)
	fmt.Printf("  Transport:    %s\n", cfg.IngestTransport)
	fmt.Printf("  Monitored:    %v\n", cfg.MonitoredPrograms)
	fmt.Println(strings.Repeat("═", 60) + "\n")
}
