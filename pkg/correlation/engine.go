// Package correlation implements the CabalCorrelationEngine: it watches
// contract interactions for wallets transacting on the same program
// within a short slot window, scores pairwise correlation, and escalates
// matching wallets into durable clusters once enough of them coordinate.
package correlation

import (
	"context"
	"sync"
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

// Engine holds the in-memory slot cache and cluster index the scoring
// pipeline needs on every contract-interaction event. Clusters are
// indexed forward (wallet -> cluster id) rather than stored as a
// back-pointer on the wallet record, avoiding a dual-write race between
// the wallet table and the cluster table.
type Engine struct {
	cfg   config.CorrelationConfig
	store *store.Store
	graph *store.GraphStore
	bus   *eventbus.Bus

	mu              sync.Mutex
	eventsBySlot    map[int64][]model.CorrelationEvent
	clusters        map[string]*model.WalletCluster
	walletToCluster map[string]string
	// clusterScoreSum/clusterScoreCount track the running sum and count of
	// every pairwise score folded into a cluster, so AvgCorrelation is a
	// real running average rather than a static snapshot of the minimum
	// pairwise threshold.
	clusterScoreSum   map[string]decimal.Decimal
	clusterScoreCount map[string]int64
}

func New(cfg config.CorrelationConfig, s *store.Store, g *store.GraphStore, bus *eventbus.Bus) *Engine {
	return &Engine{
		cfg:               cfg,
		store:             s,
		graph:             g,
		bus:               bus,
		eventsBySlot:      make(map[int64][]model.CorrelationEvent),
		clusters:          make(map[string]*model.WalletCluster),
		walletToCluster:   make(map[string]string),
		clusterScoreSum:   make(map[string]decimal.Decimal),
		clusterScoreCount: make(map[string]int64),
	}
}

// ProcessEvent is the engine's single entry point. monitoredPrograms gates
// which contracts are worth correlating on at all.
func (e *Engine) ProcessEvent(ctx context.Context, ev model.CorrelationEvent, monitoredPrograms []string) ([]model.CorrelationResult, error) {
	if !contains(monitoredPrograms, ev.Contract) {
		return nil, nil
	}

	e.cacheEvent(ev)
	if err := e.store.RecordTxEvent(ev); err != nil {
		log.Warn().Err(err).Msg("failed to persist tx event")
	}

	matching, err := e.findCorrelatedWallets(ev)
	if err != nil {
		return nil, err
	}
	if len(matching) < e.cfg.MinClusterSize {
		return nil, nil
	}

	log.Info().Int("wallets", len(matching)).Str("contract", abbrev(ev.Contract)).
		Msg("potential cabal detected")

	var results []model.CorrelationResult
	for _, other := range matching {
		if other.Wallet == ev.Wallet {
			continue
		}
		result, err := e.calculateCorrelation(ev, other)
		if err != nil {
			return results, err
		}
		if result.Score.LessThan(e.cfg.MinPairwiseScore) {
			continue
		}
		results = append(results, result)

		if e.graph != nil {
			if err := e.graph.RecordCorrelation(ctx, result); err != nil {
				log.Warn().Err(err).Msg("failed to record correlation edge")
			}
		}
		e.escalateConfidence(result.WalletA, result.WalletB, len(matching))
	}

	if len(results) > 0 {
		cluster := e.updateCluster(ev.Contract, matching, results)
		if e.graph != nil {
			if err := e.graph.SyncCluster(ctx, cluster); err != nil {
				log.Warn().Err(err).Msg("failed to sync cluster to graph")
			}
		}
		// Step 7 gates purely on cluster size; IsActiveCabal's stricter
		// shared-contract and avg-correlation bars are used elsewhere
		// (ActiveClusters) but would otherwise make sig.cabal unreachable
		// under realistic pairwise scores and default thresholds.
		if cluster.Size() >= e.cfg.MinClusterSize {
			e.emitCabalSignal(ctx, cluster, ev.Contract)
		}
	}

	return results, nil
}

func (e *Engine) cacheEvent(ev model.CorrelationEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventsBySlot[ev.Slot] = append(e.eventsBySlot[ev.Slot], ev)
	if len(e.eventsBySlot) > e.cfg.MaxCachedSlots {
		var oldest int64
		first := true
		for slot := range e.eventsBySlot {
			if first || slot < oldest {
				oldest = slot
				first = false
			}
		}
		delete(e.eventsBySlot, oldest)
	}
}

func (e *Engine) findCorrelatedWallets(ev model.CorrelationEvent) ([]model.CorrelationEvent, error) {
	slotMin := ev.Slot - e.cfg.SlotWindow
	slotMax := ev.Slot + e.cfg.SlotWindow

	e.mu.Lock()
	var cached []model.CorrelationEvent
	for slot := slotMin; slot <= slotMax; slot++ {
		for _, c := range e.eventsBySlot[slot] {
			if c.Contract == ev.Contract {
				cached = append(cached, c)
			}
		}
	}
	e.mu.Unlock()

	stored, err := e.store.TxEventsInSlotRange(ev.Contract, slotMin, slotMax, 50)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(cached))
	for _, c := range cached {
		seen[c.TxID+"|"+c.Wallet] = struct{}{}
	}
	for _, s := range stored {
		if _, dup := seen[s.TxID+"|"+s.Wallet]; !dup {
			cached = append(cached, s)
		}
	}
	if len(cached) > 50 {
		cached = cached[:50]
	}
	return cached, nil
}

// calculateCorrelation implements score = time_weight*time_score +
// order_weight*order_score + history_weight*history_score, each term
// bounded to [0,1] and the sum capped at 1.
func (e *Engine) calculateCorrelation(a, b model.CorrelationEvent) (model.CorrelationResult, error) {
	deltaMs := a.Timestamp.Sub(b.Timestamp).Abs().Milliseconds()
	maxTimeMs := e.cfg.SlotWindow * e.cfg.SlotMillis
	timeScore := one.Sub(capOne(decimal.NewFromInt(deltaMs).Div(decimal.NewFromInt(maxTimeMs))))

	orderScore, err := e.calculateOrderScore(a.Wallet, b.Wallet)
	if err != nil {
		return model.CorrelationResult{}, err
	}

	sharedContracts, coOccur, err := e.sharedHistory(a.Wallet, b.Wallet)
	if err != nil {
		return model.CorrelationResult{}, err
	}
	historyScore := capOne(decimal.NewFromInt(int64(len(sharedContracts))).Div(decimal.NewFromInt(int64(e.cfg.SharedContractSat))))

	score := e.cfg.WeightTime.Mul(timeScore).Add(e.cfg.WeightOrder.Mul(orderScore)).Add(e.cfg.WeightHistory.Mul(historyScore))

	return model.CorrelationResult{
		WalletA:            a.Wallet,
		WalletB:            b.Wallet,
		Score:              capOne(score),
		SharedContracts:    sharedContracts,
		AvgTimeProximityMs: deltaMs,
		CoOccurrenceCount:  coOccur,
		TriggeringContract: a.Contract,
	}, nil
}

func (e *Engine) calculateOrderScore(a, b string) (decimal.Decimal, error) {
	before, total, err := e.store.PairOrderingStats("", a, b, e.cfg.SlotWindow)
	if err != nil {
		return half, err
	}
	if total == 0 {
		return half, nil
	}
	ratio := float64(before) / float64(total)
	consistency := ratio - 0.5
	if consistency < 0 {
		consistency = -consistency
	}
	return decimal.NewFromFloat(consistency * 2), nil
}

func (e *Engine) sharedHistory(a, b string) ([]string, int64, error) {
	minSlot := int64(0)
	n, err := e.store.SharedContractCount(a, b, minSlot)
	if err != nil {
		return nil, 0, err
	}
	contracts := make([]string, n)
	return contracts, int64(n), nil
}

func (e *Engine) escalateConfidence(walletA, walletB string, clusterSize int) {
	escalation := e.cfg.ConfidenceEscalation.Mul(decimal.NewFromInt(int64(clusterSize))).Div(decimal.NewFromInt(10))
	for _, w := range []string{walletA, walletB} {
		if err := e.store.EscalateConfidence(w, escalation); err != nil {
			log.Warn().Err(err).Str("wallet", abbrev(w)).Msg("confidence escalation failed")
		}
	}
}

func (e *Engine) updateCluster(contract string, events []model.CorrelationEvent, results []model.CorrelationResult) *model.WalletCluster {
	e.mu.Lock()
	defer e.mu.Unlock()

	wallets := make(map[string]struct{})
	for _, ev := range events {
		wallets[ev.Wallet] = struct{}{}
	}

	var cluster *model.WalletCluster
	for w := range wallets {
		if id, ok := e.walletToCluster[w]; ok {
			if c, ok := e.clusters[id]; ok {
				cluster = c
				break
			}
		}
	}

	now := time.Now().UTC()
	if cluster == nil {
		cluster = &model.WalletCluster{
			ClusterID:       uuid.NewString(),
			Wallets:         make(map[string]struct{}),
			SharedContracts: make(map[string]struct{}),
			CreatedAt:       now,
		}
		e.clusters[cluster.ClusterID] = cluster
	}

	for w := range wallets {
		cluster.Wallets[w] = struct{}{}
		e.walletToCluster[w] = cluster.ClusterID
	}
	cluster.SharedContracts[contract] = struct{}{}
	cluster.TotalInteractions += int64(len(events))
	cluster.UpdatedAt = now

	sum := e.clusterScoreSum[cluster.ClusterID]
	count := e.clusterScoreCount[cluster.ClusterID]
	for _, r := range results {
		sum = sum.Add(r.Score)
		count++
	}
	e.clusterScoreSum[cluster.ClusterID] = sum
	e.clusterScoreCount[cluster.ClusterID] = count
	if count > 0 {
		cluster.AvgCorrelation = sum.Div(decimal.NewFromInt(count))
	}

	log.Info().Str("cluster_id", cluster.ClusterID[:8]).Int("members", cluster.Size()).
		Str("avg_correlation", cluster.AvgCorrelation.StringFixed(4)).Msg("updated wallet cluster")
	return cluster
}

func (e *Engine) emitCabalSignal(ctx context.Context, cluster *model.WalletCluster, contract string) {
	signal := model.TradeSignal{
		SignalID:   uuid.NewString(),
		Source:     model.SourceCabal,
		SourceID:   cluster.ClusterID,
		TokenMint:  contract,
		Confidence: cluster.AvgCorrelation,
		Timestamp:  time.Now().UTC(),
		Metadata: map[string]any{
			"cluster_size": cluster.Size(),
		},
	}
	eventbus.Publish(ctx, e.bus, eventbus.TopicSigCabal, eventbus.PolicyBlock, signal)
}

// ClusterForWallet returns the cluster a wallet currently belongs to, if any.
func (e *Engine) ClusterForWallet(wallet string) *model.WalletCluster {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.walletToCluster[wallet]
	if !ok {
		return nil
	}
	return e.clusters[id]
}

// ActiveClusters returns every cluster that currently meets the cabal
// activation invariant.
func (e *Engine) ActiveClusters() []*model.WalletCluster {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*model.WalletCluster
	for _, c := range e.clusters {
		if c.IsActiveCabal() {
			out = append(out, c)
		}
	}
	return out
}

func capOne(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(one) {
		return one
	}
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return d
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func abbrev(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
