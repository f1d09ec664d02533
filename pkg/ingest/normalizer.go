// Package ingest turns transport-specific Solana payloads (websocket
// logsSubscribe notifications, or a gRPC streaming push)
// into the canonical model.ChainEvent / model.WithdrawalEvent shapes the
// rest of the pipeline consumes, and publishes them on the event bus.
package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/cex"
	"github.com/onchain-intel/engine/pkg/eventbus"
	"github.com/onchain-intel/engine/pkg/model"
)

// RawSwap is the shape the websocket transport decodes its log
// notifications into before handing them to the Normalizer. It carries
// just enough to build a model.ChainEvent.
type RawSwap struct {
	TxID         string
	Slot         int64
	Wallet       string
	ProgramID    string
	InputMint    string
	OutputMint   string
	InputAmount  decimal.Decimal
	OutputAmount decimal.Decimal
	FeeLamports  int64
	Timestamp    time.Time
}

// RawTransfer is the balance-delta shape the gRPC transport hands to the
// Normalizer for each streamed transaction.
type RawTransfer struct {
	TxID         string
	Slot         int64
	AccountKeys  []string
	PreBalances  []int64
	PostBalances []int64
	Timestamp    time.Time
}

// Normalizer consumes raw transport payloads, emits model.ChainEvent onto
// tx.raw, and runs every transfer through the CEX WithdrawalDetector,
// emitting tx.cex_withdrawal whenever a hot wallet sends funds out.
type Normalizer struct {
	bus      *eventbus.Bus
	detector *cex.WithdrawalDetector
}

func NewNormalizer(bus *eventbus.Bus, detector *cex.WithdrawalDetector) *Normalizer {
	return &Normalizer{bus: bus, detector: detector}
}

func (n *Normalizer) HandleSwap(ctx context.Context, raw RawSwap) {
	ev := model.ChainEvent{
		Kind:         model.EventSwap,
		TxID:         raw.TxID,
		Slot:         raw.Slot,
		Timestamp:    raw.Timestamp,
		Wallet:       raw.Wallet,
		ProgramID:    raw.ProgramID,
		InputMint:    raw.InputMint,
		OutputMint:   raw.OutputMint,
		InputAmount:  raw.InputAmount,
		OutputAmount: raw.OutputAmount,
		FeeLamports:  raw.FeeLamports,
	}
	eventbus.Publish(ctx, n.bus, eventbus.TopicTxRaw, eventbus.PolicyDropOldest, ev)
}

func (n *Normalizer) HandleTransfer(ctx context.Context, raw RawTransfer) {
	ev := model.ChainEvent{
		Kind:      model.EventTransfer,
		TxID:      raw.TxID,
		Slot:      raw.Slot,
		Timestamp: raw.Timestamp,
	}
	if len(raw.AccountKeys) > 0 {
		ev.Wallet = raw.AccountKeys[0]
	}
	eventbus.Publish(ctx, n.bus, eventbus.TopicTxRaw, eventbus.PolicyDropOldest, ev)

	withdrawals := n.detector.ParseBalanceDeltas(raw.TxID, raw.Slot, raw.AccountKeys, raw.PreBalances, raw.PostBalances, raw.Timestamp)
	for _, w := range withdrawals {
		eventbus.Publish(ctx, n.bus, eventbus.TopicTxCEXWithdrawal, eventbus.PolicyBlock, w)
	}
}
