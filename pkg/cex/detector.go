package cex

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/model"
)

const lamportsPerSOL = 1_000_000_000

// dedupeCacheLimit bounds the processed-tx set. Once exceeded, a tenth of
// the entries is evicted in map iteration order; entries carry no age or
// recency, so eviction is not least-recently-used.
const dedupeCacheLimit = 10_000

// WithdrawalDetector turns a raw balance-delta transfer into a
// model.WithdrawalEvent whenever the sender is a known CEX hot wallet.
type WithdrawalDetector struct {
	registry *Registry
	seen     map[string]struct{}
}

func NewWithdrawalDetector(registry *Registry) *WithdrawalDetector {
	return &WithdrawalDetector{registry: registry, seen: make(map[string]struct{})}
}

// ParseTransfer reports a withdrawal event for a from->to lamport transfer
// iff from is a registered CEX wallet and the tx hasn't been seen before.
func (d *WithdrawalDetector) ParseTransfer(txID string, slot int64, from, to string, amountLamports int64, recipientPriorTxCount int64, at time.Time) *model.WithdrawalEvent {
	if _, dup := d.seen[txID]; dup {
		return nil
	}
	if !d.registry.IsHotWallet(from) {
		return nil
	}

	d.markSeen(txID)

	amountSOL := decimal.NewFromInt(amountLamports).Div(decimal.NewFromInt(lamportsPerSOL))
	ev := &model.WithdrawalEvent{
		TxID:                  txID,
		Slot:                  slot,
		Timestamp:             at,
		SourceExchangeWallet:  from,
		SourceExchangeName:    d.registry.ExchangeName(from),
		RecipientWallet:       to,
		Amount:                amountSOL,
		Decimals:              9,
		RecipientPriorTxCount: recipientPriorTxCount,
	}

	if ev.IsFreshFunding() {
		log.Info().Str("exchange", ev.SourceExchangeName).Str("recipient", abbrev(to)).
			Str("amount_sol", amountSOL.StringFixed(4)).Msg("💸 fresh wallet funded by CEX withdrawal")
	} else {
		log.Debug().Str("exchange", ev.SourceExchangeName).Str("recipient", abbrev(to)).
			Msg("cex withdrawal to known wallet")
	}
	return ev
}

func (d *WithdrawalDetector) markSeen(txID string) {
	d.seen[txID] = struct{}{}
	if len(d.seen) <= dedupeCacheLimit {
		return
	}
	removed := 0
	for k := range d.seen {
		delete(d.seen, k)
		removed++
		if removed >= dedupeCacheLimit/10 {
			break
		}
	}
}

// ParseBalanceDeltas detects withdrawals from pre/post lamport balance
// arrays, the shape the gRPC transport's transaction frames carry.
// The gas-difference tolerance mirrors the 10_000-lamport allowance the
// original balance-delta matcher used.
func (d *WithdrawalDetector) ParseBalanceDeltas(txID string, slot int64, accountKeys []string, preBalances, postBalances []int64, at time.Time) []model.WithdrawalEvent {
	if len(preBalances) != len(postBalances) || len(preBalances) != len(accountKeys) {
		return nil
	}

	var out []model.WithdrawalEvent
	for i, key := range accountKeys {
		if preBalances[i] <= postBalances[i] || !d.registry.IsHotWallet(key) {
			continue
		}
		sent := preBalances[i] - postBalances[i]
		for j, recipientKey := range accountKeys {
			if i == j || postBalances[j] <= preBalances[j] {
				continue
			}
			received := postBalances[j] - preBalances[j]
			delta := sent - received
			if delta < 0 {
				delta = -delta
			}
			if delta > 10_000 {
				continue
			}
			if ev := d.ParseTransfer(txID, slot, key, recipientKey, received, 0, at); ev != nil {
				out = append(out, *ev)
			}
		}
	}
	return out
}

func abbrev(address string) string {
	if len(address) <= 16 {
		return address
	}
	return address[:16] + "..."
}
