// Package subwallet manages the rotating pool of ephemeral hot wallets
// trades execute from, so on-chain activity never funnels through one
// address an observer could flag. Wallets rotate out after a configured
// number of trades; retired balances wait for consolidation.
package subwallet

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/onchain-intel/engine/pkg/config"
	"github.com/onchain-intel/engine/pkg/keyvault"
	"github.com/onchain-intel/engine/pkg/model"
	"github.com/onchain-intel/engine/pkg/store"
)

const maxSplits = 5

// Allocation pairs a selected wallet with the amount it should execute.
type Allocation struct {
	Wallet model.SubWallet
	Amount decimal.Decimal
}

// Pool selects, rotates, and signs with sub-wallets. Private keys never
// leave Decrypt/Sign; callers only ever see serialized signatures.
type Pool struct {
	cfg   config.SubWalletConfig
	store *store.Store
	vault *keyvault.Vault
}

func New(cfg config.SubWalletConfig, s *store.Store, vault *keyvault.Vault) *Pool {
	return &Pool{cfg: cfg, store: s, vault: vault}
}

// AvailableWallet returns the least-recently-used wallet with sufficient
// balance, rotating it out first if it has exceeded its trade budget.
func (p *Pool) AvailableWallet() (*model.SubWallet, error) {
	w, err := p.store.AvailableSubWallet(p.cfg.MinActiveBalance)
	if err != nil {
		return nil, fmt.Errorf("no available sub-wallet: %w", err)
	}

	if w.TotalTrades >= p.cfg.MaxTradesBeforeRotation {
		if err := p.store.RetireSubWallet(w.WalletID); err != nil {
			log.Warn().Err(err).Str("wallet_id", w.WalletID).Msg("failed to rotate wallet")
		} else {
			log.Info().Str("address", abbrev(w.Address)).Msg("rotated sub-wallet out of pool")
		}
		return p.AvailableWallet()
	}

	return w, nil
}

// DistributeTrade splits totalAmount across up to MaxSplits sub-wallets,
// each share varying by ±20% except the last, which absorbs the
// remainder so the sum always equals totalAmount exactly.
func (p *Pool) DistributeTrade(totalAmount decimal.Decimal) ([]Allocation, error) {
	var allocations []Allocation
	remaining := totalAmount

	splitCount := p.cfg.SplitCount
	if splitCount > maxSplits {
		splitCount = maxSplits
	}
	if splitCount < 1 {
		splitCount = 1
	}

	for i := 0; i < splitCount; i++ {
		w, err := p.AvailableWallet()
		if err != nil {
			break
		}

		var amount decimal.Decimal
		if i == splitCount-1 {
			amount = remaining
		} else {
			divisor := decimal.NewFromInt(int64(splitCount - i))
			baseShare := remaining.Div(divisor)
			variance := decimal.NewFromFloat((rand.Float64()*0.4 - 0.2))
			amount = baseShare.Mul(decimal.NewFromInt(1).Add(variance))
			if amount.GreaterThan(remaining) {
				amount = remaining
			}
		}

		allocations = append(allocations, Allocation{Wallet: *w, Amount: amount})
		remaining = remaining.Sub(amount)

		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
	}

	log.Info().Int("wallets", len(allocations)).Str("total", totalAmount.String()).
		Msg("distributed trade across sub-wallet pool")
	return allocations, nil
}

// CreateWallet generates a fresh ed25519 keypair, encrypts its private key,
// and persists it as a new pool entry.
func (p *Pool) CreateWallet(walletID string) (*model.SubWallet, error) {
	kp := solana.NewWallet()

	encrypted, err := p.vault.Encrypt(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt new wallet key: %w", err)
	}

	w := model.SubWallet{
		WalletID:     walletID,
		Address:      kp.PublicKey().String(),
		EncryptedKey: encrypted,
		BalanceSOL:   decimal.Zero,
		IsActive:     true,
	}
	if err := p.store.InsertSubWallet(w); err != nil {
		return nil, fmt.Errorf("persist new wallet: %w", err)
	}

	log.Info().Str("address", abbrev(w.Address)).Msg("created sub-wallet")
	return &w, nil
}

// MarkUsed records that wallet executed a trade.
func (p *Pool) MarkUsed(_ context.Context, walletID string) error {
	return p.store.MarkSubWalletUsed(walletID)
}

// Status reports the pool's current active/retired composition.
func (p *Pool) Status() (store.PoolStatus, error) {
	return p.store.SubWalletPoolStatus()
}

// RetiredBalance sums the SOL still sitting in retired wallets awaiting
// consolidation.
func (p *Pool) RetiredBalance() (decimal.Decimal, error) {
	return p.store.RetiredSubWalletBalances()
}

// SignAs looks up walletID's encrypted key and signs message with it.
func (p *Pool) SignAs(walletID string, message []byte) ([]byte, error) {
	w, err := p.store.SubWalletByID(walletID)
	if err != nil {
		return nil, fmt.Errorf("look up signing wallet: %w", err)
	}
	return p.Sign(w.EncryptedKey, message)
}

// Sign decrypts walletEncryptedKey and signs message, returning the raw
// ed25519 signature. The decrypted private key never leaves this call
// frame.
func (p *Pool) Sign(walletEncryptedKey string, message []byte) ([]byte, error) {
	raw, err := p.vault.Decrypt(walletEncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt signing key: %w", err)
	}

	priv := solana.PrivateKey(raw)
	sig, err := priv.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	return sig[:], nil
}

func abbrev(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
