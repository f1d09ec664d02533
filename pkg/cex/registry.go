// Package cex tracks known centralized-exchange hot wallets and flags
// outbound transfers from them as withdrawal events — the trigger for the
// fresh-wallet-funding correlation the matcher package runs downstream.
package cex

import "sync"

// KnownHotWallets is the seed table of exchange-owned addresses, the
// Solana-network analogue of the tracker's KnownFixedFloatAddresses /
// ServiceLabels lookup tables. Entries can be extended at runtime via
// Registry.Add without touching this table.
var KnownHotWallets = map[string]string{
	"5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9": "Binance",
	"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM":  "Binance",
	"5VCwKtCXgCJ6kit5FybXjvriW3xELsFDhYrPSqtJNmaD":  "OKX",
	"H8sMJSCQxfKiFTCfDR3DUMLPwcRbM61LGFJ8N4dK3WjS":  "Coinbase",
	"2AQdpHJ2JpcEgPiATUXjQxA8QmafFegfQwSLWSprPicm":  "Coinbase",
	"AC5RDfQFmDS1deWZos921JfqscXdByf8BKHs5ACWjtW2":  "Bybit",
}

// Registry is a mutable, concurrency-safe view over the known hot-wallet
// table. Detectors hold a shared *Registry rather than reading the package
// map directly so runtime additions (an operator tagging a newly-observed
// exchange wallet) are visible everywhere immediately.
type Registry struct {
	mu      sync.RWMutex
	wallets map[string]string
}

func NewRegistry() *Registry {
	r := &Registry{wallets: make(map[string]string, len(KnownHotWallets))}
	for addr, name := range KnownHotWallets {
		r.wallets[addr] = name
	}
	return r
}

func (r *Registry) Add(address, exchangeName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[address] = exchangeName
}

func (r *Registry) IsHotWallet(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.wallets[address]
	return ok
}

func (r *Registry) ExchangeName(address string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wallets[address]
}

func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.wallets))
	for addr := range r.wallets {
		out = append(out, addr)
	}
	return out
}
