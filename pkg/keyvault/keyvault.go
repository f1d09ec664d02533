// Package keyvault encrypts sub-wallet signing keys at rest with
// AES-256-GCM, so the relational store never holds a raw private key.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/onchain-intel/engine/pkg/errs"
)

const (
	keySize   = 32 // 256-bit
	nonceSize = 12 // GCM standard nonce
)

var domainSeparator = []byte("onchain-intel-engine:key-encryption:v1")

// Vault wraps an AES-256-GCM cipher keyed from a master secret. The master
// key is derived once at construction and never touches disk.
type Vault struct {
	gcm cipher.AEAD
}

// New derives a 256-bit key from secret via SHA-256 and builds the GCM
// cipher. secret must be at least 16 characters; shorter secrets are
// rejected as a fatal configuration error.
func New(secret string) (*Vault, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("%w: KEY_ENCRYPTION_SECRET must be at least 16 characters", errs.ErrFatalConfig)
	}

	key := deriveKey(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFatalConfig, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFatalConfig, err)
	}

	log.Info().Msg("key vault initialized")
	return &Vault{gcm: gcm}, nil
}

func deriveKey(secret string) []byte {
	combined := append(append([]byte{}, domainSeparator...), []byte(secret)...)
	sum := sha256.Sum256(combined)
	return sum[:keySize]
}

// Encrypt seals privateKey and returns it as base64(nonce || ciphertext ||
// tag), ready to store in a text column.
func (v *Vault) Encrypt(privateKey []byte) (string, error) {
	if len(privateKey) == 0 {
		return "", fmt.Errorf("%w: cannot encrypt empty key", errs.ErrIntegrity)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := v.gcm.Seal(nonce, nonce, privateKey, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A wrong secret, truncated input, or tampered
// ciphertext all surface as ErrIntegrity — never retried, never silently
// passed through.
func (v *Vault) Decrypt(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: cannot decrypt empty data", errs.ErrIntegrity)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", errs.ErrIntegrity, err)
	}
	if len(raw) < nonceSize+v.gcm.Overhead() {
		return nil, fmt.Errorf("%w: encrypted data too short", errs.ErrIntegrity)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed, possible tamper or wrong secret: %v", errs.ErrIntegrity, err)
	}
	return plaintext, nil
}
