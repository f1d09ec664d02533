package keyvault

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchain-intel/engine/pkg/errs"
)

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := New("short")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrFatalConfig))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("a-sufficiently-long-master-secret")
	require.NoError(t, err)

	plaintext := []byte("ed25519-private-key-material")
	ciphertext, err := v.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, string(plaintext), ciphertext)

	decrypted, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptRejectsEmptyKey(t *testing.T) {
	v, err := New("a-sufficiently-long-master-secret")
	require.NoError(t, err)

	_, err = v.Encrypt(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrIntegrity))
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	v, err := New("a-sufficiently-long-master-secret")
	require.NoError(t, err)

	ciphertext, err := v.Encrypt([]byte("secret-key-bytes"))
	require.NoError(t, err)

	tampered, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	tampered[len(tampered)-1] ^= 0x01

	_, err = v.Decrypt(base64.StdEncoding.EncodeToString(tampered))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrIntegrity))
}

func TestDecryptRejectsWrongSecret(t *testing.T) {
	v1, err := New("master-secret-number-one")
	require.NoError(t, err)
	v2, err := New("master-secret-number-two")
	require.NoError(t, err)

	ciphertext, err := v1.Encrypt([]byte("secret-key-bytes"))
	require.NoError(t, err)

	_, err = v2.Decrypt(ciphertext)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrIntegrity))
}

func TestDecryptRejectsEmptyAndShortInput(t *testing.T) {
	v, err := New("a-sufficiently-long-master-secret")
	require.NoError(t, err)

	_, err = v.Decrypt("")
	assert.True(t, errors.Is(err, errs.ErrIntegrity))

	_, err = v.Decrypt("dG9vc2hvcnQ=")
	assert.True(t, errors.Is(err, errs.ErrIntegrity))
}
