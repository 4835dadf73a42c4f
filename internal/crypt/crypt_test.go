package crypt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := New("test-key-0123456789012345678901")
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("t")
	require.NoError(t, err)
	require.NotEqual(t, "t", ciphertext, "ciphertext must not equal plaintext")

	plain, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "t", plain)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc1, err := New("key-one-aaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	enc2, err := New("key-two-bbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)

	ciphertext, err := enc1.Encrypt("super-secret-token")
	require.NoError(t, err)

	_, err = enc2.Decrypt(ciphertext)
	require.True(t, IsDecryptError(err), "expected DecryptError when using the wrong key, got %v", err)
}

func TestNewRejectsEmptyKey(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
