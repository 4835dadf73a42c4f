// Copyright Contributors to the env360 project

// Package crypt implements the Encryptor contract: symmetric
// authenticated encryption of cluster credentials with a single
// process-wide key.
package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/env360/env360/internal/apperr"
)

// DecryptError is returned when Decrypt fails -- either the ciphertext
// was produced with a different key or it has been tampered with. The
// AEAD tag makes the two indistinguishable, which is the point.
var DecryptError = apperr.New(apperr.KindInvalid, "decrypt: authentication failed")

// Encryptor is the symmetric AEAD contract every KubernetesCluster
// credential field is stored behind.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// chachaEncryptor implements Encryptor with XChaCha20-Poly1305, chosen
// over AES-GCM because it tolerates a random (rather than counter)
// nonce, which fits the store-a-self-contained-ciphertext-string shape
// used throughout the Store layer.
type chachaEncryptor struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// New builds an Encryptor from a raw key. The key must decode (from
// base64, raw text padded/truncated to length, or be used directly if
// already the right size) to chacha20poly1305.KeySize bytes.
func New(key string) (Encryptor, error) {
	keyBytes, err := deriveKey(key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(keyBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "crypt: building AEAD cipher", err)
	}
	return &chachaEncryptor{aead: aead}, nil
}

func deriveKey(key string) ([]byte, error) {
	if key == "" {
		return nil, apperr.New(apperr.KindInvalid, "crypt: SECRETS_ENCRYPTION_KEY is empty")
	}

	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == chacha20poly1305.KeySize {
		return raw, nil
	}

	b := []byte(key)
	out := make([]byte, chacha20poly1305.KeySize)
	copy(out, b)
	if len(b) < chacha20poly1305.KeySize {
		// A short key is accepted without error and padded
		// deterministically (byte i at position i), which keeps the
		// primitive usable with the placeholder keys dev/test setups use.
		for i := len(b); i < chacha20poly1305.KeySize; i++ {
			out[i] = byte(i)
		}
	}
	return out, nil
}

func (c *chachaEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperr.Wrap(apperr.KindFatal, "crypt: generating nonce", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *chachaEncryptor) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", DecryptError
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", DecryptError
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", DecryptError
	}
	return string(plain), nil
}

// IsDecryptError reports whether err is (or wraps) the sentinel
// DecryptError, for callers like checkConnection that must surface a
// specific message on key mismatch.
func IsDecryptError(err error) bool {
	return errors.Is(err, DecryptError)
}
