// Package crypto encrypts relational connection descriptors at rest.
// The key is derived from a single master key, so rotating the master key
// invalidates every stored descriptor at once.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

func newGCM(masterKey string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals data with AES-256-GCM under a key derived from masterKey and
// returns it base64url-encoded with the nonce prefixed.
func Encrypt(masterKey, data string) (string, error) {
	gcm, err := newGCM(masterKey)
	if err != nil {
		return "", fmt.Errorf("build cipher: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(data), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func Decrypt(masterKey, encrypted string) (string, error) {
	gcm, err := newGCM(masterKey)
	if err != nil {
		return "", fmt.Errorf("build cipher: %w", err)
	}
	raw, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}
