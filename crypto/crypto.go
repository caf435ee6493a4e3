// Package crypto provides encryption for sensitive data at rest, primarily the
// YouTube OAuth tokens stored per creator. It implements AES-256-GCM
// authenticated encryption; sealed token strings carry a version prefix so the
// key can be rotated and legacy plaintext rows can be told apart.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrDecrypt is returned when authentication of a ciphertext fails.
var ErrDecrypt = errors.New("decryption failed: authentication or integrity check failed")

// AESEncryptor provides AES-256-GCM authenticated encryption.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor creates an encryptor from a base64-encoded 32-byte key.
// Generate one with:
//
//	openssl rand -base64 32
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESEncryptor{aead: gcm}, nil
}

// Seal encrypts plaintext and binds it to aad. Output layout is nonce || ciphertext || tag.
func (e *AESEncryptor) Seal(plaintext, aad []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. The same aad must be supplied.
func (e *AESEncryptor) Open(ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext is empty")
	}
	ns := e.aead.NonceSize()
	if len(ciphertext) < ns+e.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: got %d bytes", len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// tokenPrefix marks a value sealed by TokenCipher (format version 1).
const tokenPrefix = "v1:"

// TokenCipher seals OAuth tokens bound to their owning user, so a ciphertext
// copied onto another user's row fails to open.
type TokenCipher struct {
	enc *AESEncryptor
}

// NewTokenCipher returns a TokenCipher for the given base64 key.
// An empty key yields a nil cipher, which stores tokens in plaintext.
func NewTokenCipher(base64Key string) (*TokenCipher, error) {
	if base64Key == "" {
		return nil, nil
	}
	enc, err := NewAESEncryptor(base64Key)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{enc: enc}, nil
}

// Enabled reports whether tokens are encrypted.
func (c *TokenCipher) Enabled() bool { return c != nil && c.enc != nil }

// SealFor encrypts token for owner. Empty tokens stay empty; a disabled cipher returns the token unchanged.
func (c *TokenCipher) SealFor(owner, token string) (string, error) {
	if token == "" || !c.Enabled() {
		return token, nil
	}
	ct, err := c.enc.Seal([]byte(token), []byte(owner))
	if err != nil {
		return "", err
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(ct), nil
}

// OpenFor decrypts a stored token for owner. Values without the version prefix
// are legacy plaintext and are returned as-is.
func (c *TokenCipher) OpenFor(owner, stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if !c.Enabled() {
		return "", fmt.Errorf("token is encrypted but no ENCRYPTION_KEY is configured")
	}
	ct, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, tokenPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	pt, err := c.enc.Open(ct, []byte(owner))
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// IsSealed reports whether s was produced by SealFor.
func IsSealed(s string) bool { return strings.HasPrefix(s, tokenPrefix) }
