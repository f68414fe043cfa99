package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	gcmNonceSize  = 12
	crypterKeyLen = 32
	crypterSep    = "|" // base64(nonce)|base64(ciphertext)
)

// Crypter encrypts cache entries with AES-256-GCM under a process-local key.
// Every value the cached backend writes to the shared cache passes through
// Seal; every read passes through Open before being returned.
type Crypter struct {
	aead cipher.AEAD
}

// NewCrypter builds a Crypter from a base64-encoded 32-byte key.
func NewCrypter(keyB64 string) (*Crypter, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("decode cache key: %w", err)
	}
	return NewCrypterFromKey(key)
}

// NewCrypterFromKey builds a Crypter from raw key bytes.
func NewCrypterFromKey(key []byte) (*Crypter, error) {
	if len(key) != crypterKeyLen {
		return nil, fmt.Errorf("cache key must be %d bytes, got %d", crypterKeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Crypter{aead: aead}, nil
}

// GenerateCrypterKey returns a fresh random key in the base64 form accepted
// by NewCrypter.
func GenerateCrypterKey() (string, error) {
	key := make([]byte, crypterKeyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts a plaintext value into base64(nonce)|base64(ciphertext).
func (c *Crypter) Seal(plaintext string) (string, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ct := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + crypterSep +
		base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts and authenticates a value produced by Seal.
func (c *Crypter) Open(sealed string) (string, error) {
	nonceB64, ctB64, found := strings.Cut(sealed, crypterSep)
	if !found {
		return "", fmt.Errorf("malformed cache entry")
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != gcmNonceSize {
		return "", fmt.Errorf("bad nonce length %d", len(nonce))
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("authenticate cache entry: %w", err)
	}
	return string(pt), nil
}
