package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// KeySize is the required length of an encryption key (AES-256).
const KeySize = 32

// Cipher encrypts token material before it reaches a durable backend.
// A Cipher created without a key passes values through unchanged.
//
// Ciphertexts are base64(nonce || sealed) with a fresh random nonce per call.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher. An empty key disables encryption.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return &Cipher{}, nil
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Enabled reports whether values are actually encrypted.
func (c *Cipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// Encrypt seals plaintext. Empty input stays empty.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if !c.Enabled() || encoded == "" {
		return encoded, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("ciphertext too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}

// GenerateKey returns a random key suitable for NewCipher.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64 key and checks its length.
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

func (c *Cipher) sealPair(access, refresh string) (string, string, error) {
	a, err := c.Encrypt(access)
	if err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	r, err := c.Encrypt(refresh)
	if err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return a, r, nil
}

func (c *Cipher) openPair(access, refresh string) (string, string, error) {
	a, err := c.Decrypt(access)
	if err != nil {
		return "", "", fmt.Errorf("decrypt access token: %w", err)
	}
	r, err := c.Decrypt(refresh)
	if err != nil {
		return "", "", fmt.Errorf("decrypt refresh token: %w", err)
	}
	return a, r, nil
}
