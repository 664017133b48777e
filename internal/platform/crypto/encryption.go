package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// encPrefix marks a value as already encrypted. Encrypting a prefixed value
// is a no-op, so credential rows can be re-saved without double-encrypting.
const encPrefix = "enc:v1:"

// KeyEncryptor provides AES-256-GCM encryption and decryption for at-rest
// API keys and gateway credentials.
type KeyEncryptor struct {
	aead cipher.AEAD
}

// NewKeyEncryptor creates a new KeyEncryptor with the given 32-byte AES-256 key.
func NewKeyEncryptor(key []byte) (*KeyEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key encryptor: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("key encryptor: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("key encryptor: create GCM: %w", err)
	}

	return &KeyEncryptor{aead: aead}, nil
}

// IsEncrypted reports whether the value carries the encrypted-value prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// Encrypt encrypts the plaintext and returns a prefixed, base64-encoded
// ciphertext with the nonce prepended. Already-encrypted values are returned
// unchanged.
func (e *KeyEncryptor) Encrypt(plaintext string) (string, error) {
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("key encrypt: generate nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, so the result is nonce + ciphertext.
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decodes a prefixed ciphertext, extracts the prepended nonce, and
// decrypts. Values without the prefix are treated as legacy plaintext and
// returned unchanged.
func (e *KeyEncryptor) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("key decrypt: base64 decode: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("key decrypt: ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("key decrypt: %w", err)
	}
	return string(plaintext), nil
}
