// Package crypto provides AES-256-GCM authenticated encryption for
// label images at rest. Encrypted blobs are nonce ‖ ciphertext ‖ tag,
// with a fresh 96-bit nonce per call.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const nonceSize = 12

var (
	// ErrInvalidKey means the supplied key is not 32 raw bytes of
	// valid base64.
	ErrInvalidKey = errors.New("invalid encryption key (must be 32 bytes, base64-encoded)")

	// ErrDecryptFailed covers truncated input and tag mismatches.
	// Decryption failures are not retryable.
	ErrDecryptFailed = errors.New("decryption failed")
)

// Cipher encrypts and decrypts image blobs.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a base64-encoded 32-byte key.
func New(keyBase64 string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and prepends the 12-byte nonce.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob whose first 12 bytes are the nonce.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, ErrDecryptFailed
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
