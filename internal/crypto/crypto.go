// Package crypto seals refund bank-account numbers before they are stored.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// sealedPrefix tags the ciphertext format so a later key or cipher change can
// tell old rows apart.
const sealedPrefix = "v1:"

var (
	ErrMissingKey         = errors.New("encryption key is required")
	ErrInvalidKey         = errors.New("encryption key must be 32 bytes for AES-256")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrUnknownFormat      = errors.New("ciphertext has an unknown format")
)

// Encryptor seals and opens sensitive strings.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type aesGCMEncryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an AES-256-GCM encryptor from a 32-byte key.
func NewEncryptor(key string) (Encryptor, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &aesGCMEncryptor{aead: aead}, nil
}

// Encrypt returns "v1:" followed by the base64url nonce and sealed bytes.
func (e *aesGCMEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), []byte(sealedPrefix))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (e *aesGCMEncryptor) Decrypt(ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(ciphertext, sealedPrefix)
	if !ok {
		return "", ErrUnknownFormat
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize+e.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Mask hides all but the last visible characters of value, e.g. "****7890".
func Mask(value string, visible int) string {
	n := utf8.RuneCountInString(value)
	if visible < 0 {
		visible = 0
	}
	if n <= visible {
		return value
	}
	runes := []rune(value)
	return strings.Repeat("*", n-visible) + string(runes[n-visible:])
}
