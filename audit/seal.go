package audit

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer encrypts sensitive audit metadata values with XChaCha20-Poly1305
// so they can be recovered by the security team without being readable in
// log storage.
type Sealer struct {
	aeadKey []byte
	enabled bool
}

// NewSealer creates a sealer. If key is nil or empty, sealing is disabled.
// The key must be exactly chacha20poly1305.KeySize (32) bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return &Sealer{enabled: false}, nil
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("sealing key must be exactly %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Sealer{aeadKey: key, enabled: true}, nil
}

// Enabled reports whether sealing is active.
func (s *Sealer) Enabled() bool {
	return s.enabled
}

// Seal encrypts plaintext and returns base64-encoded nonce||ciphertext.
// When sealing is disabled, the plaintext is returned unchanged.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.enabled {
		return plaintext, nil
	}

	aead, err := chacha20poly1305.NewX(s.aeadKey)
	if err != nil {
		return "", fmt.Errorf("failed to create AEAD: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
// When sealing is disabled, the input is returned unchanged.
func (s *Sealer) Open(sealed string) (string, error) {
	if !s.enabled {
		return sealed, nil
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.aeadKey)
	if err != nil {
		return "", fmt.Errorf("failed to create AEAD: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("sealed value too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plaintext), nil
}
