// Package securecrypt implements the cipher/obfuscation pipeline spec.md
// §3/§4.2 treats as an external collaborator: a per-tunnel Context with a
// fixed maximum plaintext chunk size, in-place encrypt/decrypt, and a
// NeedsFeedback bit that drives the tunnel's SSR_WAITING_FEEDBACK stage.
package securecrypt

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// Algorithm selects the underlying AEAD.
type Algorithm string

const (
	ChaCha20Poly1305 Algorithm = "chacha20"
	AES256GCM        Algorithm = "aes-gcm"
)

// Cipher wraps an AEAD with a fixed key, doing whole-message seal/open.
// It is stateless across calls (the nonce is freshly random per Encrypt)
// except for the key, so it's safe to share one Cipher across the many
// chunks exchanged on a single tunnel.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a key from the configured seed and builds the AEAD
// for algo. Unknown algorithms fall back to ChaCha20Poly1305.
func NewCipher(keySeed int, algo Algorithm) (*Cipher, error) {
	keyBytes := []byte(fmt.Sprintf("ssrgate-secure-v1-key-%d", keySeed))
	hash := sha256.Sum256(keyBytes)
	finalKey := hash[:]

	var aead cipher.AEAD
	var err error
	switch algo {
	case AES256GCM:
		aead, err = newAESGCMAEAD(finalKey)
	case ChaCha20Poly1305:
		fallthrough
	default:
		aead, err = newChaCha20AEAD(finalKey)
	}
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext, prefixing the result with a fresh nonce.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("securecrypt: generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("securecrypt: ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("securecrypt: decryption failed: %w", err)
	}
	return plaintext, nil
}
