package securecrypt

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// newChaCha20AEAD builds an XChaCha20-Poly1305 AEAD, the default: its
// larger nonce space is safer for the many short chunks a long-lived
// tunnel pushes through one key.
func newChaCha20AEAD(key []byte) (cipher.AEAD, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("securecrypt: xchacha20-poly1305: %w", err)
	}
	return aead, nil
}
