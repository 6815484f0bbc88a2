package securecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// newAESGCMAEAD builds an AES-256-GCM AEAD from a 32-byte key.
func newAESGCMAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("securecrypt: aes block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("securecrypt: aes-gcm: %w", err)
	}
	return aead, nil
}
