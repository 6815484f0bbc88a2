package securecrypt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// authChainProtocol requires the server to send a single unsolicited
// challenge chunk immediately after the client's first payload; the
// client must answer it, through the same cipher, before streaming may
// begin (spec.md §4.2 SSR_WAITING_FEEDBACK/SSR_RECEIPT_SENT, §6
// "Feedback").
//
// The challenge is an AEAD-framed 16-byte nonce. The response is
// HMAC-SHA256 keyed with the challenge over headLen (4 bytes, big
// endian), truncated to 16 bytes and itself AEAD-framed — a simplified stand-in for SSR's
// auth_chain challenge/response, enough to exercise the tunnel's feedback
// branch end to end without depending on libssr's exact KDF.
type authChainProtocol struct{}

func (authChainProtocol) Name() string { return "authchain" }

func (authChainProtocol) NewContext(cipher *Cipher, headLen, maxChunk int) Context {
	return &authChainContext{cipher: cipher, headLen: headLen, maxChunk: maxChunk}
}

type authChainContext struct {
	cipher        *Cipher
	headLen       int
	maxChunk      int
	handshakeDone bool
}

func (c *authChainContext) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > c.maxChunk {
		return nil, fmt.Errorf("securecrypt: plaintext chunk of %d bytes exceeds the %d-byte ceiling", len(plaintext), c.maxChunk)
	}
	return c.cipher.Encrypt(plaintext)
}

func (c *authChainContext) Decrypt(wire []byte) ([]byte, []byte, error) {
	plain, err := c.cipher.Decrypt(wire)
	if err != nil {
		return nil, nil, err
	}
	if c.handshakeDone {
		return plain, nil, nil
	}

	// This is the one unsolicited challenge: no application bytes may
	// appear here (spec.md §4.2 "Post-condition: the input buffer MUST be
	// empty").
	c.handshakeDone = true
	if len(plain) < 16 {
		return nil, nil, fmt.Errorf("securecrypt: authchain challenge too short (%d bytes)", len(plain))
	}

	response := c.respond(plain[:16])
	feedback, err := c.cipher.Encrypt(response)
	if err != nil {
		return nil, nil, fmt.Errorf("securecrypt: encrypt authchain response: %w", err)
	}
	return nil, feedback, nil
}

func (c *authChainContext) NeedsFeedback() bool { return true }

func (c *authChainContext) respond(challenge []byte) []byte {
	mac := hmac.New(sha256.New, challenge)
	var headLenBuf [4]byte
	binary.BigEndian.PutUint32(headLenBuf[:], uint32(c.headLen))
	mac.Write(headLenBuf[:])
	sum := mac.Sum(nil)
	return sum[:16]
}
