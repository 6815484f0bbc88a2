package tunnel

import "ssrgate/internal/socket"

// extract is the single helper spec.md §4.3 describes serving both
// streaming directions: it applies encrypt when the source is the
// incoming socket, decrypt when the source is the outgoing one. A
// non-empty feedback buffer from a decrypt after the handshake has
// completed is a codec/protocol violation; spec.md §4.2 calls for a
// debug assertion failure and a silent discard in release — this
// implementation always logs and discards, since Go has no separate
// release/debug build.
func (t *Tunnel) extract(side socket.Side, data []byte) ([]byte, error) {
	if side == socket.Incoming {
		return t.cipher.Encrypt(data)
	}
	plain, feedback, err := t.cipher.Decrypt(data)
	if err != nil {
		return nil, err
	}
	if len(feedback) != 0 {
		t.log.Warn().Int("bytes", len(feedback)).Msg("unexpected post-handshake feedback bytes discarded")
	}
	return plain, nil
}

// handleStreamingIncomingRead encrypts client bytes and forwards them
// upstream (spec.md §4.2 "Streaming (non-TLS)").
func (t *Tunnel) handleStreamingIncomingRead(data []byte, readErr error) {
	t.incoming.AckRead()
	if readErr != nil {
		t.Shutdown()
		return
	}
	wire, err := t.extract(socket.Incoming, data)
	if err != nil {
		t.log.Error().Err(err).Msg("encrypt failed during streaming")
		t.Shutdown()
		return
	}
	t.outgoing.Write(wire)
}

// handleStreamingOutgoingRead decrypts upstream bytes and delivers them
// to the client.
func (t *Tunnel) handleStreamingOutgoingRead(data []byte, readErr error) {
	t.outgoing.AckRead()
	if readErr != nil {
		t.Shutdown()
		return
	}
	plain, err := t.extract(socket.Outgoing, data)
	if err != nil {
		t.log.Error().Err(err).Msg("decrypt failed during streaming")
		t.Shutdown()
		return
	}
	t.incoming.Write(plain)
}

// handleStreamingOutgoingWrite re-arms the incoming read whose bytes it
// just finished delivering upstream (spec.md §4.2 "When a write
// completes, re-arm the corresponding read").
func (t *Tunnel) handleStreamingOutgoingWrite(writeErr error) {
	t.outgoing.AckWrite()
	if writeErr != nil {
		t.Shutdown()
		return
	}
	t.incoming.Read(false)
}

// handleStreamingIncomingWrite re-arms the outgoing read whose bytes it
// just finished delivering to the client.
func (t *Tunnel) handleStreamingIncomingWrite(writeErr error) {
	t.incoming.AckWrite()
	if writeErr != nil {
		t.Shutdown()
		return
	}
	t.outgoing.Read(false)
}

// --- TLS streaming ---

// handleTLSStreamingIncomingRead re-arms the TLS read immediately after
// sending, rather than waiting for a write-completion event like the
// non-TLS path: Transport.Send has no completion upcall (see
// tlstransport.Transport.Send), and the encrypted bytes handed to it are
// a fresh slice independent of the just-consumed read buffer, so there
// is nothing left in flight to wait on.
func (t *Tunnel) handleTLSStreamingIncomingRead(data []byte, readErr error) {
	t.incoming.AckRead()
	if readErr != nil {
		t.Shutdown()
		return
	}
	wire, err := t.cipher.Encrypt(data)
	if err != nil {
		t.log.Error().Err(err).Msg("encrypt failed during TLS streaming")
		t.Shutdown()
		return
	}
	t.tls.Send(wire)
	t.incoming.Read(false)
}

func (t *Tunnel) handleTLSStreamingData(data []byte) {
	t.tls.AckRead()
	plain, err := t.extract(socket.Outgoing, data)
	if err != nil {
		t.log.Error().Err(err).Msg("decrypt failed during TLS streaming")
		t.Shutdown()
		return
	}
	t.incoming.Write(plain)
}

// handleTLSStreamingIncomingWrite re-arms the TLS read whose decrypted
// bytes it just finished delivering to the client.
func (t *Tunnel) handleTLSStreamingIncomingWrite(writeErr error) {
	t.incoming.AckWrite()
	if writeErr != nil {
		t.Shutdown()
		return
	}
	t.tls.Read(false)
}
