package tunnel

import "ssrgate/internal/socket"

// handleEvent is the tunnel's single dispatch point: every I/O and TLS
// completion flows through here, keyed by which half fired and the
// current stage (spec.md §4.2's transition table). Entry contracts
// ("the half-state of the socket whose event just fired MUST be done")
// are enforced by Socket/Transport's own Ack* panics, not re-checked
// here.
func (t *Tunnel) handleEvent(ev socket.Event) {
	switch ev.Op {
	case socket.OpRead:
		t.handleReadEvent(ev)
	case socket.OpWrite:
		t.handleWriteEvent(ev)
	case socket.OpResolve:
		t.handleResolveEvent(ev)
	case socket.OpConnect:
		t.handleConnectEvent(ev)
	case socket.OpTLSEstablished:
		if t.stage == StageTLSConnecting {
			t.handleTLSEstablished()
		}
	case socket.OpTLSData:
		t.handleTLSDataEvent(ev)
	case socket.OpTLSShutdown:
		t.handleTLSShutdown(ev.Err)
	}
}

func (t *Tunnel) handleReadEvent(ev socket.Event) {
	if ev.Side == socket.Incoming {
		switch t.stage {
		case StageHandshake:
			t.handleHandshakeRead(ev.Data, ev.Err)
		case StageS5Request:
			t.handleRequestRead(ev.Data, ev.Err)
		case StageStreaming:
			t.handleStreamingIncomingRead(ev.Data, ev.Err)
		case StageTLSStreaming:
			t.handleTLSStreamingIncomingRead(ev.Data, ev.Err)
		default:
			t.incoming.AckRead()
		}
		return
	}

	switch t.stage {
	case StageSSRWaitingFeedback:
		t.handleSSRWaitingFeedbackRead(ev.Data, ev.Err)
	case StageStreaming:
		t.handleStreamingOutgoingRead(ev.Data, ev.Err)
	default:
		t.outgoing.AckRead()
	}
}

func (t *Tunnel) handleWriteEvent(ev socket.Event) {
	if ev.Side == socket.Incoming {
		switch t.stage {
		case StageHandshakeReplied:
			t.handleHandshakeRepliedWrite(ev.Err)
		case StageS5UDPAssoc:
			t.handleUDPAssocWrite(ev.Err)
		case StageAuthCompletionDone:
			t.handleAuthCompletionWrite(ev.Err)
		case StageStreaming:
			t.handleStreamingIncomingWrite(ev.Err)
		case StageTLSStreaming:
			t.handleTLSStreamingIncomingWrite(ev.Err)
		case StageKill:
			t.incoming.AckWrite()
			t.Shutdown()
		default:
			t.incoming.AckWrite()
		}
		return
	}

	switch t.stage {
	case StageSSRAuthSent:
		t.handleSSRAuthSentWrite(ev.Err)
	case StageSSRReceiptSent:
		t.handleSSRReceiptSentWrite(ev.Err)
	case StageStreaming:
		t.handleStreamingOutgoingWrite(ev.Err)
	default:
		t.outgoing.AckWrite()
	}
}

func (t *Tunnel) handleResolveEvent(ev socket.Event) {
	if t.stage == StageResolveDone {
		t.handleResolveDone(ev.Addr, ev.Err)
	}
}

func (t *Tunnel) handleConnectEvent(ev socket.Event) {
	if t.stage == StageConnectingUpstream {
		t.handleConnectingUpstream(ev.Err)
	}
}

func (t *Tunnel) handleTLSDataEvent(ev socket.Event) {
	switch t.stage {
	case StageTLSFirstPackage:
		t.handleTLSFirstPackageData(ev.Data)
	case StageTLSStreaming:
		t.handleTLSStreamingData(ev.Data)
	}
}
