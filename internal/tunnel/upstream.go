package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"ssrgate/internal/socket"
	"ssrgate/internal/tlstransport"
)

// startUpstreamDial begins the non-TLS upstream path (spec.md §4.2
// "Upstream dial (non-TLS)"). For the plain "tcp" transport with no
// multiplexing it honors the RESOLVE_DONE/CONNECTING_UPSTREAM stage
// split literally; websocket and multiplexed transports fold resolve +
// gate + connect into one opaque async op (like the TLS path already
// does), landing directly in CONNECTING_UPSTREAM.
func (t *Tunnel) startUpstreamDial() {
	cfg := t.env.Config.RemoteConf
	t.outgoing = socket.NewUnconnected(socket.Outgoing, t.env.Config.CommonConf.BufferSize, t.events)

	if cfg.Transport != "tcp" && cfg.Transport != "" || t.env.MuxPool != nil {
		t.stage = StageConnectingUpstream
		t.outgoing.ConnectFunc(func() (net.Conn, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			return t.env.DialUpstream(ctx, t.env)
		})
		return
	}

	if ip := net.ParseIP(cfg.Host); ip != nil {
		t.gateAndConnect(ip)
		return
	}
	t.stage = StageResolveDone
	t.outgoing.Resolve(cfg.Host)
}

// handleResolveDone processes the getaddrinfo completion for the plain
// single-upstream path.
func (t *Tunnel) handleResolveDone(addr net.Addr, resolveErr error) {
	if resolveErr != nil {
		t.log.Info().Err(resolveErr).Msg("upstream resolution failed")
		t.killWithReply(socksErrorReply(replyHostUnreachable))
		return
	}
	ipAddr, ok := addr.(*net.IPAddr)
	if !ok || ipAddr.IP == nil {
		t.killWithReply(socksErrorReply(replyHostUnreachable))
		return
	}
	t.gateAndConnect(ipAddr.IP)
}

func (t *Tunnel) gateAndConnect(ip net.IP) {
	cfg := t.env.Config.RemoteConf
	if !t.env.Policy.Allow(&net.TCPAddr{IP: ip, Port: cfg.Port}) {
		t.log.Info().Str("upstream_ip", ip.String()).Msg("upstream denied by access policy")
		t.killWithReply(socksErrorReply(replyNotAllowed))
		return
	}
	t.stage = StageConnectingUpstream
	t.outgoing.Connect("tcp", net.JoinHostPort(ip.String(), fmt.Sprint(cfg.Port)))
}

// handleConnectingUpstream processes the TCP connect completion,
// classifying failures the way spec.md §7 assigns SOCKS reply codes.
func (t *Tunnel) handleConnectingUpstream(connErr error) {
	if connErr != nil {
		switch {
		case errors.Is(connErr, ErrAccessDenied):
			t.killWithReply(socksErrorReply(replyNotAllowed))
		case errors.Is(connErr, ErrResolveFailed):
			t.killWithReply(socksErrorReply(replyHostUnreachable))
		default:
			t.log.Info().Err(connErr).Msg("upstream connect failed")
			t.killWithReply(socksErrorReply(replyConnRefused))
		}
		return
	}
	t.sendInitialPackage()
}

// sendInitialPackage encrypts and sends the initial address package
// (spec.md §4.2 "Initial encrypted send").
func (t *Tunnel) sendInitialPackage() {
	wire, err := t.cipher.Encrypt(t.initialPackage)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to encrypt initial package")
		t.Shutdown()
		return
	}
	t.stage = StageSSRAuthSent
	t.outgoing.Write(wire)
}

// handleSSRAuthSentWrite advances past the initial send (spec.md §4.2
// "Feedback protocol").
func (t *Tunnel) handleSSRAuthSentWrite(writeErr error) {
	t.outgoing.AckWrite()
	if writeErr != nil {
		t.log.Info().Err(writeErr).Msg("failed writing initial package upstream")
		t.Shutdown()
		return
	}
	if t.cipher.NeedsFeedback() {
		t.stage = StageSSRWaitingFeedback
		t.outgoing.Read(false)
		return
	}
	t.completeAuth()
}

// handleSSRWaitingFeedbackRead consumes the server's challenge and, if
// the codec produces a response, writes it upstream; otherwise the
// handshake is already complete.
func (t *Tunnel) handleSSRWaitingFeedbackRead(data []byte, readErr error) {
	t.outgoing.AckRead()
	if readErr != nil {
		t.log.Info().Err(readErr).Msg("failed reading upstream feedback challenge")
		t.Shutdown()
		return
	}

	plain, feedback, err := t.cipher.Decrypt(data)
	if err != nil {
		t.log.Error().Err(err).Msg("feedback decode failed")
		t.Shutdown()
		return
	}
	if len(plain) != 0 {
		// spec.md §4.2: "the input buffer MUST be empty" during the
		// handshake; a non-empty plain decode here is a protocol/codec
		// contract violation, not a recoverable condition.
		t.log.Error().Int("bytes", len(plain)).Msg("handshake decode produced application bytes")
		t.Shutdown()
		return
	}

	if len(feedback) == 0 {
		t.completeAuth()
		return
	}
	t.stage = StageSSRReceiptSent
	t.outgoing.Write(feedback)
}

// handleSSRReceiptSentWrite finishes the feedback round trip.
func (t *Tunnel) handleSSRReceiptSentWrite(writeErr error) {
	t.outgoing.AckWrite()
	if writeErr != nil {
		t.log.Info().Err(writeErr).Msg("failed writing feedback response upstream")
		t.Shutdown()
		return
	}
	t.completeAuth()
}

// completeAuth emits the SOCKS5 success reply (spec.md §4.2 "SOCKS
// success reply") and waits for it to land before starting streaming.
func (t *Tunnel) completeAuth() {
	t.stage = StageAuthCompletionDone
	t.incoming.Write(socksSuccessReply(t.initialPackage))
}

// handleAuthCompletionWrite starts streaming once the success reply has
// been written to the client.
func (t *Tunnel) handleAuthCompletionWrite(writeErr error) {
	t.incoming.AckWrite()
	if writeErr != nil {
		t.log.Info().Err(writeErr).Msg("failed writing SOCKS success reply")
		t.Shutdown()
		return
	}
	if t.tls != nil {
		t.stage = StageTLSStreaming
		t.incoming.Read(false)
		t.tls.Read(false)
		return
	}
	t.stage = StageStreaming
	t.incoming.Read(false)
	t.outgoing.Read(false)
}

// --- TLS upstream path ---

// startTLSConnect begins the TLS-wrapped upstream path (spec.md §4.2:
// reached directly from S5_REQUEST, skipping RESOLVE_DONE/
// CONNECTING_UPSTREAM since the TLS transport owns its own dial).
func (t *Tunnel) startTLSConnect() {
	cfg := t.env.Config.RemoteConf
	t.stage = StageTLSConnecting
	t.tls = tlstransport.New(cfg.Host, cfg.Port, cfg.TLSServerName, t.env.Config.CommonConf.BufferSize, t.env.Policy.Allow, t.events)
	t.tls.Establish()
}

// handleTLSEstablished fires the first encrypted send once the TLS
// session is up.
func (t *Tunnel) handleTLSEstablished() {
	wire, err := t.cipher.Encrypt(t.initialPackage)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to encrypt initial package for TLS upstream")
		t.Shutdown()
		return
	}
	t.stage = StageTLSFirstPackage
	t.tls.Send(wire)
	t.tls.Read(false)
}

// handleTLSFirstPackageData decodes the server's handshake response
// over TLS and, once satisfied, completes auth.
func (t *Tunnel) handleTLSFirstPackageData(data []byte) {
	t.tls.AckRead()

	if !t.cipher.NeedsFeedback() {
		t.completeAuth()
		return
	}

	plain, feedback, err := t.cipher.Decrypt(data)
	if err != nil {
		t.log.Error().Err(err).Msg("TLS feedback decode failed")
		t.Shutdown()
		return
	}
	if len(plain) != 0 {
		t.log.Error().Int("bytes", len(plain)).Msg("TLS handshake decode produced application bytes")
		t.Shutdown()
		return
	}
	if len(feedback) != 0 {
		t.tls.Send(feedback)
	}
	t.completeAuth()
}

// handleTLSShutdown classifies a TLS dial/handshake/read/write failure
// the same way handleConnectingUpstream does for the plain path.
func (t *Tunnel) handleTLSShutdown(err error) {
	var dialErr *tlstransport.DialError
	if t.stage == StageTLSConnecting && errors.As(err, &dialErr) {
		switch dialErr.Reason {
		case "denied":
			t.killWithReply(socksErrorReply(replyNotAllowed))
		case "resolve":
			t.killWithReply(socksErrorReply(replyHostUnreachable))
		default:
			t.killWithReply(socksErrorReply(replyConnRefused))
		}
		return
	}
	t.log.Info().Err(err).Msg("TLS transport shut down")
	t.Shutdown()
}
