// Package tunnel implements the core state machine spec.md §4.2
// describes: one goroutine per tunnel acts as its event loop. Worker
// goroutines (spawned by internal/socket.Socket and
// internal/tlstransport.Transport) perform the actual blocking I/O and
// post a single completion Event onto the tunnel's events channel; the
// owning goroutine's Run loop selects one event at a time and advances
// the Stage accordingly. This is the idiomatic-Go reading of spec.md
// §5's "single-threaded cooperative per event loop, no locks required":
// the callback-driven C model becomes one goroutine plus a channel
// instead of literal callbacks.
package tunnel

import (
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ssrgate/internal/securecrypt"
	"ssrgate/internal/shared"
	"ssrgate/internal/shared/logger"
	"ssrgate/internal/shared/types"
	"ssrgate/internal/socket"
	"ssrgate/internal/socks5parser"
	"ssrgate/internal/tlstransport"
)

// Tunnel is the owning aggregate from spec.md §3: it pairs one incoming
// socket with one outgoing transport (plain socket or TLS), the SOCKS
// parser, the current stage, the initial request package, and the
// cipher context.
type Tunnel struct {
	id  string
	env *Environment

	events chan socket.Event

	incoming *socket.Socket
	outgoing *socket.Socket // nil in TLS mode
	tls      *tlstransport.Transport

	parser         *socks5parser.Parser
	stage          Stage
	initialPackage []byte
	cipher         securecrypt.Context

	// greetingRemainder holds bytes left over from parsing the greeting
	// that already belong to the request phase (a client may pipeline
	// both in one write).
	greetingRemainder []byte

	// uplinkBytes/downlinkBytes count traffic on the client-facing leg
	// only, the same convention the teacher's strategies use: uplink is
	// bytes written back to the client (CountedConn.Write), downlink is
	// bytes read from it (CountedConn.Read). Aggregated fleet-wide by
	// Registry.GetTrafficStats.
	uplinkBytes   atomic.Uint64
	downlinkBytes atomic.Uint64

	closed bool
	log    zerolog.Logger
}

// New builds a Tunnel around a freshly accepted local connection. Run
// must be called (typically in its own goroutine) to drive it.
func New(env *Environment, conn net.Conn) *Tunnel {
	id := uuid.NewString()
	events := make(chan socket.Event, 32)
	t := &Tunnel{
		id:     id,
		env:    env,
		events: events,
		parser: socks5parser.New(),
		stage:  StageHandshake,
		log:    logger.WithComponent("tunnel").With().Str("tunnel_id", id).Logger(),
	}
	counted := shared.NewCountedConn(conn, &t.uplinkBytes, &t.downlinkBytes)
	t.incoming = socket.New(socket.Incoming, counted, env.Config.CommonConf.BufferSize, events)
	return t
}

// TrafficStats reports this tunnel's cumulative client-facing traffic.
func (t *Tunnel) TrafficStats() types.TrafficStats {
	return types.TrafficStats{
		Uplink:   t.uplinkBytes.Load(),
		Downlink: t.downlinkBytes.Load(),
	}
}

// Run drives the tunnel's event loop to completion. It registers the
// tunnel, issues the initial read, and processes events until shutdown.
// Call it from its own goroutine; it returns once the tunnel is dead.
func (t *Tunnel) Run() {
	t.env.Registry.add(t)
	t.incoming.Read(false)
	for !t.closed {
		ev := <-t.events
		t.handleEvent(ev)
	}
}

// Shutdown tears the tunnel down idempotently (spec.md §5 "KILL and
// shutdown are convergent"). Safe to call from any goroutine.
func (t *Tunnel) Shutdown() {
	if t.closed {
		return
	}
	t.closed = true
	t.incoming.Close()
	if t.outgoing != nil {
		t.outgoing.Close()
	}
	if t.tls != nil {
		t.tls.Close()
	}
	t.env.Registry.remove(t.id)
}

// killWithReply enters the terminal stage, optionally writing a final
// SOCKS reply first; if reply is nil (e.g. BIND, which gets no reply at
// all) shutdown happens immediately.
func (t *Tunnel) killWithReply(reply []byte) {
	t.stage = StageKill
	if reply == nil {
		t.Shutdown()
		return
	}
	t.incoming.Write(reply)
}
