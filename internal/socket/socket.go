// Package socket implements the "socket endpoint" component of spec.md
// §4.1: a bidirectional byte channel with independent read/write
// half-states and a small async signaling surface (read, write,
// getaddrinfo, connect), realized as worker goroutines that post their
// completion onto the owning tunnel's single event channel.
//
// Reads are discrete by design (§4.1 "Rationale for discrete reads"): the
// read buffer is reused across operations and must not be re-armed until
// its bytes have been fully consumed downstream. Read(true) re-arms
// automatically once the tunnel calls AckRead; Read(false) is one-shot.
// The tunnel uses one-shot reads in every stage, and in the streaming
// stage re-arms a read only when the write carrying its bytes completes.
package socket

import (
	"context"
	"fmt"
	"net"
	"time"
)

// HalfState is the three-state machine of one direction of one socket
// (spec.md §3 "Socket"): idle until an op is issued, busy while it's in
// flight, done for the instant between the op's completion and the
// tunnel acknowledging it.
type HalfState int

const (
	Idle HalfState = iota
	Busy
	Done
)

func (s HalfState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Side tags which of a tunnel's two sockets an Event came from.
type Side int

const (
	Incoming Side = iota
	Outgoing
)

// OpKind tags which operation an Event reports the completion of.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpResolve
	OpConnect
	// OpTLSEstablished, OpTLSData and OpTLSShutdown are posted by
	// internal/tlstransport onto the same event channel, so a tunnel can
	// select over socket and TLS-transport completions uniformly (spec.md
	// §4.2's TLS_CONNECTING/TLS_FIRST_PACKAGE/TLS_STREAMING stages).
	OpTLSEstablished
	OpTLSData
	OpTLSShutdown
)

// Event is one completion posted to the tunnel's event channel. Exactly
// one of Data/Addr is meaningful, depending on Op.
type Event struct {
	Side Side
	Op   OpKind
	Data []byte
	Addr net.Addr
	Err  error
}

// Socket wraps a net.Conn (or, before Connect completes, none yet) with
// the half-state discipline spec.md §3/§4.1 describes. It is driven
// exclusively by its owning tunnel's goroutine; the worker goroutine of
// each op fills its own buffer, updates the matching half-state (or conn,
// for Connect) and then posts a single Event back.
type Socket struct {
	side    Side
	conn    net.Conn
	bufSize int
	events  chan<- Event

	readState  HalfState
	writeState HalfState
	persistent bool

	dialer net.Dialer
}

// New wraps an already-connected conn (used for the incoming, locally
// accepted socket).
func New(side Side, conn net.Conn, bufSize int, events chan<- Event) *Socket {
	return &Socket{side: side, conn: conn, bufSize: bufSize, events: events}
}

// NewUnconnected builds an outgoing socket with no conn yet; Connect
// populates it.
func NewUnconnected(side Side, bufSize int, events chan<- Event) *Socket {
	return &Socket{side: side, bufSize: bufSize, events: events}
}

func (s *Socket) ReadState() HalfState  { return s.readState }
func (s *Socket) WriteState() HalfState { return s.writeState }
func (s *Socket) Conn() net.Conn        { return s.conn }

// Read issues a discrete read. If persistent is true, AckRead re-arms a
// new read automatically once the tunnel has consumed the previous one's
// bytes; otherwise the caller must call Read again explicitly.
func (s *Socket) Read(persistent bool) {
	if s.readState != Idle {
		panic(fmt.Sprintf("socket: Read issued while read half-state is %s", s.readState))
	}
	s.readState = Busy
	s.persistent = persistent
	go s.doRead()
}

func (s *Socket) doRead() {
	buf := make([]byte, s.bufSize)
	n, err := s.conn.Read(buf)
	s.readState = Done
	s.events <- Event{Side: s.side, Op: OpRead, Data: buf[:n], Err: err}
}

// AckRead must be called by the tunnel exactly once per read completion,
// after it has finished with (or discarded) the delivered bytes. It
// asserts the invariant from spec.md §3(a) — done only between
// completion and acknowledgement — then clears the half-state to idle,
// re-arming a fresh read if the prior Read was persistent.
func (s *Socket) AckRead() {
	if s.readState != Done {
		panic(fmt.Sprintf("socket: AckRead called while read half-state is %s", s.readState))
	}
	s.readState = Idle
	if s.persistent {
		s.Read(true)
	}
}

// Write issues a discrete write of the full byte slice.
func (s *Socket) Write(data []byte) {
	if s.writeState != Idle {
		panic(fmt.Sprintf("socket: Write issued while write half-state is %s", s.writeState))
	}
	s.writeState = Busy
	go s.doWrite(data)
}

func (s *Socket) doWrite(data []byte) {
	_, err := writeFull(s.conn, data)
	s.writeState = Done
	s.events <- Event{Side: s.side, Op: OpWrite, Err: err}
}

// AckWrite clears the write half-state back to idle after the tunnel has
// observed the completion event.
func (s *Socket) AckWrite() {
	if s.writeState != Done {
		panic(fmt.Sprintf("socket: AckWrite called while write half-state is %s", s.writeState))
	}
	s.writeState = Idle
}

func writeFull(conn net.Conn, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := conn.Write(data[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Resolve performs getaddrinfo(host) asynchronously (§4.1).
func (s *Socket) Resolve(host string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ipAddrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		var addr net.Addr
		if err == nil && len(ipAddrs) > 0 {
			addr = &net.IPAddr{IP: ipAddrs[0].IP}
		} else if err == nil {
			err = fmt.Errorf("socket: no addresses for host %q", host)
		}
		s.events <- Event{Side: s.side, Op: OpResolve, Addr: addr, Err: err}
	}()
}

// Connect dials address asynchronously and, on success, stashes the
// resulting net.Conn so subsequent Read/Write act on it.
func (s *Socket) Connect(network, address string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		conn, err := s.dialer.DialContext(ctx, network, address)
		if err == nil {
			s.conn = conn
		}
		s.events <- Event{Side: s.side, Op: OpConnect, Err: err}
	}()
}

// ConnectFunc runs an arbitrary dial function asynchronously instead of
// the built-in TCP dialer, for outgoing transports (websocket, smux)
// that need their own handshake before a net.Conn exists. It reports
// completion the same way Connect does.
func (s *Socket) ConnectFunc(dial func() (net.Conn, error)) {
	go func() {
		conn, err := dial()
		if err == nil {
			s.conn = conn
		}
		s.events <- Event{Side: s.side, Op: OpConnect, Err: err}
	}()
}

// SetConn installs an already-established conn (used when the outgoing
// transport is a websocket or TLS session rather than a raw dial).
func (s *Socket) SetConn(conn net.Conn) { s.conn = conn }

// Close tears down the underlying conn, if any. Idempotent.
func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
