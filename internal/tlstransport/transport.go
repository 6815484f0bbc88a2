// Package tlstransport implements the "TLS transport" external
// collaborator from spec.md §4.2/§6: when enabled, it replaces the raw
// outgoing socket, owning its own TCP dial and TLS handshake and
// exposing send(bytes) plus three upcalls (established, data,
// shutting-down). Upcalls are realized the same way internal/socket
// realizes socket completions: a worker goroutine posts a socket.Event
// onto the tunnel's single event channel, tagged with the OpTLS* kinds,
// so the tunnel's event loop selects over socket and TLS completions
// uniformly.
//
// The ClientHello is built with uTLS (github.com/refraction-networking/utls)
// using a browser-mimicking fingerprint rather than the stdlib's default,
// so the obfuscated tunnel's outer TLS handshake is harder to distinguish
// from ordinary browser traffic on the wire.
package tlstransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	utls "github.com/refraction-networking/utls"

	"ssrgate/internal/socket"
)

// DialError classifies why Establish failed, so the tunnel can pick the
// SOCKS5 reply code spec.md §7 assigns to each case.
type DialError struct {
	Reason string // "denied", "resolve", "connect", "handshake"
	Err    error
}

func (e *DialError) Error() string { return fmt.Sprintf("tlstransport: %s: %v", e.Reason, e.Err) }
func (e *DialError) Unwrap() error  { return e.Err }

var ErrAccessDenied = errors.New("tlstransport: destination denied by access policy")

// Transport wraps one upstream TLS session. It is pinned to its owning
// tunnel's event loop exactly like internal/socket.Socket: worker
// goroutines touch their own locals, set conn (Establish) or readState
// (Read) and then post to the shared events channel.
type Transport struct {
	host       string
	port       int
	serverName string
	bufSize    int
	events     chan<- socket.Event
	policy     func(net.Addr) bool

	conn      *utls.UConn
	readState socket.HalfState
	persist   bool
}

// New builds a Transport that will dial host:port itself once Establish
// is called. policy is consulted with the resolved address before
// dialing, exactly like the non-TLS path's access gate.
func New(host string, port int, serverName string, bufSize int, policy func(net.Addr) bool, events chan<- socket.Event) *Transport {
	return &Transport{host: host, port: port, serverName: serverName, bufSize: bufSize, policy: policy, events: events}
}

// Establish resolves (if needed), access-gates, dials, and performs the
// TLS handshake, all asynchronously. It posts exactly one
// OpTLSEstablished (success) or OpTLSShutdown (failure, Err set to a
// *DialError) event.
func (t *Transport) Establish() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		ip := net.ParseIP(t.host)
		if ip == nil {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, t.host)
			if err != nil {
				t.fail("resolve", err)
				return
			}
			if len(addrs) == 0 {
				t.fail("resolve", fmt.Errorf("no addresses for %q", t.host))
				return
			}
			ip = addrs[0].IP
		}
		if !t.policy(&net.TCPAddr{IP: ip, Port: t.port}) {
			t.fail("denied", ErrAccessDenied)
			return
		}

		dialer := net.Dialer{Timeout: 15 * time.Second}
		tcpConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), fmt.Sprint(t.port)))
		if err != nil {
			t.fail("connect", err)
			return
		}

		serverName := t.serverName
		if serverName == "" {
			serverName = t.host
		}
		uConn := utls.UClient(tcpConn, &utls.Config{ServerName: serverName}, utls.HelloChrome_Auto)
		if err := uConn.Handshake(); err != nil {
			tcpConn.Close()
			t.fail("handshake", err)
			return
		}

		t.conn = uConn
		t.events <- socket.Event{Side: socket.Outgoing, Op: socket.OpTLSEstablished}
	}()
}

func (t *Transport) fail(reason string, err error) {
	t.events <- socket.Event{Side: socket.Outgoing, Op: socket.OpTLSShutdown, Err: &DialError{Reason: reason, Err: err}}
}

// Send writes data asynchronously. Unlike socket.Socket.Write, no
// completion event is posted on success: spec.md §4.2 only drives the
// next stage off the established/data upcalls, never off the send
// finishing, so a successful send is fire-and-forget. A failed send
// still has to tear the tunnel down, so it's reported as a shutdown.
func (t *Transport) Send(data []byte) {
	go func() {
		if _, err := writeFull(t.conn, data); err != nil {
			t.events <- socket.Event{Side: socket.Outgoing, Op: socket.OpTLSShutdown, Err: err}
		}
	}()
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

// Read issues one discrete read, mirroring internal/socket.Socket's
// half-state discipline so the tunnel can drive both uniformly.
func (t *Transport) Read(persistent bool) {
	if t.readState != socket.Idle {
		panic(fmt.Sprintf("tlstransport: Read issued while read half-state is %s", t.readState))
	}
	t.readState = socket.Busy
	t.persist = persistent
	go t.doRead()
}

func (t *Transport) doRead() {
	buf := make([]byte, t.bufSize)
	n, err := t.conn.Read(buf)
	t.readState = socket.Done
	if err != nil {
		t.events <- socket.Event{Side: socket.Outgoing, Op: socket.OpTLSShutdown, Err: err}
		return
	}
	t.events <- socket.Event{Side: socket.Outgoing, Op: socket.OpTLSData, Data: buf[:n]}
}

// AckRead must be called once per delivered OpTLSData event, after the
// tunnel is done with the bytes; it re-arms automatically if the prior
// Read was persistent.
func (t *Transport) AckRead() {
	if t.readState != socket.Done {
		panic(fmt.Sprintf("tlstransport: AckRead called while read half-state is %s", t.readState))
	}
	t.readState = socket.Idle
	if t.persist {
		t.Read(true)
	}
}

func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
