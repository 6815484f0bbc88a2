package tunnel

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ssrgate/internal/securecrypt"
	"ssrgate/internal/shared/types"
	"ssrgate/internal/socket"
	"ssrgate/internal/socks5parser"
)

// testEnvironment builds an Environment with a permissive firewall policy
// (only the hardcoded loopback deny applies) and a DialUpstream override
// that each test installs separately, mirroring the mock-collaborator
// style of the teacher's dispatcher tests.
func testEnvironment(t *testing.T, protocol string) *Environment {
	t.Helper()
	cfg := &types.Config{
		CommonConf: types.CommonConf{BufferSize: 4096, Crypt: 42},
		ListenConf: types.ListenConf{Host: "127.0.0.1", Port: 1080, UDPHost: "127.0.0.1", UDPPort: 1081},
		RemoteConf: types.RemoteConf{Host: "upstream.example", Port: 8443, Protocol: protocol, Transport: "fake"},
	}
	env, err := NewEnvironment(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	return env
}

// withUpstreamPipe installs a DialUpstream override returning one half of
// an in-memory pipe, handing the other half back to the caller so the
// test can act as the fake upstream SSR server.
func withUpstreamPipe(env *Environment) net.Conn {
	serverSide, clientSide := net.Pipe()
	env.DialUpstream = func(ctx context.Context, e *Environment) (net.Conn, error) {
		return clientSide, nil
	}
	return serverSide
}

func mustNextEvent(t *testing.T, events <-chan socket.Event) socket.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tunnel event")
		return socket.Event{}
	}
}

// drive pulls and processes n events from the tunnel's channel in order,
// the way Run's loop would, but bounded so a stuck test fails instead of
// hanging forever.
func drive(t *testing.T, tun *Tunnel, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		tun.handleEvent(mustNextEvent(t, tun.events))
	}
}

func greetingBytes() []byte { return []byte{0x05, 0x01, 0x00} }

func connectRequestBytes(host string, port uint16) []byte {
	ip := net.ParseIP(host).To4()
	req := []byte{0x05, 0x01, 0x00, 0x01}
	req = append(req, ip...)
	req = append(req, byte(port>>8), byte(port))
	return req
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// driveToStreaming plays the client side of the handshake and request,
// then the fake-server side of the SSR auth exchange, until the tunnel
// reaches StageStreaming. Both halves are idle on return.
func driveToStreaming(t *testing.T, tun *Tunnel, client, server net.Conn, feedback bool) {
	t.Helper()
	tun.incoming.Read(false)

	go func() { client.Write(greetingBytes()) }()
	drive(t, tun, 1) // handshake read -> write 05 00
	buf := make([]byte, 2)
	if _, err := readFull(client, buf); err != nil {
		t.Fatalf("read auth reply: %v", err)
	}
	if buf[0] != 0x05 || buf[1] != 0x00 {
		t.Fatalf("unexpected auth reply %v", buf)
	}
	drive(t, tun, 1) // handshake-replied write -> issues request read

	go func() { client.Write(connectRequestBytes("93.184.216.34", 443)) }()
	drive(t, tun, 1) // request read -> dispatchConnect -> ConnectFunc kicked off
	drive(t, tun, 1) // OpConnect completion -> sendInitialPackage

	serverBuf := make([]byte, 4096)
	n, err := server.Read(serverBuf)
	if err != nil {
		t.Fatalf("server read initial package: %v", err)
	}
	cipher, err := securecrypt.NewCipher(42, securecrypt.ChaCha20Poly1305)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	plain, err := cipher.Decrypt(serverBuf[:n])
	if err != nil {
		t.Fatalf("server decrypt initial package: %v", err)
	}
	wantAddr, err := encodeAddr(socks5parser.AddrIPv4, "93.184.216.34", 443)
	if err != nil {
		t.Fatalf("encodeAddr: %v", err)
	}
	if string(plain) != string(wantAddr) {
		t.Fatalf("initial package mismatch: got %x want %x", plain, wantAddr)
	}

	drive(t, tun, 1) // SSR_AUTH_SENT write completion

	if feedback {
		challenge := make([]byte, 16)
		wire, err := cipher.Encrypt(challenge)
		if err != nil {
			t.Fatalf("encrypt challenge: %v", err)
		}
		go func() { server.Write(wire) }()
		drive(t, tun, 1) // SSR_WAITING_FEEDBACK read -> SSR_RECEIPT_SENT write

		respBuf := make([]byte, 4096)
		n, err := server.Read(respBuf)
		if err != nil {
			t.Fatalf("server read feedback response: %v", err)
		}
		if _, err := cipher.Decrypt(respBuf[:n]); err != nil {
			t.Fatalf("server decrypt feedback response: %v", err)
		}
		drive(t, tun, 1) // SSR_RECEIPT_SENT write completion -> completeAuth
	}

	// completeAuth has issued incoming.Write(successReply); its worker
	// goroutine blocks inside conn.Write until the client side reads, so
	// drain it before driving the write-completion event.
	reply := make([]byte, 3+len(wantAddr))
	if _, err := readFull(client, reply); err != nil {
		t.Fatalf("read success reply: %v", err)
	}
	drive(t, tun, 1) // AUTH_COMPLETION_DONE write -> starts streaming

	if reply[0] != 0x05 || reply[1] != 0x00 {
		t.Fatalf("unexpected success reply header %v", reply[:2])
	}

	if tun.stage != StageStreaming {
		t.Fatalf("expected StageStreaming, got %s", tun.stage)
	}
}

func TestHappyPathConnectOrigin(t *testing.T) {
	env := testEnvironment(t, "origin")
	client, incoming := net.Pipe()
	server := withUpstreamPipe(env)

	tun := New(env, incoming)
	driveToStreaming(t, tun, client, server, false)

	cipher, err := securecrypt.NewCipher(42, securecrypt.ChaCha20Poly1305)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	// Client -> upstream. outgoing.Write's worker blocks inside conn.Write
	// until the fake server reads, so drain it before driving the
	// write-completion event.
	request := []byte("GET / HTTP/1.1\r\n\r\n")
	go func() { client.Write(request) }()
	drive(t, tun, 1) // incoming read -> encrypt -> outgoing write issued

	wire := make([]byte, 4096)
	n, err := server.Read(wire)
	if err != nil {
		t.Fatalf("server read app data: %v", err)
	}
	got, err := cipher.Decrypt(wire[:n])
	if err != nil {
		t.Fatalf("server decrypt app data: %v", err)
	}
	if string(got) != string(request) {
		t.Fatalf("request mismatch: got %q want %q", got, request)
	}
	drive(t, tun, 1) // outgoing write completion -> re-arm incoming read

	// Upstream -> client. Same ordering constraint in reverse.
	response := []byte("HTTP/1.1 200 OK\r\n\r\nhello")
	respWire, err := cipher.Encrypt(response)
	if err != nil {
		t.Fatalf("server encrypt response: %v", err)
	}
	go func() { server.Write(respWire) }()
	drive(t, tun, 1) // outgoing read -> decrypt -> incoming write issued

	clientBuf := make([]byte, len(response))
	if _, err := readFull(client, clientBuf); err != nil {
		t.Fatalf("client read response: %v", err)
	}
	if string(clientBuf) != string(response) {
		t.Fatalf("response mismatch: got %q want %q", clientBuf, response)
	}
	drive(t, tun, 1) // incoming write completion -> re-arm outgoing read
}

func TestHappyPathConnectAuthchainFeedback(t *testing.T) {
	env := testEnvironment(t, "authchain")
	client, incoming := net.Pipe()
	server := withUpstreamPipe(env)

	tun := New(env, incoming)
	driveToStreaming(t, tun, client, server, true)
}

func TestUDPAssociateRepliesThenShuts(t *testing.T) {
	env := testEnvironment(t, "origin")
	client, incoming := net.Pipe()
	tun := New(env, incoming)

	tun.incoming.Read(false)
	go func() { client.Write(greetingBytes()) }()
	drive(t, tun, 1)
	buf := make([]byte, 2)
	if _, err := readFull(client, buf); err != nil {
		t.Fatalf("read auth reply: %v", err)
	}
	drive(t, tun, 1)

	req := []byte{0x05, 0x03, 0x00, 0x01, 127, 0, 0, 1, 0x04, 0x38}
	go func() { client.Write(req) }()
	drive(t, tun, 1) // request read -> dispatch UDP associate -> write reply

	reply := make([]byte, 10)
	if _, err := readFull(client, reply); err != nil {
		t.Fatalf("read udp assoc reply: %v", err)
	}
	if reply[0] != 0x05 || reply[1] != 0x00 {
		t.Fatalf("unexpected udp assoc reply %v", reply)
	}

	drive(t, tun, 1) // write completion -> Shutdown
	if !tun.closed {
		t.Fatal("expected tunnel to be closed after UDP ASSOCIATE reply")
	}
}

// TestHandshakeNoAcceptableAuthMethodKills covers spec.md §8 scenario 2:
// a client offering only password auth (no 0x00 method) gets 05 FF and
// the tunnel closes without ever reaching StageS5Request.
func TestHandshakeNoAcceptableAuthMethodKills(t *testing.T) {
	env := testEnvironment(t, "origin")
	client, incoming := net.Pipe()
	tun := New(env, incoming)

	tun.incoming.Read(false)
	go func() { client.Write([]byte{0x05, 0x01, 0x02}) }() // methods: 0x02 (password) only
	drive(t, tun, 1)                                       // handshake read -> StageKill, write 05 FF issued

	buf := make([]byte, 2)
	if _, err := readFull(client, buf); err != nil {
		t.Fatalf("read auth reply: %v", err)
	}
	if buf[0] != 0x05 || buf[1] != 0xFF {
		t.Fatalf("unexpected auth reply %v, want [05 FF]", buf)
	}
	if tun.stage != StageKill {
		t.Fatalf("expected StageKill, got %s", tun.stage)
	}
}

func TestBindRejectedWithNoReply(t *testing.T) {
	env := testEnvironment(t, "origin")
	client, incoming := net.Pipe()
	tun := New(env, incoming)

	tun.incoming.Read(false)
	go func() { client.Write(greetingBytes()) }()
	drive(t, tun, 1)
	buf := make([]byte, 2)
	if _, err := readFull(client, buf); err != nil {
		t.Fatalf("read auth reply: %v", err)
	}
	drive(t, tun, 1)

	req := []byte{0x05, 0x02, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50}
	go func() { client.Write(req) }()
	drive(t, tun, 1) // request read -> dispatch BIND -> immediate Shutdown

	if !tun.closed {
		t.Fatal("expected tunnel to be closed immediately for BIND")
	}
	if tun.stage != StageKill {
		t.Fatalf("expected StageKill, got %s", tun.stage)
	}
}

// drainingIncoming builds an incoming socket whose client half is read and
// discarded in the background, so killWithReply's final write never blocks
// a test that doesn't care about the exact reply bytes.
func drainingIncoming(events chan socket.Event) *socket.Socket {
	client, server := net.Pipe()
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	return socket.New(socket.Incoming, server, 4096, events)
}

func TestLoopbackUpstreamDenied(t *testing.T) {
	env := testEnvironment(t, "origin")
	env.Config.RemoteConf.Transport = "tcp"
	events := make(chan socket.Event, 8)
	tun := &Tunnel{
		env:    env,
		events: events,
		stage:  StageConnectingUpstream,
		log:    zerolog.Nop(),
	}
	tun.incoming = drainingIncoming(events)
	tun.outgoing = socket.NewUnconnected(socket.Outgoing, 4096, events)

	tun.gateAndConnect(net.ParseIP("127.0.0.1"))
	if tun.stage != StageKill {
		t.Fatalf("expected loopback dial to be denied and killed, got stage %s", tun.stage)
	}
}

func TestResolveFailureIsHostUnreachable(t *testing.T) {
	env := testEnvironment(t, "origin")
	events := make(chan socket.Event, 8)
	tun := &Tunnel{
		env:    env,
		events: events,
		stage:  StageResolveDone,
		log:    zerolog.Nop(),
	}
	tun.incoming = drainingIncoming(events)
	tun.outgoing = socket.NewUnconnected(socket.Outgoing, 4096, events)

	tun.handleResolveDone(nil, errors.New("no such host"))
	if tun.stage != StageKill {
		t.Fatalf("expected resolve failure to enter StageKill, got %s", tun.stage)
	}
}
