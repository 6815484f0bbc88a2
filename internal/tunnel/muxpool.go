package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xtaci/smux"
)

// MuxPool lazily dials one shared smux.Session to the upstream and hands
// out a fresh stream per tunnel, grounded on the teacher's
// goremote.getOrCreateMuxSession/relayTCPMux (internal/tunnel/goremote/strategy.go):
// the teacher keeps one session per strategy instance and opens a stream
// per inbound connection, recreating the session if it has died.
type MuxPool struct {
	env *Environment

	mu      sync.Mutex
	session *smux.Session
}

func NewMuxPool(env *Environment) *MuxPool {
	return &MuxPool{env: env}
}

// Open returns a net.Conn backed by a smux stream over the pool's shared
// session, dialing (or redialing) the session on demand.
func (m *MuxPool) Open(ctx context.Context, dial func(context.Context) (net.Conn, error)) (net.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.IsClosed() {
		conn, err := dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("tunnel: mux dial: %w", err)
		}
		cfg := smux.DefaultConfig()
		cfg.Version = 2
		cfg.KeepAliveInterval = 10 * time.Second
		cfg.KeepAliveTimeout = 30 * time.Second
		session, err := smux.Client(conn, cfg)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("tunnel: mux session: %w", err)
		}
		m.session = session
	}

	stream, err := m.session.OpenStream()
	if err != nil {
		m.session.Close()
		m.session = nil
		return nil, fmt.Errorf("tunnel: mux open stream: %w", err)
	}
	return stream, nil
}
