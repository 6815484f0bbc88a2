package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sagernet/sing/common/control"

	"ssrgate/internal/shared"
)

// Classification errors for upstream dial failures, used to pick the
// SOCKS5 reply code spec.md §7 assigns to each (resolution failure vs.
// connect-refused); ErrAccessDenied short-circuits before any socket
// operation is issued.
var (
	ErrAccessDenied  = errors.New("tunnel: destination denied by access policy")
	ErrResolveFailed = errors.New("tunnel: upstream host resolution failed")
)

// controllers is the set of socket-option hooks applied to every
// upstream dial; empty by default but wired the way the teacher's
// DefaultSystemDialer keeps a controllers slice
// (internal/xray_core/transport/internet/system_dialer.go) so platform
// sockopts (mark, bind-to-device) can be added without touching dial.go
// again.
var controllers []control.Func

// controlledDialer builds a net.Dialer whose Control hook runs the
// sagernet/sing socket-option controllers, grounded on the teacher's
// DefaultSystemDialer.Dial.
func controlledDialer(timeout time.Duration) *net.Dialer {
	d := &net.Dialer{Timeout: timeout}
	if len(controllers) > 0 {
		d.Control = func(network, address string, c syscall.RawConn) error {
			for _, ctl := range controllers {
				if err := ctl(network, address, c); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return d
}

// resolveAndGate resolves host (skipping resolution if it is already
// numeric, per spec.md §4.2 "Upstream dial (non-TLS)") and checks the
// access policy against the resulting address and the configured
// upstream port. It never blocks the event loop; call it only from a
// worker goroutine.
func resolveAndGate(ctx context.Context, policyAllow func(net.Addr) bool, host string, port int) (net.IP, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("%w: no addresses for %q", ErrResolveFailed, host)
		}
		ip = addrs[0].IP
	}
	if !policyAllow(&net.TCPAddr{IP: ip, Port: port}) {
		return nil, ErrAccessDenied
	}
	return ip, nil
}

// dialPlainTCP performs the resolve-gate-connect sequence for the
// default "tcp" transport.
func dialPlainTCP(ctx context.Context, env *Environment) (net.Conn, error) {
	cfg := env.Config.RemoteConf
	ip, err := resolveAndGate(ctx, env.Policy.Allow, cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	dialer := controlledDialer(15 * time.Second)
	return dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), fmt.Sprint(cfg.Port)))
}

// dialWebSocket performs the resolve-gate-connect sequence for the "ws"
// transport, grounded on the teacher's goremote.DialWS
// (internal/tunnel/goremote/ws_dialer.go).
func dialWebSocket(ctx context.Context, env *Environment) (net.Conn, error) {
	cfg := env.Config.RemoteConf
	if _, err := resolveAndGate(ctx, env.Policy.Allow, cfg.Host, cfg.Port); err != nil {
		return nil, err
	}
	scheme := "ws"
	if cfg.OverTLSEnable {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)))

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	wsConn, _, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("tunnel: websocket dial: %w", err)
	}
	return shared.NewWebSocketConnAdapter(wsConn), nil
}

// dialUpstream resolves, access-gates, and connects to the configured
// upstream using the transport named by RemoteConf.Transport, optionally
// routed through the shared MuxPool.
func dialUpstream(ctx context.Context, env *Environment) (net.Conn, error) {
	var dial func(context.Context) (net.Conn, error)
	switch env.Config.RemoteConf.Transport {
	case "ws":
		dial = func(ctx context.Context) (net.Conn, error) { return dialWebSocket(ctx, env) }
	default:
		dial = func(ctx context.Context) (net.Conn, error) { return dialPlainTCP(ctx, env) }
	}

	if env.MuxPool != nil {
		return env.MuxPool.Open(ctx, dial)
	}
	return dial(ctx)
}
