// Package app wires configuration, the shared tunnel environment, and
// the SOCKS5 accept loop together, following the teacher's AppServer
// shape (internal/app/appserver.go: a waitGroup-tracked Run/Stop pair
// guarded by sync.Once) trimmed to this system's scope — no
// multi-server dispatcher, gateway, or web hub, since spec.md §1 scopes
// those out as external collaborators or non-goals.
package app

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ssrgate/internal/shared/logger"
	"ssrgate/internal/shared/types"
	"ssrgate/internal/tunnel"
)

// statsInterval/healthInterval mirror the teacher's statsLoop/healthLoop
// cadence (appserver.go ticks stats every 2s; health checks run on a
// slower cycle since they make a real network round trip).
const (
	statsInterval  = 2 * time.Second
	healthInterval = 60 * time.Second
)

// AppServer owns the SOCKS5 listener and the tunnel Environment every
// accepted connection's Tunnel shares by reference.
type AppServer struct {
	cfg *types.Config
	env *tunnel.Environment

	listener net.Listener

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// New builds an AppServer from loaded configuration.
func New(cfg *types.Config) (*AppServer, error) {
	log := logger.WithComponent("app")
	env, err := tunnel.NewEnvironment(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return &AppServer{cfg: cfg, env: env, stopCh: make(chan struct{})}, nil
}

// Run opens the SOCKS5 listener and blocks, accepting connections and
// spawning one tunnel goroutine per connection, until the listener is
// closed by Stop.
func (s *AppServer) Run() error {
	addr := net.JoinHostPort(s.cfg.ListenConf.Host, fmt.Sprint(s.cfg.ListenConf.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", addr, err)
	}
	s.listener = ln
	logger.Info().Str("addr", addr).Msg("SOCKS5 listener started")

	s.waitGroup.Add(2)
	go s.statsLoop()
	go s.healthLoop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.waitGroup.Wait()
				return nil
			}
			logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.waitGroup.Add(1)
		go func() {
			defer s.waitGroup.Done()
			tunnel.New(s.env, conn).Run()
		}()
	}
}

// Stop closes the listener and tears down every live tunnel (spec.md §5
// "shutdown all tunnels"). Idempotent.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		s.env.Registry.ShutdownAll()
	})
}

// Logger exposes the environment's component logger for callers (e.g.
// cmd/ssrgate) that want to log with the same tags.
func (s *AppServer) Logger() zerolog.Logger { return s.env.Logger }

// statsLoop periodically logs the fleet's aggregated uplink/downlink
// counters and the instantaneous rate since the last tick (grounded on
// the teacher's statsLoop, trimmed to logging since there is no web hub
// to broadcast to in this system).
func (s *AppServer) statsLoop() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var lastUplink, lastDownlink uint64
	var lastTick time.Time

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			traffic := s.env.Registry.GetTrafficStats()

			var upRate, downRate uint64
			if !lastTick.IsZero() {
				if elapsed := now.Sub(lastTick).Seconds(); elapsed > 0 {
					upRate = uint64(float64(traffic.Uplink-lastUplink) / elapsed)
					downRate = uint64(float64(traffic.Downlink-lastDownlink) / elapsed)
				}
			}
			lastUplink, lastDownlink, lastTick = traffic.Uplink, traffic.Downlink, now

			logger.Debug().
				Int("active_tunnels", s.env.Registry.Len()).
				Uint64("uplink_bytes", traffic.Uplink).
				Uint64("downlink_bytes", traffic.Downlink).
				Uint64("uplink_bytes_per_sec", upRate).
				Uint64("downlink_bytes_per_sec", downRate).
				Msg("traffic stats")
		}
	}
}

// healthLoop periodically self-tests the upstream path by driving a
// throwaway tunnel through Environment.CheckHealth (grounded on the
// teacher's runHealthChecks, trimmed to this system's single fixed
// upstream instead of a pool of profiles).
func (s *AppServer) healthLoop() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			latencyMs, exitIP, err := s.env.CheckHealth()
			if err != nil {
				logger.Warn().Err(err).Msg("upstream health check failed")
				continue
			}
			logger.Debug().
				Int64("latency_ms", latencyMs).
				Str("exit_ip", exitIP).
				Msg("upstream health check ok")
		}
	}
}
