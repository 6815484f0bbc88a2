package tunnel

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// healthCheckURL matches the teacher's CheckHealthAdvanced target: a
// plain-text endpoint that echoes the caller's exit IP, cheap enough to
// hit on every health check cycle.
const healthCheckURL = "https://www.cloudflare.com/cdn-cgi/trace"

// pipeDialer implements proxy.Dialer but always hands back the one
// in-memory conn it was built with, so proxy.SOCKS5 can be pointed at a
// loopback Tunnel instead of a real TCP listener (grounded on the
// teacher's httpproxy.pipeDialer).
type pipeDialer struct {
	conn net.Conn
}

func (d *pipeDialer) Dial(network, addr string) (net.Conn, error) {
	return d.conn, nil
}

// CheckHealth self-tests the whole local pipeline: SOCKS5 front end,
// cipher handshake and upstream dial, exactly as a real client would
// exercise it, by driving a throwaway Tunnel over an in-memory pipe and
// issuing a CONNECT through it with net/http (spec.md's supplemented
// "health-check self-test", grounded on the teacher's
// CheckHealthAdvanced). latency is the round trip to healthCheckURL;
// exitIP is this tunnel's effective public address as reported by that
// endpoint.
func (env *Environment) CheckHealth() (latencyMs int64, exitIP string, err error) {
	clientPipe, serverPipe := net.Pipe()
	defer clientPipe.Close()
	go New(env, serverPipe).Run()

	dialer, err := proxy.SOCKS5("tcp", "placeholder:1080", nil, &pipeDialer{conn: clientPipe})
	if err != nil {
		return -1, "", fmt.Errorf("tunnel: check health: build socks5 dialer: %w", err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		},
		DisableKeepAlives: true,
	}
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}

	start := time.Now()
	resp, err := client.Get(healthCheckURL)
	if err != nil {
		return -1, "", fmt.Errorf("tunnel: check health: http get: %w", err)
	}
	defer resp.Body.Close()
	latencyMs = time.Since(start).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		return latencyMs, "", fmt.Errorf("tunnel: check health: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return latencyMs, "", fmt.Errorf("tunnel: check health: read body: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "ip=") {
			exitIP = strings.TrimPrefix(line, "ip=")
			break
		}
	}
	return latencyMs, exitIP, nil
}
