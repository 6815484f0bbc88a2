// Package types holds the configuration and shared value types consumed
// by every layer of ssrgate: the tunnel state machine, the cipher
// factory, the listener and the access policy all read from a single
// *Config handed down from main.
package types

// CommonConf holds behavior shared across listen/remote sections.
type CommonConf struct {
	BufferSize int `ini:"bufferSize"` // max plaintext chunk size, also the SSR_BUFF_SIZE ceiling
	Crypt      int `ini:"crypt"`      // key derivation seed, overridable via SSR_CRYPT_KEY
}

// ListenConf describes the local SOCKS5 front-end.
type ListenConf struct {
	Host string `ini:"host"`
	Port int    `ini:"port"`
	// UDPHost/UDPPort are echoed back in the synthesized UDP ASSOCIATE
	// reply (§4.2); no UDP data plane is implemented.
	UDPHost string `ini:"udp_host"`
	UDPPort int    `ini:"udp_port"`
}

// RemoteConf describes the upstream SSR-style endpoint.
type RemoteConf struct {
	Host string `ini:"host"`
	Port int    `ini:"port"`

	// Algo selects the AEAD cipher: "chacha20" (default) or "aes-gcm".
	Algo string `ini:"algo"`
	// Protocol selects the obfuscation handshake variant: "origin" (no
	// feedback) or "authchain" (server sends a challenge after the first
	// client payload).
	Protocol string `ini:"protocol"`

	// Transport selects the upstream wire transport: "tcp" (default) or "ws".
	Transport string `ini:"transport"`
	// Multiplex, when true, shares one smux session across tunnels
	// instead of dialing a fresh connection per tunnel.
	Multiplex bool `ini:"multiplex"`

	OverTLSEnable bool `ini:"over_tls_enable"`
	TLSServerName string `ini:"tls_server_name"`
}

// TrafficStats reports cumulative byte counters for a tunnel or a
// registry's whole fleet.
type TrafficStats struct {
	Uplink   uint64
	Downlink uint64
}

// LogConf configures the logging subsystem.
type LogConf struct {
	Level string `ini:"level"`
}

// FirewallRule is one priority-ordered access-policy rule, evaluated
// against the resolved upstream address before dialing (§4.4).
type FirewallRule struct {
	Priority   int      `json:"priority"`
	Action     string   `json:"action"` // "allow" or "deny"
	DestCIDR   []string `json:"destCidr,omitempty"`
	DestPort   string   `json:"destPort,omitempty"` // "80", "1000-2000", "80,443"
}

// Config is the process-wide, read-mostly configuration handed to every
// tunnel by reference (§3 "Server environment").
type Config struct {
	CommonConf    `ini:"common"`
	ListenConf    `ini:"listen"`
	RemoteConf    `ini:"remote"`
	LogConf       `ini:"log"`
	FirewallRules []FirewallRule `ini:"-"`
}
