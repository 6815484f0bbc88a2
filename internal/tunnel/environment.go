package tunnel

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"ssrgate/internal/firewall"
	"ssrgate/internal/securecrypt"
	"ssrgate/internal/shared/types"
)

// CipherFactory seeds a per-tunnel securecrypt.Context (spec.md §6
// "Environment contract: cipher factory create(env, max_chunk) ->
// cipher_ctx"). headLen is the length of the initial package computed by
// the tunnel once the SOCKS5 request is parsed (§4.2 "Request dispatch").
// A factory must be safe to call from any event loop concurrently (§5
// "the cipher factory must be re-entrant across loops"); NewCipherFactory
// returns one that allocates a fresh Cipher per call so no state is
// shared between tunnels.
type CipherFactory func(headLen int) (securecrypt.Context, error)

// NewCipherFactory resolves the configured algorithm and protocol once
// at startup and returns a factory closed over them.
func NewCipherFactory(cfg *types.Config) (CipherFactory, error) {
	algo := securecrypt.Algorithm(cfg.RemoteConf.Algo)
	if algo == "" {
		algo = securecrypt.ChaCha20Poly1305
	}
	proto, err := securecrypt.NewProtocol(cfg.RemoteConf.Protocol)
	if err != nil {
		return nil, fmt.Errorf("tunnel: %w", err)
	}
	keySeed := cfg.CommonConf.Crypt

	return func(headLen int) (securecrypt.Context, error) {
		cipher, err := securecrypt.NewCipher(keySeed, algo)
		if err != nil {
			return nil, fmt.Errorf("tunnel: cipher factory: %w", err)
		}
		return proto.NewContext(cipher, headLen, securecrypt.MaxPlaintextChunk), nil
	}, nil
}

// Environment is the shared, read-mostly bag of configuration handed to
// every tunnel by non-owning reference (spec.md §2.6/§6). One
// Environment is constructed per AppServer and shared by every tunnel
// goroutine it spawns; the MuxPool, if present, is shared by all of them.
type Environment struct {
	Config        *types.Config
	CipherFactory CipherFactory
	Registry      *Registry
	Policy        *firewall.Policy
	MuxPool       *MuxPool // nil unless RemoteConf.Multiplex is set
	Logger        zerolog.Logger

	// DialUpstream performs the resolve-gate-connect sequence for a
	// tunnel's upstream leg when the transport isn't the literal
	// RESOLVE_DONE/CONNECTING_UPSTREAM split the plain "tcp" transport
	// uses (websocket, multiplexed sessions). Defaulted to the package's
	// own dialUpstream; overridable so tests can substitute an in-memory
	// upstream without a real network dial.
	DialUpstream func(ctx context.Context, env *Environment) (net.Conn, error)
}

// NewEnvironment wires a complete Environment from loaded configuration.
func NewEnvironment(cfg *types.Config, logger zerolog.Logger) (*Environment, error) {
	// spec.md §3's "fixed maximum plaintext chunk size" is a hard ceiling,
	// not a suggestion: a misconfigured bufferSize larger than
	// securecrypt.MaxPlaintextChunk would let a socket read hand the
	// cipher more than it will ever Encrypt, so every socket and
	// transport that's sized off CommonConf.BufferSize gets the clamped
	// value instead.
	if cfg.CommonConf.BufferSize <= 0 || cfg.CommonConf.BufferSize > securecrypt.MaxPlaintextChunk {
		logger.Warn().
			Int("configured_buffer_size", cfg.CommonConf.BufferSize).
			Int("clamped_to", securecrypt.MaxPlaintextChunk).
			Msg("bufferSize out of range, clamping to the fixed plaintext chunk ceiling")
		cfg.CommonConf.BufferSize = securecrypt.MaxPlaintextChunk
	}

	factory, err := NewCipherFactory(cfg)
	if err != nil {
		return nil, err
	}
	policy, errs := firewall.NewPolicy(cfg.FirewallRules)
	for _, e := range errs {
		logger.Warn().Err(e).Msg("skipping invalid firewall rule")
	}

	env := &Environment{
		Config:        cfg,
		CipherFactory: factory,
		Registry:      NewRegistry(),
		Policy:        policy,
		Logger:        logger,
		DialUpstream:  dialUpstream,
	}
	if cfg.RemoteConf.Multiplex {
		env.MuxPool = NewMuxPool(env)
	}
	return env, nil
}
