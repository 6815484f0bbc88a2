package shared

import (
	"net"
	"sync/atomic"
)

// CountedConn wraps a net.Conn and atomically tallies the bytes read from
// and written to it, so a tunnel's incoming leg can report uplink/downlink
// traffic (spec.md's "Traffic accounting" supplemented feature) without the
// rest of internal/socket ever knowing the conn is instrumented.
type CountedConn struct {
	net.Conn
	uplink   *atomic.Uint64
	downlink *atomic.Uint64
}

// NewCountedConn wraps conn, adding n bytes read to downlink and n bytes
// written to uplink. Both counters are owned by the caller (the Tunnel),
// so TrafficStats can read them without a round-trip through this type.
func NewCountedConn(conn net.Conn, uplink, downlink *atomic.Uint64) *CountedConn {
	return &CountedConn{
		Conn:     conn,
		uplink:   uplink,
		downlink: downlink,
	}
}

// Read reads from the underlying connection and counts the bytes as
// downlink traffic (bytes flowing from the SOCKS5 client into this tunnel).
func (c *CountedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.downlink.Add(uint64(n))
	}
	return n, err
}

// Write writes to the underlying connection and counts the bytes as uplink
// traffic (bytes flowing from this tunnel back to the SOCKS5 client).
func (c *CountedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.uplink.Add(uint64(n))
	}
	return n, err
}
