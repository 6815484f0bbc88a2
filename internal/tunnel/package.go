package tunnel

import (
	"encoding/binary"
	"fmt"
	"net"

	"ssrgate/internal/socks5parser"
)

// buildInitialPackage encodes the parsed SOCKS5 request's address block
// into the wire format spec.md §6 "Initial address package format"
// defines: ATYP, ADDR, PORT (network order), no separators.
func buildInitialPackage(p *socks5parser.Parser) ([]byte, error) {
	return encodeAddr(p.AddrType, p.Host, p.Port)
}

func encodeAddr(addrType byte, host string, port uint16) ([]byte, error) {
	var addrBytes []byte
	switch addrType {
	case socks5parser.AddrIPv4:
		ip := net.ParseIP(host).To4()
		if ip == nil {
			return nil, fmt.Errorf("tunnel: %q is not a valid IPv4 address", host)
		}
		addrBytes = ip
	case socks5parser.AddrIPv6:
		ip := net.ParseIP(host).To16()
		if ip == nil {
			return nil, fmt.Errorf("tunnel: %q is not a valid IPv6 address", host)
		}
		addrBytes = ip
	case socks5parser.AddrDomain:
		if len(host) > 255 {
			return nil, fmt.Errorf("tunnel: domain name too long: %d bytes", len(host))
		}
		addrBytes = append([]byte{byte(len(host))}, host...)
	default:
		return nil, fmt.Errorf("tunnel: unsupported address type %#x", addrType)
	}

	pkg := make([]byte, 0, 1+len(addrBytes)+2)
	pkg = append(pkg, addrType)
	pkg = append(pkg, addrBytes...)
	pkg = binary.BigEndian.AppendUint16(pkg, port)
	return pkg, nil
}

// addrTypeFor picks the ATYP byte a host string encodes as, for
// synthesizing the UDP-ASSOC reply from configured host strings that
// aren't the product of SOCKS parsing.
func addrTypeFor(host string) byte {
	ip := net.ParseIP(host)
	switch {
	case ip == nil:
		return socks5parser.AddrDomain
	case ip.To4() != nil:
		return socks5parser.AddrIPv4
	default:
		return socks5parser.AddrIPv6
	}
}
