package tunnel

import (
	"bytes"
	"testing"

	"ssrgate/internal/socks5parser"
)

func TestEncodeAddrIPv4(t *testing.T) {
	got, err := encodeAddr(socks5parser.AddrIPv4, "1.2.3.4", 443)
	if err != nil {
		t.Fatalf("encodeAddr: %v", err)
	}
	want := []byte{0x01, 1, 2, 3, 4, 0x01, 0xBB}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestEncodeAddrDomain(t *testing.T) {
	got, err := encodeAddr(socks5parser.AddrDomain, "example.com", 80)
	if err != nil {
		t.Fatalf("encodeAddr: %v", err)
	}
	want := append([]byte{0x03, byte(len("example.com"))}, "example.com"...)
	want = append(want, 0x00, 0x50)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestEncodeAddrRejectsOversizedDomain(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := encodeAddr(socks5parser.AddrDomain, string(long), 80); err == nil {
		t.Fatal("expected error for domain name over 255 bytes")
	}
}

func TestEncodeAddrRejectsMalformedIP(t *testing.T) {
	if _, err := encodeAddr(socks5parser.AddrIPv4, "not-an-ip", 80); err == nil {
		t.Fatal("expected error for malformed IPv4 address")
	}
}

func TestAddrTypeFor(t *testing.T) {
	cases := map[string]byte{
		"127.0.0.1": socks5parser.AddrIPv4,
		"::1":       socks5parser.AddrIPv6,
		"relay.internal": socks5parser.AddrDomain,
	}
	for host, want := range cases {
		if got := addrTypeFor(host); got != want {
			t.Errorf("addrTypeFor(%q) = %#x, want %#x", host, got, want)
		}
	}
}
