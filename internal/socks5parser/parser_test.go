package socks5parser

import (
	"bytes"
	"testing"
)

func TestParseGreetingNeedsMore(t *testing.T) {
	p := New()

	res, rest, err := p.Parse([]byte{0x05})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != NeedMore {
		t.Fatalf("expected NeedMore, got %v", res)
	}
	if rest != nil {
		t.Fatalf("expected no rest on NeedMore, got %v", rest)
	}

	res, rest, err = p.Parse([]byte{0x01, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SelectAuthNow {
		t.Fatalf("expected SelectAuthNow, got %v", res)
	}
	if len(rest) != 0 {
		t.Fatalf("expected empty rest, got %v", rest)
	}
	if !bytes.Equal(p.Methods, []byte{0x00}) {
		t.Fatalf("expected methods [0x00], got %v", p.Methods)
	}
}

func TestParseGreetingBadVersion(t *testing.T) {
	p := New()
	_, _, err := p.Parse([]byte{0x04, 0x01, 0x00})
	if err == nil {
		t.Fatal("expected error for bad version")
	}
}

func TestParseRequestConnectIPv4PipelinedWithGreeting(t *testing.T) {
	p := New()

	greeting := []byte{0x05, 0x01, 0x00}
	request := []byte{0x05, 0x01, 0x00, 0x01, 8, 8, 8, 8, 0x00, 0x50}

	res, rest, err := p.Parse(append(append([]byte{}, greeting...), request...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != SelectAuthNow {
		t.Fatalf("expected SelectAuthNow, got %v", res)
	}

	res, rest, err = p.Parse(rest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != ExecuteCommandNow {
		t.Fatalf("expected ExecuteCommandNow, got %v", res)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %v", rest)
	}
	if p.Command != CmdConnect {
		t.Fatalf("expected CONNECT, got %#x", p.Command)
	}
	if p.Host != "8.8.8.8" {
		t.Fatalf("expected host 8.8.8.8, got %s", p.Host)
	}
	if p.Port != 0x50 {
		t.Fatalf("expected port 80, got %d", p.Port)
	}
}

func TestParseRequestDomainSplitAcrossCalls(t *testing.T) {
	p := New()
	if _, _, err := p.Parse([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	domain := "example.com"
	full := []byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}
	full = append(full, domain...)
	full = append(full, 0x01, 0xBB) // port 443

	// Feed byte by byte to exercise NeedMore across partial reads.
	var res Result
	var rest []byte
	var err error
	for i := 0; i < len(full); i++ {
		res, rest, err = p.Parse(full[i : i+1])
		if err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
		if res == ExecuteCommandNow {
			break
		}
		if res != NeedMore {
			t.Fatalf("expected NeedMore before completion, got %v at byte %d", res, i)
		}
	}
	if res != ExecuteCommandNow {
		t.Fatal("parser never completed the request")
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %v", rest)
	}
	if p.Host != domain {
		t.Fatalf("expected host %s, got %s", domain, p.Host)
	}
	if p.Port != 443 {
		t.Fatalf("expected port 443, got %d", p.Port)
	}
}

func TestParseRequestUnsupportedAddrType(t *testing.T) {
	p := New()
	if _, _, err := p.Parse([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	_, _, err := p.Parse([]byte{0x05, 0x01, 0x00, 0x02, 0, 0})
	if err == nil {
		t.Fatal("expected error for unsupported address type")
	}
}
