package tunnel

import (
	"bytes"
	"testing"
)

func TestSocksErrorReply(t *testing.T) {
	got := socksErrorReply(replyNotAllowed)
	want := []byte{0x05, 0x02, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestSocksSuccessReply(t *testing.T) {
	initial := []byte{0x01, 1, 2, 3, 4, 0x00, 0x50}
	got := socksSuccessReply(initial)
	want := append([]byte{0x05, 0x00, 0x00}, initial...)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestBuildUDPAssocReply(t *testing.T) {
	got, err := buildUDPAssocReply("127.0.0.1", 1081)
	if err != nil {
		t.Fatalf("buildUDPAssocReply: %v", err)
	}
	want := []byte{0x05, 0x00, 0x00, 0x01, 127, 0, 0, 1, 0x04, 0x39}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestBuildUDPAssocReplyDomain(t *testing.T) {
	got, err := buildUDPAssocReply("relay.internal", 53)
	if err != nil {
		t.Fatalf("buildUDPAssocReply: %v", err)
	}
	if got[3] != 0x03 {
		t.Fatalf("expected domain ATYP, got %#x", got[3])
	}
}
