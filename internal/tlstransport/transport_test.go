package tlstransport

import (
	"errors"
	"testing"

	"ssrgate/internal/socket"
)

func TestReadPanicsWhileBusy(t *testing.T) {
	tr := &Transport{readState: socket.Busy}
	defer func() {
		if recover() == nil {
			t.Fatal("expected Read to panic while read half-state is busy")
		}
	}()
	tr.Read(false)
}

func TestAckReadPanicsUnlessDone(t *testing.T) {
	tr := &Transport{readState: socket.Idle}
	defer func() {
		if recover() == nil {
			t.Fatal("expected AckRead to panic while read half-state is idle")
		}
	}()
	tr.AckRead()
}

func TestCloseWithNoConnIsNoop(t *testing.T) {
	tr := &Transport{}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() on a never-dialed transport: %v", err)
	}
}

func TestDialErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &DialError{Reason: "connect", Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through DialError.Unwrap")
	}
	var de *DialError
	if !errors.As(err, &de) || de.Reason != "connect" {
		t.Fatalf("errors.As didn't recover the DialError, got %#v", de)
	}
}
