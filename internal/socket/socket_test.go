package socket

import (
	"net"
	"testing"
	"time"
)

func TestReadWriteHalfStates(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	events := make(chan Event, 8)
	sock := New(Incoming, server, 64, events)

	if sock.ReadState() != Idle {
		t.Fatalf("expected Idle before first read, got %v", sock.ReadState())
	}

	sock.Read(false)
	if sock.ReadState() != Busy {
		t.Fatalf("expected Busy immediately after Read, got %v", sock.ReadState())
	}

	go func() {
		client.Write([]byte("hello"))
	}()

	select {
	case ev := <-events:
		if ev.Op != OpRead {
			t.Fatalf("expected OpRead, got %v", ev.Op)
		}
		if string(ev.Data) != "hello" {
			t.Fatalf("expected 'hello', got %q", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read completion")
	}

	if sock.ReadState() != Done {
		t.Fatalf("expected Done after completion event, got %v", sock.ReadState())
	}
	sock.AckRead()
	if sock.ReadState() != Idle {
		t.Fatalf("expected Idle after AckRead, got %v", sock.ReadState())
	}
}

func TestReadPanicsWhileBusy(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	events := make(chan Event, 8)
	sock := New(Incoming, server, 64, events)
	sock.Read(false)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic issuing a second read while busy")
		}
	}()
	sock.Read(false)
}

func TestPersistentReadRearms(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	events := make(chan Event, 8)
	sock := New(Incoming, server, 64, events)
	sock.Read(true)

	go func() {
		client.Write([]byte("a"))
		client.Write([]byte("b"))
	}()

	for _, want := range []string{"a", "b"} {
		select {
		case ev := <-events:
			if string(ev.Data) != want {
				t.Fatalf("expected %q, got %q", want, ev.Data)
			}
			sock.AckRead()
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestWriteCompletes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	events := make(chan Event, 8)
	sock := New(Outgoing, server, 64, events)

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := client.Read(buf)
		readDone <- buf[:n]
	}()

	sock.Write([]byte("payload"))
	select {
	case ev := <-events:
		if ev.Op != OpWrite || ev.Err != nil {
			t.Fatalf("unexpected write event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write completion")
	}
	sock.AckWrite()
	if sock.WriteState() != Idle {
		t.Fatalf("expected Idle after AckWrite, got %v", sock.WriteState())
	}

	select {
	case got := <-readDone:
		if string(got) != "payload" {
			t.Fatalf("expected 'payload', got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for peer read")
	}
}
