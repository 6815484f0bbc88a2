package shared

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ssrgate/internal/securecrypt"
)

// WebSocketConnAdapter presents a gorilla/websocket connection as a
// net.Conn so the tunnel/outgoing socket machinery (internal/socket) can
// treat a websocket upstream transport like any other stream. Websocket
// delivers whole messages, but socket.Socket's discrete Read contract
// expects to fill an arbitrarily sized caller buffer one chunk at a
// time, so an adapter has to split one ReadMessage() across possibly
// several Read(b) calls.
type WebSocketConnAdapter struct {
	*websocket.Conn
	// pending holds the tail of a websocket message not yet drained by
	// Read. socket.Socket only ever has one read outstanding per
	// direction at a time (the half-state discipline); mu still
	// serializes Read calls over pending. Close does not take mu and
	// does not touch pending.
	pending bytes.Buffer
	mu      sync.Mutex
}

// NewWebSocketConnAdapter wraps an already-dialed websocket connection.
func NewWebSocketConnAdapter(ws *websocket.Conn) net.Conn {
	return &WebSocketConnAdapter{Conn: ws}
}

func (wsc *WebSocketConnAdapter) Read(b []byte) (int, error) {
	wsc.mu.Lock()
	defer wsc.mu.Unlock()

	if wsc.pending.Len() == 0 {
		msgType, msg, err := wsc.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			return 0, fmt.Errorf("websocket: received non-binary message")
		}
		// A single ssrgate chunk never exceeds securecrypt.MaxWireChunk once
		// AEAD-framed; a bigger message means whatever sits on the other end
		// of this transport isn't speaking ssrgate's wire format.
		if len(msg) > securecrypt.MaxWireChunk {
			return 0, fmt.Errorf("websocket: message of %d bytes exceeds the obfuscation chunk bound", len(msg))
		}
		wsc.pending.Write(msg)
	}
	return wsc.pending.Read(b)
}

func (wsc *WebSocketConnAdapter) Write(b []byte) (int, error) {
	dataCopy := make([]byte, len(b))
	copy(dataCopy, b)
	if err := wsc.Conn.WriteMessage(websocket.BinaryMessage, dataCopy); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (wsc *WebSocketConnAdapter) Close() error         { return wsc.Conn.Close() }
func (wsc *WebSocketConnAdapter) LocalAddr() net.Addr  { return wsc.Conn.LocalAddr() }
func (wsc *WebSocketConnAdapter) RemoteAddr() net.Addr { return wsc.Conn.RemoteAddr() }

func (wsc *WebSocketConnAdapter) SetDeadline(t time.Time) error {
	_ = wsc.Conn.SetReadDeadline(t)
	return wsc.Conn.SetWriteDeadline(t)
}
func (wsc *WebSocketConnAdapter) SetReadDeadline(t time.Time) error {
	return wsc.Conn.SetReadDeadline(t)
}
func (wsc *WebSocketConnAdapter) SetWriteDeadline(t time.Time) error {
	return wsc.Conn.SetWriteDeadline(t)
}
