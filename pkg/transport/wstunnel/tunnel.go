// Package wstunnel presents a WebSocket connection to the agentbe daemon
// as a byte-stream net.Conn, so an SSH client can be dialed through it
// without knowing the transport underneath is a WebSocket (C2). The SSH
// protocol is carried as binary WebSocket frames.
package wstunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dial opens a WebSocket connection to wsURL and wraps it as a net.Conn.
// authToken, if non-empty, is sent as a Bearer token in the Authorization
// header of the upgrade request.
func Dial(ctx context.Context, wsURL string, authToken string) (*Tunnel, error) {
	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wstunnel: dial %s: %w (status %s)", wsURL, err, resp.Status)
		}
		return nil, fmt.Errorf("wstunnel: dial %s: %w", wsURL, err)
	}

	return &Tunnel{ws: conn}, nil
}

// Tunnel adapts a *websocket.Conn to net.Conn. Reads are served out of a
// buffer accumulated one WebSocket message at a time; writes go out as
// individual binary messages. It is safe for one reader and one writer
// goroutine to use concurrently, matching net.Conn's contract.
type Tunnel struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	readBuf []byte

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = (*Tunnel)(nil)

// Read implements net.Conn. It blocks for the next WebSocket message when
// the internal buffer is drained, and returns io.EOF once the peer sends
// a close frame.
func (t *Tunnel) Read(p []byte) (int, error) {
	if t.ws == nil {
		return 0, ErrNotConnected
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	for len(t.readBuf) == 0 {
		mt, data, err := t.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if mt == websocket.CloseMessage {
			return 0, io.EOF
		}
		t.readBuf = data
	}

	n := copy(p, t.readBuf)
	t.readBuf = t.readBuf[n:]
	return n, nil
}

// Write implements net.Conn, sending p as a single binary WebSocket
// message.
func (t *Tunnel) Write(p []byte) (int, error) {
	if t.ws == nil {
		return 0, ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a clean WebSocket close frame and closes the underlying
// connection. It is idempotent.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		t.writeMu.Unlock()
		t.closeErr = t.ws.Close()
	})
	return t.closeErr
}

func (t *Tunnel) LocalAddr() net.Addr  { return t.ws.LocalAddr() }
func (t *Tunnel) RemoteAddr() net.Addr { return t.ws.RemoteAddr() }

// SetDeadline, SetReadDeadline and SetWriteDeadline are forwarded to the
// underlying WebSocket connection's I/O deadlines.
func (t *Tunnel) SetDeadline(deadline time.Time) error {
	if err := t.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	return t.ws.SetWriteDeadline(deadline)
}

func (t *Tunnel) SetReadDeadline(deadline time.Time) error  { return t.ws.SetReadDeadline(deadline) }
func (t *Tunnel) SetWriteDeadline(deadline time.Time) error { return t.ws.SetWriteDeadline(deadline) }

// ErrNotConnected is returned by Read and Write on a Tunnel that has no
// WebSocket connection (one not obtained from a successful Dial).
var ErrNotConnected = errors.New("wstunnel: not connected")
