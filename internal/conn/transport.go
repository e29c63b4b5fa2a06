// ABOUTME: Transport abstraction over the raw socket plus the WebSocket implementation.
// ABOUTME: The manager only sees opaque frame bytes; TLS and handshake live in the ws library.

package conn

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxFrameSize guards against memory exhaustion from a misbehaving server.
	maxFrameSize = 512 * 1024
	// writeTimeout bounds a single frame write on a stalled socket.
	writeTimeout = 10 * time.Second
)

// Transport is one established, bidirectional frame stream. ReadFrame
// blocks until a frame arrives or the stream fails; WriteFrame is not
// safe for concurrent use — the manager serializes writers.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Dialer establishes new Transports. Each call produces an independent
// connection epoch.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WebSocketDialer dials the pufferblow WebSocket endpoint, carrying the
// already-issued auth token as a query parameter. The token is opaque to
// this layer.
type WebSocketDialer struct {
	Endpoint  string // e.g. "ws://host:7575/ws" or ".../ws/channels/{id}"
	AuthToken string
	Handshake time.Duration // handshake timeout, zero means the library default
}

// Dial opens the WebSocket and wraps it as a Transport.
func (d *WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	u, err := url.Parse(d.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", d.Endpoint, err)
	}
	q := u.Query()
	q.Set("auth_token", d.AuthToken)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: d.Handshake}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.Host, err)
	}
	ws.SetReadLimit(maxFrameSize)

	return &wsTransport{ws: ws}, nil
}

// wsTransport adapts a gorilla websocket connection to Transport.
type wsTransport struct {
	ws *websocket.Conn
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, data, err := t.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteFrame(data []byte) error {
	if err := t.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}
