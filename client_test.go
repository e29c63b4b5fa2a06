// ABOUTME: Tests for the client facade: options handling, sign-in, and
// ABOUTME: end-to-end delivery over a live test WebSocket server.

package pufferblow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pufferblow/pufferblow-go/wire"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BaseURL")

	_, err = New(Options{BaseURL: "http://localhost:7575"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AuthToken")

	c, err := New(Options{BaseURL: "http://localhost:7575", AuthToken: "tok"})
	require.NoError(t, err)
	defer c.Close()
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:7575", "ws://localhost:7575/ws"},
		{"https://chat.example.org", "wss://chat.example.org/ws"},
		{"http://localhost:7575/", "ws://localhost:7575/ws"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, deriveWSURL(tt.base), tt.base)
	}
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  base_url: "http://localhost:7575"

auth:
  username: "alice"
  password: "secret"

reconnect:
  base_delay: "2s"
  max_retries: 3

federation:
  actor_cache_ttl: "5m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:7575", opts.BaseURL)
	assert.Equal(t, "alice", opts.Username)
	assert.Equal(t, 2*time.Second, opts.ReconnectBaseDelay)
	assert.Equal(t, 3, opts.ReconnectMaxTries)
	assert.Equal(t, 5*time.Minute, opts.ActorCacheTTL)
}

func TestClient_SendBeforeConnect(t *testing.T) {
	c, err := New(Options{BaseURL: "http://localhost:7575", AuthToken: "tok"})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SendMessage(context.Background(), "general", "hello")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.MarkRead(context.Background(), "m1", "general")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_InvalidHistoryPage(t *testing.T) {
	c, err := New(Options{BaseURL: "http://localhost:7575", AuthToken: "tok"})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.LoadChannelMessages(context.Background(), "general", 0, 20)
	assert.ErrorIs(t, err, ErrInvalidPage)
}

// chatServer is an in-process pufferblow stand-in: REST sign-in, the
// global WebSocket endpoint, and per-channel endpoints under
// /ws/channels/{id}, each recording what the client sends.
type chatServer struct {
	srv      *httptest.Server
	token    string
	gotToken chan string
	inbound  chan map[string]any
	outbound chan []byte

	chanPaths    chan string
	chanInbound  chan map[string]any
	chanOutbound chan []byte
}

func newChatServer(t *testing.T, token string) *chatServer {
	t.Helper()
	cs := &chatServer{
		token:        token,
		gotToken:     make(chan string, 4),
		inbound:      make(chan map[string]any, 16),
		outbound:     make(chan []byte, 16),
		chanPaths:    make(chan string, 4),
		chanInbound:  make(chan map[string]any, 16),
		chanOutbound: make(chan []byte, 16),
	}

	upgrader := websocket.Upgrader{}
	serveSocket := func(w http.ResponseWriter, r *http.Request, inbound chan map[string]any, outbound chan []byte) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for data := range outbound {
				if ws.WriteMessage(websocket.TextMessage, data) != nil {
					return
				}
			}
		}()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				inbound <- m
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/signin", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"auth_token": cs.token})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		cs.gotToken <- r.URL.Query().Get("auth_token")
		serveSocket(w, r, cs.inbound, cs.outbound)
	})
	mux.HandleFunc("/ws/channels/", func(w http.ResponseWriter, r *http.Request) {
		cs.chanPaths <- r.URL.Path
		serveSocket(w, r, cs.chanInbound, cs.chanOutbound)
	})

	cs.srv = httptest.NewServer(mux)
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http") + "/ws"
}

func TestClient_EndToEndDelivery(t *testing.T) {
	cs := newChatServer(t, "tok-e2e")

	c, err := New(Options{
		BaseURL:   cs.srv.URL,
		WSURL:     cs.wsURL(),
		AuthToken: "tok-e2e",
	})
	require.NoError(t, err)
	defer c.Close()

	got := make(chan *wire.Message, 1)
	c.OnMessage("recv", "", func(m *wire.Message) error {
		got <- m
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.ConnectGlobal(ctx))

	select {
	case tok := <-cs.gotToken:
		assert.Equal(t, "tok-e2e", tok)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the handshake")
	}

	cs.outbound <- []byte(`{"type":"message","seq":1,"message_id":"m1","channel_id":"general","sender_id":"bob","body":"hello"}`)

	select {
	case m := <-got:
		assert.Equal(t, "m1", m.ID)
		assert.Equal(t, "general", m.ChannelID)
		assert.Equal(t, "hello", m.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}

	sent, err := c.SendMessage(ctx, "general", "hi back")
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)

	select {
	case m := <-cs.inbound:
		assert.Equal(t, "message", m["type"])
		assert.Equal(t, "hi back", m["body"])
		assert.Equal(t, sent.ID, m["message_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the send")
	}
}

func TestClient_MarkReadTwiceIdempotent(t *testing.T) {
	cs := newChatServer(t, "tok")

	c, err := New(Options{BaseURL: cs.srv.URL, WSURL: cs.wsURL(), AuthToken: "tok"})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.ConnectGlobal(ctx))

	// Fire-and-forget: the second receipt for the same id succeeds the
	// same way the first did, one frame each.
	require.NoError(t, c.MarkRead(ctx, "m1", "general"))
	require.NoError(t, c.MarkRead(ctx, "m1", "general"))

	for i := 0; i < 2; i++ {
		select {
		case m := <-cs.inbound:
			assert.Equal(t, "read_receipt", m["type"])
			assert.Equal(t, "m1", m["message_id"])
			assert.Equal(t, "general", m["channel_id"])
		case <-time.After(2 * time.Second):
			t.Fatalf("receipt %d never arrived", i+1)
		}
	}
}

func TestClient_SignsInWhenTokenMissing(t *testing.T) {
	cs := newChatServer(t, "tok-signin")

	c, err := New(Options{
		BaseURL:  cs.srv.URL,
		WSURL:    cs.wsURL(),
		Username: "alice",
		Password: "secret",
	})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.ConnectGlobal(ctx))

	select {
	case tok := <-cs.gotToken:
		assert.Equal(t, "tok-signin", tok)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the handshake")
	}
}

func TestClient_ConnectTwice(t *testing.T) {
	cs := newChatServer(t, "tok")

	c, err := New(Options{BaseURL: cs.srv.URL, WSURL: cs.wsURL(), AuthToken: "tok"})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.ConnectGlobal(ctx))
	assert.ErrorIs(t, c.ConnectGlobal(ctx), ErrAlreadyConnected)
}

func TestClient_CloseIdempotent(t *testing.T) {
	c, err := New(Options{BaseURL: "http://localhost:7575", AuthToken: "tok"})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.CreateChannelSocket("general")
	assert.ErrorIs(t, err, ErrClosed)
}
