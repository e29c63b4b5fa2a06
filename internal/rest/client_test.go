// ABOUTME: Tests for the REST collaborator client against httptest servers.
// ABOUTME: Verifies request shapes, error mapping, and federation sentinel translation.

package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pufferblow/pufferblow-go/internal/federation"
)

func TestClient_SignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/signin", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("username"))
		assert.Equal(t, "hunter2", r.URL.Query().Get("password"))
		json.NewEncoder(w).Encode(map[string]string{"auth_token": "tok-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, nil)
	token, err := c.SignIn(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestClient_SignInRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid password", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, nil)
	_, err := c.SignIn(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_AuthTokenAttached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-xyz", r.URL.Query().Get("auth_token"))
		json.NewEncoder(w).Encode(map[string]any{"channels": []any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-xyz", nil, nil)
	_, err := c.ListChannels(context.Background())
	require.NoError(t, err)
}

func TestClient_ListChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"channels": []map[string]any{
				{"channel_id": "c1", "channel_name": "general", "is_private": false},
				{"channel_id": "c2", "channel_name": "ops", "is_private": true},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, nil)
	channels, err := c.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "general", channels[0].Name)
	assert.True(t, channels[1].IsPrivate)
}

func TestClient_QueryHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/dms/load", r.URL.Path)
		assert.Equal(t, "conv-abc", r.URL.Query().Get("conversation_id"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("messages_per_page"))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"message_id": "m2", "sender_id": "u1", "message": "newer", "sent_at": "2025-03-14T10:00:00Z", "conversation_id": "conv-abc"},
				{"message_id": "m1", "sender_id": "u2", "message": "older", "sent_at": "2025-03-14T09:00:00Z", "conversation_id": "conv-abc"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, nil)
	msgs, err := c.QueryHistory(context.Background(), "conv-abc", 2, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, "newer", msgs[0].Body)
	assert.Equal(t, "conv-abc", msgs[0].ConversationID)
	assert.True(t, msgs[0].SentAt.After(msgs[1].SentAt))
}

func TestClient_UploadAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/cdn/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), data)
		assert.Equal(t, "image/png", r.FormValue("mime_hint"))
		json.NewEncoder(w).Encode(map[string]string{"ref": "blob-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, nil)
	ref, err := c.UploadAttachment(context.Background(), []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "blob-1", ref.Ref)
	assert.Equal(t, "image/png", ref.MimeHint)
}

func TestClient_UploadAttachmentFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, nil)
	_, err := c.UploadAttachment(context.Background(), []byte("x"), "")
	require.Error(t, err)
}

func TestClient_Discover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "example.org", r.URL.Query().Get("domain"))
		assert.Equal(t, "alice", r.URL.Query().Get("username"))
		json.NewEncoder(w).Encode(map[string]string{"actor_id": "https://example.org/users/alice"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, nil)
	desc, err := c.Discover(context.Background(), "example.org", "alice")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/users/alice", desc.ActorID)
}

func TestClient_DiscoverErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"missing account", http.StatusNotFound, federation.ErrActorNotFound},
		{"unreachable domain", http.StatusBadGateway, federation.ErrUnknownDomain},
		{"unreachable domain timeout", http.StatusGatewayTimeout, federation.ErrUnknownDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.name, tt.status)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "tok", nil, nil)
			_, err := c.Discover(context.Background(), "example.org", "alice")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_FollowIdempotent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls > 1 {
			http.Error(w, "already following", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, nil)
	require.NoError(t, c.Follow(context.Background(), "https://example.org/users/alice"))
	// Second follow conflicts server-side but succeeds silently here.
	require.NoError(t, c.Follow(context.Background(), "https://example.org/users/alice"))
}

func TestClient_FollowServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, nil)
	assert.Error(t, c.Follow(context.Background(), "actor"))
}
