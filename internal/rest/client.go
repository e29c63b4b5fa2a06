// ABOUTME: HTTP client for the pufferblow REST collaborators: auth, channels, CDN,
// ABOUTME: DM history, and federation discovery/follow. Narrow, typed wrappers only.

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pufferblow/pufferblow-go/internal/federation"
	"github.com/pufferblow/pufferblow-go/wire"
)

const apiBase = "/api/v1"

// Client talks to a pufferblow server's REST API. The auth token is
// attached to every request and never inspected.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	logger    *slog.Logger
}

// NewClient creates a REST client for baseURL (e.g. "http://host:7575").
// httpClient may be nil; logger may be nil.
func NewClient(baseURL, authToken string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		authToken: authToken,
		http:      httpClient,
		logger:    logger.With("component", "rest"),
	}
}

// SetAuthToken replaces the token used for subsequent requests, e.g.
// after SignIn.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// apiError is a non-2xx response that maps to no specific sentinel.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// do issues one request. Query may be nil; body, when non-nil, is sent
// as JSON; out, when non-nil, receives the decoded JSON response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + apiBase + path
	if query == nil {
		query = url.Values{}
	}
	query.Set("auth_token", c.authToken)
	u += "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

// SignIn exchanges credentials for an auth token and installs it on the
// client. The token's contents are opaque.
func (c *Client) SignIn(ctx context.Context, username, password string) (string, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("password", password)

	var resp struct {
		AuthToken string `json:"auth_token"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/signin", q, nil, &resp); err != nil {
		return "", fmt.Errorf("sign in: %w", err)
	}
	if resp.AuthToken == "" {
		return "", fmt.Errorf("sign in: server returned no token")
	}
	c.authToken = resp.AuthToken
	return resp.AuthToken, nil
}

// Channel describes a channel the user can subscribe to.
type Channel struct {
	ID        string `json:"channel_id"`
	Name      string `json:"channel_name"`
	IsPrivate bool   `json:"is_private"`
}

// ListChannels returns the channels visible to the signed-in user.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var resp struct {
		Channels []Channel `json:"channels"`
	}
	if err := c.do(ctx, http.MethodGet, "/channels/list/", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	return resp.Channels, nil
}

// CreateChannel creates a channel and returns it.
func (c *Client) CreateChannel(ctx context.Context, name string, private bool) (*Channel, error) {
	body := map[string]any{"channel_name": name, "is_private": private}
	var resp struct {
		Channel Channel `json:"channel"`
	}
	if err := c.do(ctx, http.MethodPost, "/channels/create/", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("creating channel %q: %w", name, err)
	}
	return &resp.Channel, nil
}

// DeleteChannel removes a channel.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	if err := c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/delete", nil, nil, nil); err != nil {
		return fmt.Errorf("deleting channel %s: %w", channelID, err)
	}
	return nil
}

// AddUserToChannel invites a user into a channel.
func (c *Client) AddUserToChannel(ctx context.Context, channelID, userID string) error {
	body := map[string]any{"user_id": userID}
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/add_user", nil, body, nil); err != nil {
		return fmt.Errorf("adding user to channel %s: %w", channelID, err)
	}
	return nil
}

// RemoveUserFromChannel removes a user from a channel.
func (c *Client) RemoveUserFromChannel(ctx context.Context, channelID, userID string) error {
	q := url.Values{}
	q.Set("user_id", userID)
	if err := c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/remove_user", q, nil, nil); err != nil {
		return fmt.Errorf("removing user from channel %s: %w", channelID, err)
	}
	return nil
}

// messageDTO is the REST shape of a message.
type messageDTO struct {
	MessageID      string               `json:"message_id"`
	ChannelID      string               `json:"channel_id,omitempty"`
	SenderID       string               `json:"sender_id"`
	Body           string               `json:"message"`
	Attachments    []wire.AttachmentRef `json:"attachments,omitempty"`
	ConversationID string               `json:"conversation_id,omitempty"`
	SentAt         string               `json:"sent_at"`
}

func (m messageDTO) toWire() wire.Message {
	msg := wire.Message{
		ID:             m.MessageID,
		ChannelID:      m.ChannelID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Attachments:    m.Attachments,
		ConversationID: m.ConversationID,
	}
	if ts, err := time.Parse(time.RFC3339Nano, m.SentAt); err == nil {
		msg.SentAt = ts
	}
	return msg
}

// LoadChannelMessages pages through a channel's message history,
// newest first. Pages are 1-based.
func (c *Client) LoadChannelMessages(ctx context.Context, channelID string, page, perPage int) ([]wire.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("messages_per_page", strconv.Itoa(perPage))

	var resp struct {
		Messages []messageDTO `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID+"/load_messages", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("loading messages for channel %s: %w", channelID, err)
	}

	out := make([]wire.Message, len(resp.Messages))
	for i, m := range resp.Messages {
		out[i] = m.toWire()
	}
	return out, nil
}

// QueryHistory pages through a DM conversation's history, newest first,
// keyed by canonical conversation id. Pages are 1-based.
func (c *Client) QueryHistory(ctx context.Context, conversationID string, page, pageSize int) ([]wire.Message, error) {
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	q.Set("page", strconv.Itoa(page))
	q.Set("messages_per_page", strconv.Itoa(pageSize))

	var resp struct {
		Messages []messageDTO `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/dms/load", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("loading DM history %s: %w", conversationID, err)
	}

	out := make([]wire.Message, len(resp.Messages))
	for i, m := range resp.Messages {
		out[i] = m.toWire()
	}
	return out, nil
}

// UploadAttachment stores a blob on the CDN and returns its reference.
func (c *Client) UploadAttachment(ctx context.Context, data []byte, mimeHint string) (wire.AttachmentRef, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "attachment")
	if err != nil {
		return wire.AttachmentRef{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return wire.AttachmentRef{}, fmt.Errorf("building upload: %w", err)
	}
	if mimeHint != "" {
		if err := writer.WriteField("mime_hint", mimeHint); err != nil {
			return wire.AttachmentRef{}, fmt.Errorf("building upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return wire.AttachmentRef{}, fmt.Errorf("building upload: %w", err)
	}

	u := c.baseURL + apiBase + "/cdn/upload?auth_token=" + url.QueryEscape(c.authToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return wire.AttachmentRef{}, fmt.Errorf("building upload: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return wire.AttachmentRef{}, fmt.Errorf("uploading attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return wire.AttachmentRef{}, &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out struct {
		Ref      string `json:"ref"`
		MimeHint string `json:"mime_hint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return wire.AttachmentRef{}, fmt.Errorf("decoding upload response: %w", err)
	}
	if out.MimeHint == "" {
		out.MimeHint = mimeHint
	}
	return wire.AttachmentRef{Ref: out.Ref, MimeHint: out.MimeHint}, nil
}

// Discover implements federation.Discovery against the server's
// discovery endpoint. Unreachable domains map to ErrUnknownDomain,
// missing accounts to ErrActorNotFound.
func (c *Client) Discover(ctx context.Context, domain, username string) (*federation.ActorDescriptor, error) {
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("username", username)

	var resp struct {
		ActorID string `json:"actor_id"`
	}
	err := c.do(ctx, http.MethodGet, "/federation/discover", q, nil, &resp)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Status == http.StatusNotFound:
				return nil, fmt.Errorf("%s@%s: %w", username, domain, federation.ErrActorNotFound)
			case apiErr.Status == http.StatusBadGateway || apiErr.Status == http.StatusGatewayTimeout:
				return nil, fmt.Errorf("domain %s: %w", domain, federation.ErrUnknownDomain)
			}
		}
		return nil, fmt.Errorf("discovering %s@%s: %w", username, domain, err)
	}
	if resp.ActorID == "" {
		return nil, fmt.Errorf("%s@%s: discovery returned no actor: %w", username, domain, federation.ErrActorNotFound)
	}
	return &federation.ActorDescriptor{ActorID: resp.ActorID}, nil
}

// Follow implements federation.FollowSender. A conflict response means
// the actor is already followed and is treated as success.
func (c *Client) Follow(ctx context.Context, actorID string) error {
	body := map[string]any{"actor_id": actorID}
	err := c.do(ctx, http.MethodPost, "/federation/follow", nil, body, nil)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("follow %s: %w", actorID, err)
	}
	return nil
}
