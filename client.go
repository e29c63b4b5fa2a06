// ABOUTME: Client facade tying together the connection manager, dispatcher,
// ABOUTME: federation resolver, conversation router, and REST collaborators.

package pufferblow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pufferblow/pufferblow-go/internal/config"
	"github.com/pufferblow/pufferblow-go/internal/conn"
	"github.com/pufferblow/pufferblow-go/internal/dedupe"
	"github.com/pufferblow/pufferblow-go/internal/dispatch"
	"github.com/pufferblow/pufferblow-go/internal/federation"
	"github.com/pufferblow/pufferblow-go/internal/rest"
	"github.com/pufferblow/pufferblow-go/internal/router"
	"github.com/pufferblow/pufferblow-go/wire"
)

// dedupe window for messages replayed across reconnects.
const (
	seenTTL     = 10 * time.Minute
	seenMaxSize = 4096
)

// MessageHandler receives delivered messages. A returned error is
// reported through OnCallbackError and does not affect other handlers.
type MessageHandler func(*wire.Message) error

// ReceiptHandler receives read receipts.
type ReceiptHandler func(*wire.ReadReceipt) error

// Attachment is a blob to upload alongside a message.
type Attachment struct {
	Data     []byte
	MimeHint string
}

// Channel is a chat channel as reported by the server.
type Channel struct {
	ID        string
	Name      string
	IsPrivate bool
}

// Options configures a Client. BaseURL is required; everything else has
// a workable default.
type Options struct {
	// BaseURL is the REST API root, e.g. "http://localhost:7575".
	BaseURL string
	// WSURL is the WebSocket endpoint. Derived from BaseURL when empty.
	WSURL string

	// AuthToken skips sign-in when set. Otherwise Username and Password
	// are exchanged for a token on ConnectGlobal.
	Username  string
	Password  string
	AuthToken string

	// ActorID is the signed-in user's canonical actor id, used for
	// conversation derivation. Defaults to Username.
	ActorID string

	// Reconnection tuning. Zero values mean 1s base, 30s cap, 5 retries.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	ReconnectMaxTries  int

	// ActorCacheTTL bounds how long resolved remote actors are trusted.
	// Zero means 10 minutes.
	ActorCacheTTL time.Duration

	// SendLimit throttles outbound frames when non-zero. Off by default.
	SendLimit rate.Limit
	SendBurst int

	// OnConnected fires after each successful connect, including
	// reconnects.
	OnConnected func()
	// OnDisconnected fires when the connection drops and recovery begins.
	OnDisconnected func(reason error)
	// OnError fires once when reconnection attempts are exhausted.
	OnError func(err error)
	// OnCallbackError receives failures returned by message handlers.
	OnCallbackError func(handler string, err error)

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// LoadOptions reads a YAML config file and maps it onto Options.
func LoadOptions(path string) (Options, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return Options{}, err
	}
	return Options{
		BaseURL:            cfg.Server.BaseURL,
		WSURL:              cfg.Server.WSURL,
		Username:           cfg.Auth.Username,
		Password:           cfg.Auth.Password,
		AuthToken:          cfg.Auth.AuthToken,
		ReconnectBaseDelay: cfg.Reconnect.BaseDelay,
		ReconnectMaxDelay:  cfg.Reconnect.MaxDelay,
		ReconnectMaxTries:  cfg.Reconnect.MaxRetries,
		ActorCacheTTL:      cfg.Federation.ActorCacheTTL,
	}, nil
}

// Client is a pufferblow chat client: one global socket for channel
// traffic, per-channel sockets on demand, and REST collaborators for
// everything that is not real-time.
type Client struct {
	opts   Options
	logger *slog.Logger

	rest       *rest.Client
	resolver   *federation.Resolver
	router     *router.Router
	seen       *dedupe.Cache
	dispatcher *dispatch.Dispatcher

	mu      sync.Mutex
	mgr     *conn.Manager
	sockets map[string]*ChannelSocket
	closed  bool
}

// New builds a Client. No network traffic happens until ConnectGlobal.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("options: BaseURL is required")
	}
	if opts.AuthToken == "" && (opts.Username == "" || opts.Password == "") {
		return nil, fmt.Errorf("options: AuthToken or Username/Password is required")
	}
	if opts.WSURL == "" {
		opts.WSURL = deriveWSURL(opts.BaseURL)
	}
	if opts.ActorID == "" {
		opts.ActorID = opts.Username
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		opts:    opts,
		logger:  logger.With("component", "client"),
		seen:    dedupe.New(seenTTL, seenMaxSize),
		sockets: make(map[string]*ChannelSocket),
	}

	c.rest = rest.NewClient(opts.BaseURL, opts.AuthToken, opts.HTTPClient, logger)
	c.resolver = federation.NewResolver(c.rest, c.rest, opts.ActorCacheTTL, logger)
	c.dispatcher = dispatch.New(logger, c.seen, opts.OnCallbackError)
	c.router = router.New(c.resolver, opts.ActorID, c, c.rest, logger)

	return c, nil
}

// deriveWSURL maps an http(s) REST root onto the ws(s) socket endpoint.
func deriveWSURL(baseURL string) string {
	ws := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/ws"
}

// ConnectGlobal signs in when needed and opens the global socket.
// Recovery from later connection drops happens in the background;
// terminal failure is reported once through OnError.
func (c *Client) ConnectGlobal(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.mgr != nil {
		c.mu.Unlock()
		return conn.ErrAlreadyConnected
	}
	c.mu.Unlock()

	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	dialer := &conn.WebSocketDialer{
		Endpoint:  c.opts.WSURL,
		AuthToken: c.opts.AuthToken,
	}
	mgr := conn.NewManager(dialer, conn.Config{
		BaseDelay:  c.opts.ReconnectBaseDelay,
		MaxDelay:   c.opts.ReconnectMaxDelay,
		MaxRetries: c.opts.ReconnectMaxTries,
		SendLimit:  c.opts.SendLimit,
		SendBurst:  c.opts.SendBurst,
	}, c.logger, c.onStatus)

	c.mu.Lock()
	c.mgr = mgr
	c.mu.Unlock()

	// The dispatch loop outlives ctx; it stops with the connection or
	// the client, not with the connect call's deadline.
	go c.dispatcher.Run(context.Background(), mgr.Frames(), mgr.Done())

	return mgr.Connect(ctx)
}

// ensureToken signs in when no token is installed yet. The token is
// opaque; it only travels on the handshake and REST query strings.
func (c *Client) ensureToken(ctx context.Context) error {
	if c.opts.AuthToken != "" {
		return nil
	}
	token, err := c.rest.SignIn(ctx, c.opts.Username, c.opts.Password)
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}
	c.opts.AuthToken = token
	return nil
}

func (c *Client) onStatus(state conn.State, err error) {
	switch state {
	case conn.StateConnected:
		if c.opts.OnConnected != nil {
			c.opts.OnConnected()
		}
	case conn.StateReconnecting:
		if c.opts.OnDisconnected != nil {
			c.opts.OnDisconnected(err)
		}
	case conn.StateClosed:
		if err != nil && c.opts.OnError != nil {
			c.opts.OnError(err)
		}
	}
}

// Send writes a frame on the global socket. Implements the router's
// sender so direct messages share the connection.
func (c *Client) Send(ctx context.Context, f *wire.Frame) error {
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return ErrNotConnected
	}
	return mgr.Send(ctx, f)
}

// OnMessage registers a handler for messages on channelID, or for every
// channel when channelID is empty. Returns a subscription id for
// Unsubscribe. Delivery for a given channel stays in order; handlers for
// different channels may run concurrently.
func (c *Client) OnMessage(name, channelID string, fn MessageHandler) string {
	return c.dispatcher.OnMessage(name, channelID, dispatch.MessageFunc(fn))
}

// OnReadReceipt registers a handler for read receipts, optionally
// filtered by channel.
func (c *Client) OnReadReceipt(name, channelID string, fn ReceiptHandler) string {
	return c.dispatcher.OnReadReceipt(name, channelID, dispatch.ReceiptFunc(fn))
}

// Unsubscribe removes a handler registration. In-flight deliveries may
// still complete; nothing is invoked after they drain.
func (c *Client) Unsubscribe(id string) {
	c.dispatcher.Unsubscribe(id)
}

// SendMessage sends a message to a channel over the global socket and
// returns it with its client-generated id. Attachments are uploaded
// first; an upload failure aborts the send with ErrAttachmentUpload and
// no frame goes out.
func (c *Client) SendMessage(ctx context.Context, channelID, body string, attachments ...Attachment) (*wire.Message, error) {
	refs, err := c.uploadAttachments(ctx, attachments)
	if err != nil {
		return nil, err
	}
	msg := &wire.Message{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		SenderID:    c.opts.ActorID,
		Body:        body,
		Attachments: refs,
		SentAt:      time.Now().UTC(),
	}
	f := &wire.Frame{Type: wire.FrameMessage, Message: msg}
	if err := c.Send(ctx, f); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Client) uploadAttachments(ctx context.Context, attachments []Attachment) ([]wire.AttachmentRef, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	refs := make([]wire.AttachmentRef, 0, len(attachments))
	for i, a := range attachments {
		ref, err := c.rest.UploadAttachment(ctx, a.Data, a.MimeHint)
		if err != nil {
			return nil, fmt.Errorf("%w: attachment %d: %v", ErrAttachmentUpload, i, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// MarkRead sends a read receipt for messageID. channelID may be empty
// for direct-message receipts.
func (c *Client) MarkRead(ctx context.Context, messageID, channelID string) error {
	f := &wire.Frame{
		Type:        wire.FrameReadReceipt,
		ReadReceipt: &wire.ReadReceipt{MessageID: messageID, ChannelID: channelID},
	}
	return c.Send(ctx, f)
}

// FollowRemoteAccount resolves peer and establishes a follow
// relationship with the remote actor. Following an already-followed
// actor succeeds silently.
func (c *Client) FollowRemoteAccount(ctx context.Context, peer string) error {
	handle, err := federation.ParseHandle(peer)
	if err != nil {
		return err
	}
	return c.resolver.Follow(ctx, handle)
}

// SendDirectMessage sends a DM to peer ("name" or "name@domain"),
// resolving the peer and routing locally or over federation relay.
func (c *Client) SendDirectMessage(ctx context.Context, peer, body string) (*wire.Message, error) {
	return c.router.SendDirectMessage(ctx, peer, body)
}

// LoadDirectMessages loads a page of DM history with peer. Pages are
// 1-based, newest first; pageSize <= 0 means the server default of 20.
func (c *Client) LoadDirectMessages(ctx context.Context, peer string, page, pageSize int) ([]wire.Message, error) {
	return c.router.LoadHistory(ctx, peer, page, pageSize)
}

// ListChannels returns the channels visible to the signed-in user.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	chans, err := c.rest.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Channel, len(chans))
	for i, ch := range chans {
		out[i] = Channel{ID: ch.ID, Name: ch.Name, IsPrivate: ch.IsPrivate}
	}
	return out, nil
}

// CreateChannel creates a channel and returns it.
func (c *Client) CreateChannel(ctx context.Context, name string, private bool) (*Channel, error) {
	ch, err := c.rest.CreateChannel(ctx, name, private)
	if err != nil {
		return nil, err
	}
	return &Channel{ID: ch.ID, Name: ch.Name, IsPrivate: ch.IsPrivate}, nil
}

// DeleteChannel removes a channel. Admin-only server side.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.rest.DeleteChannel(ctx, channelID)
}

// AddUserToChannel invites a user into a private channel.
func (c *Client) AddUserToChannel(ctx context.Context, channelID, userID string) error {
	return c.rest.AddUserToChannel(ctx, channelID, userID)
}

// RemoveUserFromChannel removes a user from a private channel.
func (c *Client) RemoveUserFromChannel(ctx context.Context, channelID, userID string) error {
	return c.rest.RemoveUserFromChannel(ctx, channelID, userID)
}

// LoadChannelMessages loads a page of channel history, 1-based, newest
// first.
func (c *Client) LoadChannelMessages(ctx context.Context, channelID string, page, pageSize int) ([]wire.Message, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}
	return c.rest.LoadChannelMessages(ctx, channelID, page, pageSize)
}

// Close shuts the client down permanently: channel sockets, dispatcher,
// and the global connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	mgr := c.mgr
	sockets := make([]*ChannelSocket, 0, len(c.sockets))
	for _, s := range c.sockets {
		sockets = append(sockets, s)
	}
	c.mu.Unlock()

	for _, s := range sockets {
		s.Close()
	}
	c.dispatcher.Close()
	c.seen.Close()
	if mgr != nil {
		return mgr.Close()
	}
	return nil
}
