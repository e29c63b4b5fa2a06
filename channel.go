// ABOUTME: ChannelSocket binds one channel either to the shared global
// ABOUTME: connection or to a dedicated per-channel connection.

package pufferblow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pufferblow/pufferblow-go/internal/conn"
	"github.com/pufferblow/pufferblow-go/wire"
)

// ChannelSocket is a per-channel view, either filtering the shared
// connection or owning a dedicated one to the channel's endpoint. While
// a socket exists for a channel, its messages are delivered to the
// socket's handlers only, not to global OnMessage handlers. At most one
// live socket per channel id per client; closing the socket frees the
// channel for a new one.
type ChannelSocket struct {
	client    *Client
	channelID string
	subID     string

	// mgr is nil in shared mode. In dedicated mode the socket owns this
	// connection: sends go through it and it reconnects independently.
	mgr *conn.Manager

	mu       sync.Mutex
	closed   bool
	handlers map[string]MessageHandler
}

// CreateChannelSocket claims channelID for a socket sharing the global
// connection. Returns ErrAlreadySubscribed when a live socket for the
// channel exists.
func (c *Client) CreateChannelSocket(channelID string) (*ChannelSocket, error) {
	return c.newChannelSocket(channelID, nil)
}

// CreateDedicatedChannelSocket claims channelID for a socket with its
// own connection to the channel endpoint. The connection reconnects on
// its own backoff schedule; a drop there does not touch the global
// socket or other channels.
func (c *Client) CreateDedicatedChannelSocket(ctx context.Context, channelID string) (*ChannelSocket, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	dialer := &conn.WebSocketDialer{
		Endpoint:  channelEndpoint(c.opts.WSURL, channelID),
		AuthToken: c.opts.AuthToken,
	}
	mgr := conn.NewManager(dialer, conn.Config{
		BaseDelay:  c.opts.ReconnectBaseDelay,
		MaxDelay:   c.opts.ReconnectMaxDelay,
		MaxRetries: c.opts.ReconnectMaxTries,
		SendLimit:  c.opts.SendLimit,
		SendBurst:  c.opts.SendBurst,
	}, c.logger.With("channel", channelID), c.onStatus)

	s, err := c.newChannelSocket(channelID, mgr)
	if err != nil {
		mgr.Close()
		return nil, err
	}

	go c.dispatcher.Run(context.Background(), mgr.Frames(), mgr.Done())

	if err := mgr.Connect(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// channelEndpoint maps the global socket URL onto a channel's dedicated
// endpoint, e.g. "ws://host:7575/ws" -> "ws://host:7575/ws/channels/dev".
func channelEndpoint(wsURL, channelID string) string {
	return strings.TrimSuffix(wsURL, "/") + "/channels/" + channelID
}

func (c *Client) newChannelSocket(channelID string, mgr *conn.Manager) (*ChannelSocket, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, ok := c.sockets[channelID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, channelID)
	}

	s := &ChannelSocket{
		client:    c,
		channelID: channelID,
		mgr:       mgr,
		handlers:  make(map[string]MessageHandler),
	}
	s.subID = c.dispatcher.OnChannelMessages("channel-socket:"+channelID, channelID, s.deliver)
	c.sockets[channelID] = s

	return s, nil
}

// ChannelID returns the channel this socket is bound to.
func (s *ChannelSocket) ChannelID() string {
	return s.channelID
}

// OnMessage registers a handler for this channel's messages. Handlers
// run in delivery order for the channel; a handler error is reported to
// the client's OnCallbackError and does not stop the others.
func (s *ChannelSocket) OnMessage(fn MessageHandler) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.handlers[id] = fn
	s.mu.Unlock()
	return id
}

// RemoveHandler drops a handler registered with OnMessage.
func (s *ChannelSocket) RemoveHandler(id string) {
	s.mu.Lock()
	delete(s.handlers, id)
	s.mu.Unlock()
}

// deliver fans one message out to the socket's handlers.
func (s *ChannelSocket) deliver(msg *wire.Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	fns := make([]MessageHandler, 0, len(s.handlers))
	for _, fn := range s.handlers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendMessage uploads the attachments, then sends the message on the
// channel. Any upload failure aborts the send with ErrAttachmentUpload;
// no frame goes out in that case.
func (s *ChannelSocket) SendMessage(ctx context.Context, body string, attachments ...Attachment) (*wire.Message, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	refs, err := s.client.uploadAttachments(ctx, attachments)
	if err != nil {
		return nil, err
	}

	msg := &wire.Message{
		ID:          uuid.NewString(),
		ChannelID:   s.channelID,
		SenderID:    s.client.opts.ActorID,
		Body:        body,
		Attachments: refs,
		SentAt:      time.Now().UTC(),
	}
	f := &wire.Frame{Type: wire.FrameMessage, Message: msg}
	if err := s.send(ctx, f); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead sends a read receipt for a message on this channel.
func (s *ChannelSocket) MarkRead(ctx context.Context, messageID string) error {
	return s.send(ctx, &wire.Frame{
		Type:        wire.FrameReadReceipt,
		ReadReceipt: &wire.ReadReceipt{MessageID: messageID, ChannelID: s.channelID},
	})
}

// send writes on the socket's own connection when it has one, otherwise
// on the shared global connection.
func (s *ChannelSocket) send(ctx context.Context, f *wire.Frame) error {
	if s.mgr != nil {
		return s.mgr.Send(ctx, f)
	}
	return s.client.Send(ctx, f)
}

// Close releases the channel claim and, in dedicated mode, the
// connection. Global handlers see the channel's messages again, and a
// new socket may be created for it.
func (s *ChannelSocket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.client.dispatcher.Unsubscribe(s.subID)
	if s.mgr != nil {
		s.mgr.Close()
	}

	s.client.mu.Lock()
	if s.client.sockets[s.channelID] == s {
		delete(s.client.sockets, s.channelID)
	}
	s.client.mu.Unlock()
}
