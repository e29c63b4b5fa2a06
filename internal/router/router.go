// ABOUTME: Routes direct messages to the local or federated transport path.
// ABOUTME: History pagination is delegated to the external store keyed by conversation id.

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pufferblow/pufferblow-go/internal/federation"
	"github.com/pufferblow/pufferblow-go/wire"
)

// ErrRoutingFailed indicates the resolved actor has no reachable
// transport path.
var ErrRoutingFailed = errors.New("no reachable route for peer")

// ErrInvalidPage indicates a history page index below 1.
var ErrInvalidPage = errors.New("invalid page")

// defaultPageSize matches the server's DM page size.
const defaultPageSize = 20

// Sender writes frames on the global connection.
type Sender interface {
	Send(ctx context.Context, f *wire.Frame) error
}

// HistoryStore is the external DM-history collaborator, keyed strictly
// by canonical conversation id.
type HistoryStore interface {
	QueryHistory(ctx context.Context, conversationID string, page, pageSize int) ([]wire.Message, error)
}

// Router maps canonical conversations onto transport paths: local
// delivery for same-instance peers, federated relay frames for remote
// actors.
type Router struct {
	resolver  *federation.Resolver
	selfActor string
	sender    Sender
	history   HistoryStore
	logger    *slog.Logger
}

// New creates a Router. selfActor is the signed-in user's canonical
// actor id.
func New(resolver *federation.Resolver, selfActor string, sender Sender, history HistoryStore, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		resolver:  resolver,
		selfActor: selfActor,
		sender:    sender,
		history:   history,
		logger:    logger.With("component", "router"),
	}
}

// SendDirectMessage resolves peer, derives the conversation id, and
// sends the message over the route matching the peer's origin. Returns
// the sent message with its conversation id filled in.
func (r *Router) SendDirectMessage(ctx context.Context, peer, body string) (*wire.Message, error) {
	handle, err := federation.ParseHandle(peer)
	if err != nil {
		return nil, err
	}

	convID, actor, err := r.resolver.ConversationFor(ctx, r.selfActor, handle)
	if err != nil {
		return nil, err
	}
	if actor.CanonicalID == "" {
		return nil, fmt.Errorf("peer %s resolved to no actor: %w", peer, ErrRoutingFailed)
	}

	msg := wire.Message{
		ID:             uuid.New().String(),
		SenderID:       r.selfActor,
		Body:           body,
		SentAt:         time.Now().UTC(),
		ConversationID: convID,
	}

	var frame *wire.Frame
	switch actor.Origin {
	case federation.OriginLocal:
		frame = &wire.Frame{Type: wire.FrameMessage, Message: &msg}
	case federation.OriginRemote:
		frame = &wire.Frame{
			Type:  wire.FrameRelay,
			Relay: &wire.Relay{Message: msg, TargetActor: actor.CanonicalID},
		}
	default:
		return nil, fmt.Errorf("peer %s has origin %q: %w", peer, actor.Origin, ErrRoutingFailed)
	}

	if err := r.sender.Send(ctx, frame); err != nil {
		return nil, fmt.Errorf("sending DM to %s: %w", peer, err)
	}

	r.logger.Debug("direct message routed",
		"conversation_id", convID,
		"origin", actor.Origin,
	)
	return &msg, nil
}

// LoadHistory pages through the DM conversation with peer, newest
// first. Pages are 1-based; pageSize falls back to the server default.
func (r *Router) LoadHistory(ctx context.Context, peer string, page, pageSize int) ([]wire.Message, error) {
	if page < 1 {
		return nil, fmt.Errorf("page %d: %w", page, ErrInvalidPage)
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	handle, err := federation.ParseHandle(peer)
	if err != nil {
		return nil, err
	}

	convID, _, err := r.resolver.ConversationFor(ctx, r.selfActor, handle)
	if err != nil {
		return nil, err
	}

	msgs, err := r.history.QueryHistory(ctx, convID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", peer, err)
	}
	return msgs, nil
}
