// ABOUTME: Resolves peer handles to canonical actors with TTL caching and coalesced discovery.
// ABOUTME: Stale cache entries serve as a degraded-mode fallback when rediscovery fails.

package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUnknownDomain indicates discovery reported the remote domain
// unreachable.
var ErrUnknownDomain = errors.New("unknown federation domain")

// ErrActorNotFound indicates the remote instance reported no such
// account.
var ErrActorNotFound = errors.New("actor not found")

// Origin distinguishes local users from remote actors.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// ResolvedActor is the stable identity of a peer once handle parsing
// and discovery are complete.
type ResolvedActor struct {
	CanonicalID string
	Origin      Origin
	CachedAt    time.Time
}

// ActorDescriptor is what discovery returns for a remote account.
type ActorDescriptor struct {
	ActorID string // canonical actor id, e.g. an ActivityPub actor URI
}

// Discovery is the external federation-discovery collaborator.
// Implementations return ErrUnknownDomain for unreachable domains and
// ErrActorNotFound for missing accounts (wrapped is fine).
type Discovery interface {
	Discover(ctx context.Context, domain, username string) (*ActorDescriptor, error)
}

// FollowSender is the external collaborator that issues follow requests.
// Implementations treat an already-followed actor as success.
type FollowSender interface {
	Follow(ctx context.Context, actorID string) error
}

type cacheEntry struct {
	actor     ResolvedActor
	expiresAt time.Time
}

// Resolver turns peer handles into canonical actors. Remote lookups go
// through the discovery collaborator with a TTL cache in front;
// concurrent resolutions of the same handle collapse into one in-flight
// discovery call.
type Resolver struct {
	discovery Discovery
	follower  FollowSender
	ttl       time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	sf    singleflight.Group
}

// NewResolver creates a Resolver. follower may be nil if Follow is
// never used. Pass nil logger for the default.
func NewResolver(discovery Discovery, follower FollowSender, ttl time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		discovery: discovery,
		follower:  follower,
		ttl:       ttl,
		logger:    logger.With("component", "federation"),
		cache:     make(map[string]cacheEntry),
	}
}

// Resolve returns the canonical actor for a peer handle. Local handles
// resolve immediately; remote handles hit the cache, then discovery.
func (r *Resolver) Resolve(ctx context.Context, handle PeerHandle) (*ResolvedActor, error) {
	if !handle.IsRemote() {
		return &ResolvedActor{
			CanonicalID: handle.Username,
			Origin:      OriginLocal,
			CachedAt:    time.Now(),
		}, nil
	}

	key := handle.String()
	if actor, ok := r.cached(key, false); ok {
		return actor, nil
	}

	v, err, _ := r.sf.Do(key, func() (any, error) {
		// A concurrent flight may have filled the cache while this call
		// waited on the group.
		if actor, ok := r.cached(key, false); ok {
			return actor, nil
		}
		return r.discover(ctx, key, handle)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ResolvedActor), nil
}

// discover performs one discovery call and stores the result. On
// transport-level failure a stale cache entry, when present, is served
// as a degraded-mode read. A definitive not-found is never masked.
func (r *Resolver) discover(ctx context.Context, key string, handle PeerHandle) (*ResolvedActor, error) {
	desc, err := r.discovery.Discover(ctx, handle.Domain, handle.Username)
	if err != nil {
		if !errors.Is(err, ErrActorNotFound) {
			if stale, ok := r.cached(key, true); ok {
				r.logger.Warn("discovery failed, serving stale actor",
					"peer", key,
					"error", err,
				)
				return stale, nil
			}
		}
		return nil, fmt.Errorf("resolving %s: %w", key, err)
	}

	actor := ResolvedActor{
		CanonicalID: desc.ActorID,
		Origin:      OriginRemote,
		CachedAt:    time.Now(),
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{actor: actor, expiresAt: actor.CachedAt.Add(r.ttl)}
	r.mu.Unlock()

	r.logger.Debug("resolved remote actor",
		"peer", key,
		"actor_id", actor.CanonicalID,
	)

	out := actor
	return &out, nil
}

// cached returns the cache entry for key. With allowStale it also
// returns expired entries.
func (r *Resolver) cached(key string, allowStale bool) (*ResolvedActor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.cache[key]
	if !ok {
		return nil, false
	}
	if !allowStale && time.Now().After(e.expiresAt) {
		return nil, false
	}
	out := e.actor
	return &out, true
}

// Follow resolves the actor and issues a follow request. Idempotent:
// following an already-followed actor succeeds silently (the
// collaborator absorbs the duplicate).
func (r *Resolver) Follow(ctx context.Context, handle PeerHandle) error {
	actor, err := r.Resolve(ctx, handle)
	if err != nil {
		return err
	}
	if err := r.follower.Follow(ctx, actor.CanonicalID); err != nil {
		return fmt.Errorf("following %s: %w", handle, err)
	}
	return nil
}

// ConversationFor resolves the peer and returns the order-independent
// conversation id with selfActor, plus the resolved peer. This is the
// only sanctioned way to obtain a conversation id.
func (r *Resolver) ConversationFor(ctx context.Context, selfActor string, handle PeerHandle) (string, *ResolvedActor, error) {
	actor, err := r.Resolve(ctx, handle)
	if err != nil {
		return "", nil, err
	}
	return ConversationID(selfActor, actor.CanonicalID), actor, nil
}
