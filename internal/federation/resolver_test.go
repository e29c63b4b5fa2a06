// ABOUTME: Tests for actor resolution, caching, stale fallback, and coalesced discovery.
// ABOUTME: Uses a counting fake discovery collaborator with scriptable failures.

package federation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDiscovery counts calls and serves scripted results per domain.
type fakeDiscovery struct {
	mu    sync.Mutex
	calls int
	err   error
	gate  chan struct{} // when set, Discover blocks until the gate closes
}

func (f *fakeDiscovery) Discover(ctx context.Context, domain, username string) (*ActorDescriptor, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &ActorDescriptor{ActorID: fmt.Sprintf("https://%s/users/%s", domain, username)}, nil
}

func (f *fakeDiscovery) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeDiscovery) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeFollower struct {
	mu      sync.Mutex
	actorID string
	calls   int
}

func (f *fakeFollower) Follow(ctx context.Context, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actorID = actorID
	f.calls++
	return nil
}

func mustHandle(t *testing.T, peer string) PeerHandle {
	t.Helper()
	h, err := ParseHandle(peer)
	require.NoError(t, err)
	return h
}

func TestResolver_LocalImmediate(t *testing.T) {
	disc := &fakeDiscovery{}
	r := NewResolver(disc, nil, time.Minute, nil)

	actor, err := r.Resolve(context.Background(), mustHandle(t, "b31c0a17"))
	require.NoError(t, err)
	assert.Equal(t, "b31c0a17", actor.CanonicalID)
	assert.Equal(t, OriginLocal, actor.Origin)
	assert.Zero(t, disc.callCount())
}

func TestResolver_RemoteCached(t *testing.T) {
	disc := &fakeDiscovery{}
	r := NewResolver(disc, nil, time.Minute, nil)
	handle := mustHandle(t, "alice@example.org")

	first, err := r.Resolve(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/users/alice", first.CanonicalID)
	assert.Equal(t, OriginRemote, first.Origin)

	second, err := r.Resolve(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, first.CanonicalID, second.CanonicalID)
	assert.Equal(t, 1, disc.callCount())
}

func TestResolver_TTLExpiryTriggersRediscovery(t *testing.T) {
	disc := &fakeDiscovery{}
	r := NewResolver(disc, nil, 10*time.Millisecond, nil)
	handle := mustHandle(t, "alice@example.org")

	_, err := r.Resolve(context.Background(), handle)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = r.Resolve(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, 2, disc.callCount())
}

func TestResolver_StaleFallbackOnUnreachable(t *testing.T) {
	disc := &fakeDiscovery{}
	r := NewResolver(disc, nil, 10*time.Millisecond, nil)
	handle := mustHandle(t, "alice@example.org")

	fresh, err := r.Resolve(context.Background(), handle)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	disc.setErr(fmt.Errorf("dial tcp: %w", ErrUnknownDomain))

	stale, err := r.Resolve(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, fresh.CanonicalID, stale.CanonicalID)
}

func TestResolver_NotFoundNotMasked(t *testing.T) {
	disc := &fakeDiscovery{}
	r := NewResolver(disc, nil, 10*time.Millisecond, nil)
	handle := mustHandle(t, "alice@example.org")

	_, err := r.Resolve(context.Background(), handle)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	disc.setErr(ErrActorNotFound)

	// The account was deleted remotely: a stale entry must not hide that.
	_, err = r.Resolve(context.Background(), handle)
	assert.ErrorIs(t, err, ErrActorNotFound)
}

func TestResolver_UnknownDomainSurfaced(t *testing.T) {
	disc := &fakeDiscovery{err: ErrUnknownDomain}
	r := NewResolver(disc, nil, time.Minute, nil)

	_, err := r.Resolve(context.Background(), mustHandle(t, "alice@unreachable.example"))
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestResolver_ConcurrentResolutionsCoalesced(t *testing.T) {
	gate := make(chan struct{})
	disc := &fakeDiscovery{gate: gate}
	r := NewResolver(disc, nil, time.Minute, nil)
	handle := mustHandle(t, "alice@example.org")

	var wg sync.WaitGroup
	results := make([]*ResolvedActor, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), handle)
		}(i)
	}

	// Let every goroutine pile onto the in-flight resolution, then open
	// the gate.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, disc.callCount())
	for i, actor := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "https://example.org/users/alice", actor.CanonicalID)
	}
}

func TestResolver_Follow(t *testing.T) {
	disc := &fakeDiscovery{}
	follower := &fakeFollower{}
	r := NewResolver(disc, follower, time.Minute, nil)
	handle := mustHandle(t, "alice@example.org")

	require.NoError(t, r.Follow(context.Background(), handle))
	// Following again resolves from cache and succeeds silently.
	require.NoError(t, r.Follow(context.Background(), handle))

	follower.mu.Lock()
	defer follower.mu.Unlock()
	assert.Equal(t, "https://example.org/users/alice", follower.actorID)
	assert.Equal(t, 2, follower.calls)
	assert.Equal(t, 1, disc.callCount())
}

func TestResolver_ConversationForStable(t *testing.T) {
	disc := &fakeDiscovery{}
	r := NewResolver(disc, nil, time.Minute, nil)
	handle := mustHandle(t, "alice@example.org")

	first, actor, err := r.ConversationFor(context.Background(), "self-actor", handle)
	require.NoError(t, err)
	require.NotNil(t, actor)

	second, _, err := r.ConversationFor(context.Background(), "self-actor", handle)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, disc.callCount())

	// Symmetric with the participants swapped.
	assert.Equal(t, first, ConversationID(actor.CanonicalID, "self-actor"))
}

func TestResolver_ErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrUnknownDomain, ErrActorNotFound))
	assert.False(t, errors.Is(ErrActorNotFound, ErrInvalidHandle))
}
