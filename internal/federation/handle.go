// ABOUTME: Peer handle parsing for local user ids and remote user@domain handles.
// ABOUTME: Handles are parsed once at the boundary; downstream code never re-inspects strings.

package federation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidHandle indicates a peer string that is neither a local user
// id nor a well-formed user@domain handle.
var ErrInvalidHandle = errors.New("invalid peer handle")

// PeerHandle is the tagged form of a peer address: local (user id only)
// or remote (username plus domain).
type PeerHandle struct {
	Username string
	Domain   string // empty for local peers
}

// IsRemote reports whether the handle addresses an actor on another
// instance.
func (h PeerHandle) IsRemote() bool {
	return h.Domain != ""
}

// String renders the handle back to its wire form.
func (h PeerHandle) String() string {
	if h.Domain == "" {
		return h.Username
	}
	return h.Username + "@" + h.Domain
}

// ParseHandle parses "name" or "name@domain". A leading @ is tolerated
// on remote handles ("@alice@example.org").
func ParseHandle(peer string) (PeerHandle, error) {
	s := strings.TrimPrefix(strings.TrimSpace(peer), "@")
	if s == "" {
		return PeerHandle{}, fmt.Errorf("empty peer: %w", ErrInvalidHandle)
	}

	parts := strings.Split(s, "@")
	switch len(parts) {
	case 1:
		return PeerHandle{Username: parts[0]}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return PeerHandle{}, fmt.Errorf("peer %q: %w", peer, ErrInvalidHandle)
		}
		// Whether the domain is reachable is discovery's verdict, not a
		// parse-time one.
		return PeerHandle{Username: parts[0], Domain: strings.ToLower(parts[1])}, nil
	default:
		return PeerHandle{}, fmt.Errorf("peer %q: %w", peer, ErrInvalidHandle)
	}
}
