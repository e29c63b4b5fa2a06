// ABOUTME: Exported error sentinels for the pufferblow client.
// ABOUTME: Internal packages own most of these; the facade re-exports them.

package pufferblow

import (
	"errors"

	"github.com/pufferblow/pufferblow-go/internal/conn"
	"github.com/pufferblow/pufferblow-go/internal/federation"
	"github.com/pufferblow/pufferblow-go/internal/router"
	"github.com/pufferblow/pufferblow-go/wire"
)

var (
	// ErrNotConnected is returned when a send is attempted and no live
	// connection exists (including mid-reconnect).
	ErrNotConnected = conn.ErrNotConnected

	// ErrClosed is returned for operations on a permanently closed client.
	ErrClosed = conn.ErrClosed

	// ErrAlreadyConnected is returned by a second ConnectGlobal call.
	ErrAlreadyConnected = conn.ErrAlreadyConnected

	// ErrAlreadySubscribed is returned by CreateChannelSocket when a live
	// socket for the same channel already exists on this client.
	ErrAlreadySubscribed = errors.New("channel already has an active socket")

	// ErrAttachmentUpload is returned when an attachment cannot be
	// uploaded; the message is not sent in that case.
	ErrAttachmentUpload = errors.New("attachment upload failed")

	// ErrInvalidHandle is returned for peer identifiers that do not parse
	// as "name" or "name@domain".
	ErrInvalidHandle = federation.ErrInvalidHandle

	// ErrUnknownDomain is returned when a peer's domain cannot be reached
	// for discovery.
	ErrUnknownDomain = federation.ErrUnknownDomain

	// ErrActorNotFound is returned when the peer's domain answered but the
	// named actor does not exist there.
	ErrActorNotFound = federation.ErrActorNotFound

	// ErrRoutingFailed is returned when no transport path to the peer
	// could be established.
	ErrRoutingFailed = router.ErrRoutingFailed

	// ErrInvalidPage is returned for history pages below 1.
	ErrInvalidPage = router.ErrInvalidPage

	// ErrMalformedFrame tags inbound frames that fail decoding. Such
	// frames are dropped and logged; they never surface through handlers.
	ErrMalformedFrame = wire.ErrMalformedFrame
)
