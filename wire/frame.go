// ABOUTME: Wire frame types exchanged with a pufferblow server over the socket.
// ABOUTME: Frames are tagged variants over message, read-receipt, and control payloads.

package wire

import "time"

// FrameType tags the payload variant carried by a Frame.
type FrameType string

const (
	FrameMessage     FrameType = "message"
	FrameReadReceipt FrameType = "read_receipt"
	FrameControl     FrameType = "control"
	// FrameRelay is outbound-only: a DM for an actor on another
	// instance, relayed through the home server.
	FrameRelay FrameType = "relay"
)

// ControlOp identifies the operation of a control frame.
type ControlOp string

const (
	ControlPing  ControlOp = "ping"
	ControlPong  ControlOp = "pong"
	ControlClose ControlOp = "close"
)

// AttachmentRef points at an uploaded blob. The bytes themselves live
// behind the CDN collaborator; the reference is all that travels in-band.
type AttachmentRef struct {
	Ref      string `json:"ref"`
	MimeHint string `json:"mime_hint,omitempty"`
}

// Message is a chat message delivered on a channel or DM conversation.
// ConversationID is set only for direct messages.
type Message struct {
	ID             string
	ChannelID      string
	SenderID       string
	Body           string
	Attachments    []AttachmentRef
	SentAt         time.Time
	ConversationID string
}

// ReadReceipt acknowledges that a message has been read. ChannelID is
// optional; servers accept receipts without one for DM messages.
type ReadReceipt struct {
	MessageID string
	ChannelID string
}

// Control carries transport-level ping/pong/close signaling.
type Control struct {
	Op ControlOp
}

// Relay wraps a direct message bound for a remote actor. The home
// server forwards it over the federation protocol.
type Relay struct {
	Message     Message
	TargetActor string
}

// Frame is one discrete unit on the wire. Exactly one of Message,
// ReadReceipt, Control, or Relay is non-nil, matching Type. Seq is the
// server-assigned per-connection sequence number; the client treats it
// as opaque ordering evidence and never generates one.
type Frame struct {
	Type        FrameType
	Seq         uint64
	Message     *Message
	ReadReceipt *ReadReceipt
	Control     *Control
	Relay       *Relay
}
