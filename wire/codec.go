// ABOUTME: JSON codec between Frame values and the flat wire envelope.
// ABOUTME: Malformed input is reported as ErrMalformedFrame so callers can drop and log.

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedFrame indicates a frame that could not be decoded or that
// violates the envelope schema. The connection stays alive; the frame is
// dropped by the caller.
var ErrMalformedFrame = errors.New("malformed frame")

// envelope is the flat JSON schema frames travel as. Optional fields are
// omitted rather than sent null.
type envelope struct {
	Type           FrameType       `json:"type"`
	Seq            uint64          `json:"seq"`
	MessageID      string          `json:"message_id,omitempty"`
	ChannelID      string          `json:"channel_id,omitempty"`
	SenderID       string          `json:"sender_id,omitempty"`
	Body           string          `json:"body,omitempty"`
	Attachments    []AttachmentRef `json:"attachments,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	SentAt         string          `json:"sent_at,omitempty"`
	Op             ControlOp       `json:"op,omitempty"`
	TargetActor    string          `json:"target_actor,omitempty"`
}

// Codec encodes and decodes wire frames. It is stateless and safe for
// concurrent use.
type Codec struct{}

// NewCodec returns a Codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes a frame into its wire envelope.
func (c *Codec) Encode(f *Frame) ([]byte, error) {
	env := envelope{Type: f.Type, Seq: f.Seq}

	switch f.Type {
	case FrameMessage:
		if f.Message == nil {
			return nil, fmt.Errorf("encode message frame without payload: %w", ErrMalformedFrame)
		}
		env.MessageID = f.Message.ID
		env.ChannelID = f.Message.ChannelID
		env.SenderID = f.Message.SenderID
		env.Body = f.Message.Body
		env.Attachments = f.Message.Attachments
		env.ConversationID = f.Message.ConversationID
		if !f.Message.SentAt.IsZero() {
			env.SentAt = f.Message.SentAt.UTC().Format(time.RFC3339Nano)
		}

	case FrameReadReceipt:
		if f.ReadReceipt == nil {
			return nil, fmt.Errorf("encode read_receipt frame without payload: %w", ErrMalformedFrame)
		}
		env.MessageID = f.ReadReceipt.MessageID
		env.ChannelID = f.ReadReceipt.ChannelID

	case FrameControl:
		if f.Control == nil {
			return nil, fmt.Errorf("encode control frame without payload: %w", ErrMalformedFrame)
		}
		env.Op = f.Control.Op

	case FrameRelay:
		if f.Relay == nil || f.Relay.TargetActor == "" {
			return nil, fmt.Errorf("encode relay frame without target: %w", ErrMalformedFrame)
		}
		msg := f.Relay.Message
		env.TargetActor = f.Relay.TargetActor
		env.MessageID = msg.ID
		env.SenderID = msg.SenderID
		env.Body = msg.Body
		env.Attachments = msg.Attachments
		env.ConversationID = msg.ConversationID
		if !msg.SentAt.IsZero() {
			env.SentAt = msg.SentAt.UTC().Format(time.RFC3339Nano)
		}

	default:
		return nil, fmt.Errorf("encode frame type %q: %w", f.Type, ErrMalformedFrame)
	}

	return json.Marshal(env)
}

// Decode parses a wire envelope into a Frame. Unknown frame types and
// schema violations return ErrMalformedFrame.
func (c *Codec) Decode(data []byte) (*Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", ErrMalformedFrame)
	}

	frame := &Frame{Type: env.Type, Seq: env.Seq}

	switch env.Type {
	case FrameMessage:
		if env.MessageID == "" {
			return nil, fmt.Errorf("message frame missing message_id: %w", ErrMalformedFrame)
		}
		msg := &Message{
			ID:             env.MessageID,
			ChannelID:      env.ChannelID,
			SenderID:       env.SenderID,
			Body:           env.Body,
			Attachments:    env.Attachments,
			ConversationID: env.ConversationID,
		}
		if env.SentAt != "" {
			ts, err := time.Parse(time.RFC3339Nano, env.SentAt)
			if err != nil {
				return nil, fmt.Errorf("message frame bad sent_at %q: %w", env.SentAt, ErrMalformedFrame)
			}
			msg.SentAt = ts
		}
		frame.Message = msg

	case FrameReadReceipt:
		if env.MessageID == "" {
			return nil, fmt.Errorf("read_receipt frame missing message_id: %w", ErrMalformedFrame)
		}
		frame.ReadReceipt = &ReadReceipt{
			MessageID: env.MessageID,
			ChannelID: env.ChannelID,
		}

	case FrameControl:
		switch env.Op {
		case ControlPing, ControlPong, ControlClose:
		default:
			return nil, fmt.Errorf("control frame bad op %q: %w", env.Op, ErrMalformedFrame)
		}
		frame.Control = &Control{Op: env.Op}

	case FrameRelay:
		if env.MessageID == "" || env.TargetActor == "" {
			return nil, fmt.Errorf("relay frame missing message_id or target_actor: %w", ErrMalformedFrame)
		}
		relay := &Relay{
			TargetActor: env.TargetActor,
			Message: Message{
				ID:             env.MessageID,
				SenderID:       env.SenderID,
				Body:           env.Body,
				Attachments:    env.Attachments,
				ConversationID: env.ConversationID,
			},
		}
		if env.SentAt != "" {
			ts, err := time.Parse(time.RFC3339Nano, env.SentAt)
			if err != nil {
				return nil, fmt.Errorf("relay frame bad sent_at %q: %w", env.SentAt, ErrMalformedFrame)
			}
			relay.Message.SentAt = ts
		}
		frame.Relay = relay

	default:
		return nil, fmt.Errorf("unknown frame type %q: %w", env.Type, ErrMalformedFrame)
	}

	return frame, nil
}
