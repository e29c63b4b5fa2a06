// Package conn manages the lifecycle of one socket connection to a
// pufferblow server.
//
// # Manager
//
// The Manager owns a single transport and drives the state machine
// Disconnected → Connecting → Connected → Reconnecting → Closed:
//
//	mgr := conn.NewManager(dialer, cfg, logger, onStatus)
//	err := mgr.Connect(ctx)
//
// Key operations:
//
//   - Connect(ctx): perform the initial handshake
//   - Send(ctx, frame): encode and write one frame (serialized writers)
//   - Frames(): ordered stream of decoded inbound frames
//   - Close(): release the transport; Closed is terminal
//
// # Reconnection
//
// A transport failure while Connected moves the manager to Reconnecting.
// Attempts are spaced by capped exponential backoff with jitter and
// capped at a configured retry count; exhaustion is reported once via
// the status callback and the manager moves to Closed. Frame ordering
// holds within a connection epoch only — sequence numbers do not carry
// across reconnects.
//
// # Transports
//
// Transport abstracts the socket; WebSocketDialer provides the
// production WebSocket implementation. Tests substitute scripted fakes.
package conn
