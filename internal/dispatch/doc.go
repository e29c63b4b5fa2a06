// Package dispatch routes decoded wire frames to application callbacks.
//
// Delivery is ordered per channel: each channel feeds one ordered queue
// with a single consumer, so callbacks observe that channel's messages
// in arrival order. Replayed message ids (server redelivery across a
// reconnect) are suppressed before dispatch. A callback returning an
// error is reported to the error sink and never affects delivery to the
// remaining callbacks.
//
// A channel socket registers an exclusive subscription for its channel;
// while one exists, global message callbacks do not see that channel's
// traffic.
package dispatch
