// Package federation resolves cross-instance peer addressing.
//
// A peer is written either as a local user id ("b31c…") or as a remote
// ActivityPub-style handle ("alice@example.org"). ParseHandle tags the
// two shapes apart once at the boundary; the Resolver turns a handle
// into a canonical actor id through the discovery collaborator, caching
// results with a TTL and collapsing concurrent discoveries for the same
// handle into one in-flight call.
//
// ConversationID derives the order-independent DM thread key from the
// two participants' canonical actor ids.
package federation
