// Package router decides the transport path for direct messages. A
// resolved local peer gets ordinary message frames; a remote actor gets
// federated relay frames. History pagination goes to the external
// store, always keyed by the canonical conversation id.
package router
