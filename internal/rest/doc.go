// Package rest wraps the pufferblow server's HTTP API surface the
// real-time layer consumes: sign-in, channel CRUD, attachment upload,
// DM history, and federation discovery/follow. Each wrapper is a thin
// typed call; retry policy belongs to the caller.
package rest
