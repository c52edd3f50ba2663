package handlers

import (
	"time"

	"github.com/gorilla/mux"

	"bridged/pkg/presence"
	"bridged/pkg/stream"
	"bridged/pkg/validation"
)

// Package-level wiring set once at startup, mirroring the store's global
// handle.
var (
	streams   *stream.Broadcaster
	registry  *presence.Registry
	rules     validation.Rules
	keepAlive = 15 * time.Second
)

// Configure injects the shared components. Call before Register.
func Configure(b *stream.Broadcaster, reg *presence.Registry, r validation.Rules, sseKeepAlive time.Duration) {
	streams = b
	registry = reg
	rules = r
	if sseKeepAlive > 0 {
		keepAlive = sseKeepAlive
	}
}

// Register attaches all thread, event, stream, state and presence routes to
// the provided router (expected to be the /v1 subrouter).
func Register(r *mux.Router) {
	RegisterThreads(r)
	RegisterEvents(r)
	RegisterStream(r)
	RegisterState(r)
	RegisterPresence(r)
}
