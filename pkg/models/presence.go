package models

import "time"

// Presence states. Anything older than the registry TTL is reported as
// offline regardless of the stored state.
const (
	PresenceListening = "listening"
	PresenceThinking  = "thinking"
	PresenceTyping    = "typing"
	PresenceIdle      = "idle"
	PresenceOffline   = "offline"
)

// PresenceEntry is a point-in-time liveness reading for one participant in
// one thread. Volatile: held in memory only and empty after a restart.
type PresenceEntry struct {
	Participant string                 `json:"id"`
	State       string                 `json:"state"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Stale       bool                   `json:"stale"`
	Details     map[string]interface{} `json:"details,omitempty"`
}
