package utils

import "github.com/google/uuid"

// GenEventID returns a fresh event id. Uniqueness matters; ordering comes
// from the store-assigned seq, not the id.
func GenEventID() string {
	return "evt-" + uuid.NewString()
}

// GenThreadID returns a fresh thread id.
func GenThreadID() string {
	return "th-" + uuid.NewString()
}
