package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"bridged/pkg/models"
)

// Rules bounds inbound events before they reach the store.
type Rules struct {
	// MaxContentBytes caps the serialized size of event content. Zero means
	// no limit.
	MaxContentBytes int
}

// ValidateEvent checks an inbound event body prior to append. The store
// assigns id/seq/ts, so only author-supplied fields are checked here.
func (r Rules) ValidateEvent(e *models.Event) error {
	if e == nil {
		return fmt.Errorf("event required")
	}
	if strings.TrimSpace(e.From) == "" {
		return fmt.Errorf("from required")
	}
	if e.Type == "" {
		e.Type = models.TypeMessage
	}
	if !models.ValidType(e.Type) {
		return fmt.Errorf("unknown event type: %q", e.Type)
	}
	if e.Type == models.TypeMessage {
		if e.Content == nil {
			return fmt.Errorf("content required for message events")
		}
		if s, ok := e.Content.(string); ok && strings.TrimSpace(s) == "" {
			return fmt.Errorf("content required for message events")
		}
	}
	if e.Type == models.TypeControl {
		if _, ok := models.DecodeControl(e.Content); !ok {
			return fmt.Errorf("control content must be a JSON object")
		}
	}
	if r.MaxContentBytes > 0 && e.Content != nil {
		b, err := json.Marshal(e.Content)
		if err != nil {
			return fmt.Errorf("content not serializable: %w", err)
		}
		if len(b) > r.MaxContentBytes {
			return fmt.Errorf("content exceeds %d bytes", r.MaxContentBytes)
		}
	}
	return nil
}

// ValidateThreadName checks a thread create/rename payload.
func ValidateThreadName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name required")
	}
	if len(name) > 512 {
		return fmt.Errorf("name too long")
	}
	return nil
}
