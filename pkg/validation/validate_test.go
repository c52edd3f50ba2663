package validation

import (
	"strings"
	"testing"

	"bridged/pkg/models"
)

func TestValidateEventRequiresFrom(t *testing.T) {
	r := Rules{}
	err := r.ValidateEvent(&models.Event{Type: models.TypeMessage, Content: "hi"})
	if err == nil || !strings.Contains(err.Error(), "from") {
		t.Fatalf("expected from error, got %v", err)
	}
}

func TestValidateEventDefaultsTypeToMessage(t *testing.T) {
	r := Rules{}
	ev := models.Event{From: "user", Content: "hi"}
	if err := r.ValidateEvent(&ev); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ev.Type != models.TypeMessage {
		t.Fatalf("type not defaulted: %q", ev.Type)
	}
}

func TestValidateEventRejectsUnknownType(t *testing.T) {
	r := Rules{}
	if err := r.ValidateEvent(&models.Event{From: "user", Type: "bogus"}); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestMessageNeedsContent(t *testing.T) {
	r := Rules{}
	if err := r.ValidateEvent(&models.Event{From: "user", Type: models.TypeMessage}); err == nil {
		t.Fatalf("expected content error")
	}
	if err := r.ValidateEvent(&models.Event{From: "user", Type: models.TypeMessage, Content: "   "}); err == nil {
		t.Fatalf("whitespace-only content should be rejected")
	}
	if err := r.ValidateEvent(&models.Event{From: "user", Type: models.TypeMessage, Content: map[string]interface{}{"kind": "card"}}); err != nil {
		t.Fatalf("structured content is valid: %v", err)
	}
}

func TestControlContentMustBeObject(t *testing.T) {
	r := Rules{}
	if err := r.ValidateEvent(&models.Event{From: "user", Type: models.TypeControl, Content: "not an object"}); err == nil {
		t.Fatalf("expected control content error")
	}
	ok := models.Event{From: "user", Type: models.TypeControl, Content: map[string]interface{}{"pause": map[string]interface{}{}}}
	if err := r.ValidateEvent(&ok); err != nil {
		t.Fatalf("valid control rejected: %v", err)
	}
}

func TestMaxContentBytes(t *testing.T) {
	r := Rules{MaxContentBytes: 10}
	if err := r.ValidateEvent(&models.Event{From: "user", Type: models.TypeMessage, Content: "this is far too long"}); err == nil {
		t.Fatalf("expected size error")
	}
	if err := r.ValidateEvent(&models.Event{From: "user", Type: models.TypeMessage, Content: "short"}); err != nil {
		t.Fatalf("short content rejected: %v", err)
	}
}

func TestValidateThreadName(t *testing.T) {
	if err := ValidateThreadName(""); err == nil {
		t.Fatalf("empty name should fail")
	}
	if err := ValidateThreadName("  "); err == nil {
		t.Fatalf("blank name should fail")
	}
	if err := ValidateThreadName(strings.Repeat("x", 600)); err == nil {
		t.Fatalf("oversized name should fail")
	}
	if err := ValidateThreadName("planning"); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
}
