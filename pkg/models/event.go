package models

// Event types stored in a thread log.
const (
	TypeMessage       = "message"
	TypeControl       = "control"
	TypePresence      = "presence"
	TypeThreadCreated = "thread.created"
	TypeThreadRenamed = "thread.renamed"
)

// UserParticipant is the reserved id for the human participant. Control
// events that change mute/pause/discussion policy are only authoritative
// when authored by it.
const UserParticipant = "user"

// ToAll is the broadcast addressee.
const ToAll = "all"

// Meta carries optional event metadata. Via and the "coordinator" tag mark
// replies appended on behalf of a participant rather than authored directly.
type Meta struct {
	ReplyTo string   `json:"reply_to,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Via     string   `json:"via,omitempty"`
}

// Event is one immutable record in a thread log. ID and Seq are assigned by
// the store at append time; Seq is the per-thread position used for cursors
// and replay ordering. TS is advisory and never used for ordering.
type Event struct {
	ID      string      `json:"id"`
	Seq     uint64      `json:"seq"`
	TS      string      `json:"ts"`
	Thread  string      `json:"thread"`
	Type    string      `json:"type"`
	From    string      `json:"from"`
	To      string      `json:"to,omitempty"`
	Content interface{} `json:"content,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ContentText returns the event content when it is plain text, or "" for
// structured or absent content.
func (e Event) ContentText() string {
	if s, ok := e.Content.(string); ok {
		return s
	}
	return ""
}

// HasTag reports whether the event carries the given meta tag.
func (e Event) HasTag(tag string) bool {
	if e.Meta == nil {
		return false
	}
	for _, t := range e.Meta.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ValidType reports whether t is one of the known event types.
func ValidType(t string) bool {
	switch t {
	case TypeMessage, TypeControl, TypePresence, TypeThreadCreated, TypeThreadRenamed:
		return true
	}
	return false
}
