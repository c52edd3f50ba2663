package models

import (
	"encoding/json"
	"strings"
)

// Profile describes an invited participant. Fields double as mention
// resolution keys alongside the participant id.
type Profile struct {
	Nickname string `json:"nickname,omitempty"`
	Role     string `json:"role,omitempty"`
	Client   string `json:"client,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Merge overlays non-empty fields of other onto p, last write wins per field.
func (p Profile) Merge(other Profile) Profile {
	if other.Nickname != "" {
		p.Nickname = other.Nickname
	}
	if other.Role != "" {
		p.Role = other.Role
	}
	if other.Client != "" {
		p.Client = other.Client
	}
	if other.Model != "" {
		p.Model = other.Model
	}
	return p
}

// ControlPayload is the decoded content of a control event: a closed set of
// recognized kinds, at most one of which is acted on per field. Content that
// decodes to none of them folds as a no-op.
type ControlPayload struct {
	Mute       *MuteControl       `json:"mute,omitempty"`
	Unmute     *UnmuteControl     `json:"unmute,omitempty"`
	Pause      *PauseControl      `json:"pause,omitempty"`
	Discussion *DiscussionControl `json:"discussion,omitempty"`
	Invite     *InviteControl     `json:"invite,omitempty"`
	Uninvite   *UninviteControl   `json:"uninvite,omitempty"`
	Broadcast  *BroadcastControl  `json:"broadcast,omitempty"`
}

// MuteControl silences targets. Only mode "hard" (the default) affects the
// muted set; other modes are advisory for UIs and fold as a no-op.
type MuteControl struct {
	Targets []string `json:"targets"`
	Mode    string   `json:"mode,omitempty"`
}

type UnmuteControl struct {
	Targets []string `json:"targets"`
}

// PauseControl sets the thread pause flag. Absent "on" means true, matching
// the producers that send {"pause":{}}.
type PauseControl struct {
	On *bool `json:"on"`
}

// DiscussionControl toggles discussion mode. AllowAgentMentions defaults to
// the value of On when absent.
type DiscussionControl struct {
	On                 *bool `json:"on"`
	AllowAgentMentions *bool `json:"allow_agent_mentions"`
}

type InviteControl struct {
	Participant string  `json:"participant_id"`
	Profile     Profile `json:"profile,omitempty"`
}

type UninviteControl struct {
	Participant string `json:"participant_id"`
}

// BroadcastControl opts a thread into (or out of) broadcast fanout for
// unaddressed user messages. Off by default; never implicit.
type BroadcastControl struct {
	On *bool `json:"on"`
}

// DecodeControl extracts a ControlPayload from event content. Content may be
// a JSON object or a string containing one (some producers double-encode).
// Returns ok=false for anything else; callers treat that as a no-op.
func DecodeControl(content interface{}) (ControlPayload, bool) {
	var raw []byte
	switch c := content.(type) {
	case string:
		if !strings.HasPrefix(strings.TrimSpace(c), "{") {
			return ControlPayload{}, false
		}
		raw = []byte(c)
	case map[string]interface{}:
		b, err := json.Marshal(c)
		if err != nil {
			return ControlPayload{}, false
		}
		raw = b
	default:
		return ControlPayload{}, false
	}
	var p ControlPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ControlPayload{}, false
	}
	return p, true
}

// BoolOr resolves an optional flag with a default, used for control fields
// where absence means "enable".
func BoolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
