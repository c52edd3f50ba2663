package models

import "sort"

// Invitation records a participant's membership in a thread roster.
type Invitation struct {
	Profile      Profile `json:"profile"`
	InvitedBy    string  `json:"invited_by"`
	InvitedAtSeq uint64  `json:"invited_at_seq"`
}

type DiscussionState struct {
	On                 bool `json:"on"`
	AllowAgentMentions bool `json:"allow_agent_mentions"`
}

// ThreadState is the derived participation state of a thread: a pure
// function of the ordered event prefix, never persisted.
type ThreadState struct {
	Paused     bool                  `json:"paused"`
	Muted      map[string]struct{}   `json:"-"`
	Discussion DiscussionState       `json:"discussion"`
	Fanout     bool                  `json:"fanout"`
	Invited    map[string]Invitation `json:"invited"`
}

func NewThreadState() ThreadState {
	return ThreadState{
		Muted:   map[string]struct{}{},
		Invited: map[string]Invitation{},
	}
}

// Clone returns a deep copy with its own Muted and Invited maps, safe to
// hand to another goroutine while the receiver keeps folding events.
func (s ThreadState) Clone() ThreadState {
	out := s
	out.Muted = make(map[string]struct{}, len(s.Muted))
	for p := range s.Muted {
		out.Muted[p] = struct{}{}
	}
	out.Invited = make(map[string]Invitation, len(s.Invited))
	for id, inv := range s.Invited {
		out.Invited[id] = inv
	}
	return out
}

func (s ThreadState) IsMuted(participant string) bool {
	_, ok := s.Muted[participant]
	return ok
}

func (s ThreadState) IsInvited(participant string) bool {
	_, ok := s.Invited[participant]
	return ok
}

// MutedList returns the muted set as a sorted slice for stable JSON output.
func (s ThreadState) MutedList() []string {
	out := make([]string, 0, len(s.Muted))
	for p := range s.Muted {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
