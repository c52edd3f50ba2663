// Package projector derives a thread's participation state from its ordered
// event log. Folding is total: malformed or unauthorized control payloads are
// no-ops, never errors, so every consumer of the same prefix computes the
// same state.
package projector

import (
	"bridged/pkg/models"
)

// Apply folds a single event into st. Only control events change state.
func Apply(st *models.ThreadState, ev models.Event) {
	if ev.Type != models.TypeControl {
		return
	}
	p, ok := models.DecodeControl(ev.Content)
	if !ok {
		return
	}
	fromUser := ev.From == models.UserParticipant

	// Policy controls require user authority; roster controls do not.
	if p.Mute != nil && fromUser {
		mode := p.Mute.Mode
		if mode == "" || mode == "hard" {
			for _, t := range p.Mute.Targets {
				if t != "" {
					st.Muted[t] = struct{}{}
				}
			}
		}
	}
	if p.Unmute != nil && fromUser {
		for _, t := range p.Unmute.Targets {
			delete(st.Muted, t)
		}
	}
	if p.Pause != nil && fromUser {
		st.Paused = models.BoolOr(p.Pause.On, true)
	}
	if p.Discussion != nil && fromUser {
		on := models.BoolOr(p.Discussion.On, true)
		st.Discussion.On = on
		st.Discussion.AllowAgentMentions = models.BoolOr(p.Discussion.AllowAgentMentions, on)
	}
	if p.Broadcast != nil && fromUser {
		st.Fanout = models.BoolOr(p.Broadcast.On, true)
	}
	if p.Invite != nil && p.Invite.Participant != "" {
		inv, exists := st.Invited[p.Invite.Participant]
		if exists {
			inv.Profile = inv.Profile.Merge(p.Invite.Profile)
		} else {
			inv = models.Invitation{
				Profile:      p.Invite.Profile,
				InvitedBy:    ev.From,
				InvitedAtSeq: ev.Seq,
			}
		}
		st.Invited[p.Invite.Participant] = inv
	}
	if p.Uninvite != nil && p.Uninvite.Participant != "" {
		delete(st.Invited, p.Uninvite.Participant)
	}
}

// Project folds a full event slice into a fresh state. Equivalent to applying
// each event in order to NewThreadState.
func Project(events []models.Event) models.ThreadState {
	st := models.NewThreadState()
	for _, ev := range events {
		Apply(&st, ev)
	}
	return st
}
