// Package presence keeps a volatile, TTL-bounded view of who is alive in
// each thread. Nothing here is persisted: a restart empties the registry and
// everyone shows as offline until they report again.
package presence

import (
	"sort"
	"sync"
	"time"

	"bridged/pkg/models"
)

type entry struct {
	state     string
	updatedAt time.Time
	details   map[string]interface{}
}

type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	threads map[string]map[string]*entry
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &Registry{
		ttl:     ttl,
		now:     time.Now,
		threads: map[string]map[string]*entry{},
	}
}

// SetClock replaces the time source, for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *Registry) TTL() time.Duration { return r.ttl }

// Upsert records a participant's state in a thread. A nil details map keeps
// the previously reported details so participants can refresh liveness
// without resending their full status payload.
func (r *Registry) Upsert(threadID, participant, state string, details map[string]interface{}) {
	if threadID == "" || participant == "" {
		return
	}
	if state == "" {
		state = models.PresenceListening
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	th := r.threads[threadID]
	if th == nil {
		th = map[string]*entry{}
		r.threads[threadID] = th
	}
	e := th[participant]
	if e == nil {
		e = &entry{}
		th[participant] = e
	}
	e.state = state
	e.updatedAt = r.now()
	if details != nil {
		e.details = details
	}
}

// Snapshot returns the presence entries for a thread. Entries older than the
// TTL are reported as offline with stale=true but keep their last details.
// Live entries sort before stale ones, then by participant id.
func (r *Registry) Snapshot(threadID string) []models.PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	th := r.threads[threadID]
	if len(th) == 0 {
		return []models.PresenceEntry{}
	}
	now := r.now()
	out := make([]models.PresenceEntry, 0, len(th))
	for id, e := range th {
		pe := models.PresenceEntry{
			Participant: id,
			State:       e.state,
			UpdatedAt:   e.updatedAt,
			Details:     e.details,
		}
		if now.Sub(e.updatedAt) > r.ttl {
			pe.State = models.PresenceOffline
			pe.Stale = true
		}
		out = append(out, pe)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stale != out[j].Stale {
			return !out[i].Stale
		}
		return out[i].Participant < out[j].Participant
	})
	return out
}
