// Package coordinator watches thread logs and invokes participant adapters
// when a message addresses them. It is an in-process consumer of the same
// durable log the HTTP API serves: per-thread runners subscribe at their
// persisted cursor, fold participation state incrementally, and append
// adapter replies back into the log.
package coordinator

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"bridged/pkg/adapter"
	"bridged/pkg/logger"
	"bridged/pkg/models"
	"bridged/pkg/presence"
	"bridged/pkg/projector"
	"bridged/pkg/store"
	"bridged/pkg/stream"
	"bridged/pkg/telemetry"
)

// StartupMode values. "end" skips any backlog present before the first run;
// "resume" processes it.
const (
	StartEnd    = "end"
	StartResume = "resume"
)

const truncationMarker = "\n\n[truncated]\n"

type Options struct {
	ID             string
	StartupMode    string
	ContextWindow  int
	AdapterTimeout time.Duration
	MaxReplySize   int
	ThreadPoll     time.Duration
	MentionPrefix  string

	Gateway  adapter.Gateway
	Streams  *stream.Broadcaster
	Presence *presence.Registry
}

type Coordinator struct {
	o Options

	mu      sync.Mutex
	running map[string]struct{}

	// dispatchLocks serializes adapter invocations per (thread, target) so a
	// slow participant never runs twice concurrently in the same thread.
	dispatchLocks sync.Map

	wg sync.WaitGroup
}

func New(o Options) *Coordinator {
	if o.ID == "" {
		o.ID = "bridge-coordinator"
	}
	if o.StartupMode == "" {
		o.StartupMode = StartEnd
	}
	if o.ContextWindow <= 0 {
		o.ContextWindow = 25
	}
	if o.AdapterTimeout <= 0 {
		o.AdapterTimeout = 10 * time.Minute
	}
	if o.MaxReplySize <= 0 {
		o.MaxReplySize = 64 * 1024
	}
	if o.ThreadPoll <= 0 {
		o.ThreadPoll = 5 * time.Second
	}
	if o.MentionPrefix == "" {
		o.MentionPrefix = "@"
	}
	return &Coordinator{o: o, running: map[string]struct{}{}}
}

// Start launches the thread manager and returns. Runners stop when ctx is
// cancelled; Wait blocks until they have drained.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.manage(ctx)
	logger.Info("coordinator_started", "id", c.o.ID, "startup_mode", c.o.StartupMode)
}

// Wait blocks until all runners have exited after Start's ctx is cancelled.
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) manage(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.o.ThreadPoll)
	defer ticker.Stop()
	for {
		threads, err := store.ListThreads()
		if err != nil {
			logger.Error("coordinator_list_threads_failed", "error", err)
		} else {
			for _, th := range threads {
				c.ensureRunner(ctx, th.ID)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) ensureRunner(ctx context.Context, threadID string) {
	c.mu.Lock()
	if _, ok := c.running[threadID]; ok {
		c.mu.Unlock()
		return
	}
	c.running[threadID] = struct{}{}
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runThread(ctx, threadID)
	}()
}

// runThread is the per-thread event loop. It seeds a cursor, folds the
// committed prefix into a state, then follows the live stream, advancing the
// cursor only after each event has been fully handled. A torn-down
// subscription (slow consumer) is re-established at the cursor, so no event
// is lost and idempotency marks absorb any re-delivery.
func (c *Coordinator) runThread(ctx context.Context, threadID string) {
	cursor, err := c.seedCursor(threadID)
	if err != nil {
		logger.Error("coordinator_seed_cursor_failed", "thread", threadID, "error", err)
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		st, err := c.projectPrefix(threadID, cursor)
		if err != nil {
			logger.Error("coordinator_project_failed", "thread", threadID, "error", err)
			return
		}
		sub, err := c.o.Streams.Subscribe(threadID, cursor)
		if err != nil {
			logger.Error("coordinator_subscribe_failed", "thread", threadID, "error", err)
			return
		}
		resub := c.follow(ctx, threadID, &st, sub, &cursor)
		sub.Close()
		if !resub {
			return
		}
		logger.Warn("coordinator_resubscribing", "thread", threadID, "cursor", cursor)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (c *Coordinator) follow(ctx context.Context, threadID string, st *models.ThreadState, sub *stream.Subscription, cursor *uint64) (resubscribe bool) {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return true
			}
			projector.Apply(st, ev)
			c.handleEvent(ctx, threadID, st, ev)
			*cursor = ev.Seq
			if err := store.SaveCursor(c.o.ID, threadID, ev.Seq); err != nil {
				logger.Error("coordinator_save_cursor_failed", "thread", threadID, "error", err)
			}
		}
	}
}

func (c *Coordinator) seedCursor(threadID string) (uint64, error) {
	cur, ok, err := store.LoadCursor(c.o.ID, threadID)
	if err != nil {
		return 0, err
	}
	if ok {
		return cur, nil
	}
	if c.o.StartupMode == StartResume {
		return 0, nil
	}
	th, err := store.GetThread(threadID)
	if err != nil {
		return 0, err
	}
	if err := store.SaveCursor(c.o.ID, threadID, th.LastSeq); err != nil {
		return 0, err
	}
	return th.LastSeq, nil
}

func (c *Coordinator) projectPrefix(threadID string, upTo uint64) (models.ThreadState, error) {
	st := models.NewThreadState()
	if upTo == 0 {
		return st, nil
	}
	evs, err := store.ReadEvents(threadID, 0, 0)
	if err != nil {
		return st, err
	}
	for _, ev := range evs {
		if ev.Seq > upTo {
			break
		}
		projector.Apply(&st, ev)
	}
	return st, nil
}

// handleEvent decides which invited participants the event addresses and
// dispatches an adapter invocation for each. The decision runs against the
// state as of this event; dispatches themselves run concurrently.
func (c *Coordinator) handleEvent(ctx context.Context, threadID string, st *models.ThreadState, ev models.Event) {
	if ev.Type != models.TypeMessage {
		return
	}
	if ev.From == c.o.ID || ev.From == "" {
		return
	}
	// Replies appended on a participant's behalf never trigger that loop's
	// own machinery twice.
	if ev.Meta != nil && ev.Meta.Via == c.o.ID {
		return
	}
	if ev.To == models.UserParticipant {
		return
	}
	if st.Paused {
		return
	}

	targets := c.resolveTargets(st, ev)
	if len(targets) == 0 {
		return
	}

	trigger := ev
	// deep copy: the follow loop keeps mutating st's maps while dispatches run
	snapshot := st.Clone()
	for _, target := range targets {
		t := target
		go c.dispatch(ctx, threadID, snapshot, trigger, t)
	}
}

// resolveTargets applies the addressing rules:
//   - a direct addressee is targeted iff invited
//   - unaddressed messages target mentioned participants when the sender may
//     mention (always for the user, agents only in discussion mode with
//     allow_agent_mentions)
//   - with no mentions, a user message fans out to the whole roster only when
//     the thread opted into broadcast
func (c *Coordinator) resolveTargets(st *models.ThreadState, ev models.Event) []string {
	fromUser := ev.From == models.UserParticipant
	if ev.To != "" && ev.To != models.ToAll {
		if !st.IsInvited(ev.To) || ev.To == ev.From {
			return nil
		}
		if st.IsMuted(ev.To) {
			return nil
		}
		return []string{ev.To}
	}

	allowMentions := fromUser || (st.Discussion.On && st.Discussion.AllowAgentMentions)
	var targets []string
	if allowMentions {
		for _, m := range ExtractMentions(ev.Content, c.o.MentionPrefix) {
			id, ok := ResolveMention(m, st.Invited)
			if !ok {
				continue
			}
			if id == ev.From || id == c.o.ID || st.IsMuted(id) {
				continue
			}
			targets = append(targets, id)
		}
	}
	if len(targets) > 0 {
		return targets
	}

	if fromUser && st.Fanout {
		for _, id := range invitedIDs(st) {
			if id == ev.From || st.IsMuted(id) {
				continue
			}
			targets = append(targets, id)
		}
	}
	return targets
}

func invitedIDs(st *models.ThreadState) []string {
	out := make([]string, 0, len(st.Invited))
	for id := range st.Invited {
		out = append(out, id)
	}
	// stable dispatch order
	sort.Strings(out)
	return out
}

func (c *Coordinator) dispatch(ctx context.Context, threadID string, st models.ThreadState, trigger models.Event, target string) {
	v, _ := c.dispatchLocks.LoadOrStore(threadID+"\x00"+target, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	created, err := store.MarkSeen(threadID, trigger.ID, target)
	if err != nil {
		logger.Error("coordinator_mark_seen_failed", "thread", threadID, "event", trigger.ID, "target", target, "error", err)
		return
	}
	if !created {
		logger.Debug("coordinator_duplicate_skipped", "thread", threadID, "event", trigger.ID, "target", target)
		return
	}

	payload, err := c.buildPayload(threadID, st, trigger, target)
	if err != nil {
		logger.Error("coordinator_payload_failed", "thread", threadID, "target", target, "error", err)
		return
	}

	if c.o.Presence != nil {
		c.o.Presence.Upsert(threadID, target, models.PresenceThinking, nil)
		defer c.o.Presence.Upsert(threadID, target, models.PresenceListening, nil)
	}

	ictx, cancel := context.WithTimeout(ctx, c.o.AdapterTimeout)
	defer cancel()
	logger.Info("coordinator_invoke", "thread", threadID, "event", trigger.ID, "target", target)
	reply, err := c.o.Gateway.Invoke(ictx, target, payload)
	if err == nil {
		reply = strings.TrimSpace(truncate(reply, c.o.MaxReplySize))
		if reply == "" {
			err = errors.New("adapter reply was empty")
		}
	}
	if err != nil {
		telemetry.AdapterInvocations.WithLabelValues(target, "error").Inc()
		logger.Error("coordinator_adapter_failed", "thread", threadID, "event", trigger.ID, "target", target, "error", err)
		return
	}
	telemetry.AdapterInvocations.WithLabelValues(target, "ok").Inc()
	out := models.Event{
		Thread:  threadID,
		Type:    models.TypeMessage,
		From:    target,
		To:      models.ToAll,
		Content: reply,
		Meta:    &models.Meta{ReplyTo: trigger.ID, Tags: []string{"coordinator"}, Via: c.o.ID},
	}
	if _, err := store.AppendEvent(out); err != nil {
		logger.Error("coordinator_append_reply_failed", "thread", threadID, "target", target, "error", err)
	}
}

func (c *Coordinator) buildPayload(threadID string, st models.ThreadState, trigger models.Event, target string) (adapter.Payload, error) {
	var p adapter.Payload
	th, err := store.GetThread(threadID)
	if err != nil {
		return p, err
	}
	evs, err := store.ReadEvents(threadID, 0, 0)
	if err != nil {
		return p, err
	}
	if n := c.o.ContextWindow; len(evs) > n {
		evs = evs[len(evs)-n:]
	}
	p.Thread.ID = th.ID
	p.Thread.Name = th.Name
	p.Trigger = trigger
	p.ContextWindow = evs
	p.Target.ID = target
	p.Target.Profile = st.Invited[target].Profile
	return p, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	// never split a rune at the cut point
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}
