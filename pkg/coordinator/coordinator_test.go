package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"bridged/pkg/adapter"
	"bridged/pkg/models"
	"bridged/pkg/presence"
	"bridged/pkg/store"
	"bridged/pkg/stream"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []adapter.Payload
	reply string
	err   error
}

func (g *fakeGateway) Invoke(_ context.Context, target string, p adapter.Payload) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, p)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if g.reply != "" {
		return g.reply, nil
	}
	return "pong from " + target, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func openCoordStore(t *testing.T) *stream.Broadcaster {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	bc := stream.New(store.ReadEvents, 64)
	store.SetPublishHook(bc.Publish)
	t.Cleanup(func() {
		store.SetPublishHook(nil)
		_ = store.Close()
	})
	return bc
}

func appendOrFatal(t *testing.T, ev models.Event) models.Event {
	t.Helper()
	out, err := store.AppendEvent(ev)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return out
}

func inviteContent(id, nickname string) map[string]interface{} {
	profile := map[string]interface{}{}
	if nickname != "" {
		profile["nickname"] = nickname
	}
	return map[string]interface{}{
		"invite": map[string]interface{}{"participant_id": id, "profile": profile},
	}
}

func waitForReply(t *testing.T, threadID, from string) models.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		evs, err := store.ReadEvents(threadID, 0, 0)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for _, ev := range evs {
			if ev.From == from && ev.HasTag("coordinator") {
				return ev
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no coordinator reply from %q", from)
	return models.Event{}
}

func testOptions(gw adapter.Gateway, bc *stream.Broadcaster) Options {
	return Options{
		ID:             "bridge-coordinator",
		StartupMode:    StartResume,
		ContextWindow:  10,
		AdapterTimeout: 5 * time.Second,
		MaxReplySize:   64 * 1024,
		ThreadPoll:     20 * time.Millisecond,
		MentionPrefix:  "@",
		Gateway:        gw,
		Streams:        bc,
		Presence:       presence.NewRegistry(time.Minute),
	}
}

func TestDirectMessageTriggersOneReply(t *testing.T) {
	bc := openCoordStore(t)
	gw := &fakeGateway{reply: "pong"}
	c := New(testOptions(gw, bc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	th, err := store.CreateThread("t", models.UserParticipant)
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeControl, From: "user", Content: inviteContent("codex", "")})
	trigger := appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeMessage, From: "user", To: "codex", Content: "ping"})

	reply := waitForReply(t, th.ID, "codex")
	if reply.ContentText() != "pong" {
		t.Fatalf("unexpected reply content: %+v", reply)
	}
	if reply.Meta == nil || reply.Meta.ReplyTo != trigger.ID {
		t.Fatalf("reply must reference the trigger: %+v", reply.Meta)
	}
	if reply.Meta.Via != "bridge-coordinator" {
		t.Fatalf("reply must be marked as appended via the coordinator: %+v", reply.Meta)
	}
	if reply.To != models.ToAll {
		t.Fatalf("replies go to the whole thread: %+v", reply)
	}

	// settle, then verify the reply did not trigger more invocations
	time.Sleep(200 * time.Millisecond)
	if n := gw.callCount(); n != 1 {
		t.Fatalf("expected exactly one invocation, got %d", n)
	}

	snap := c.o.Presence.Snapshot(th.ID)
	if len(snap) != 1 || snap[0].Participant != "codex" || snap[0].State != models.PresenceListening {
		t.Fatalf("target should be listening after the invocation: %+v", snap)
	}
}

func TestDispatchSnapshotsRosterAtTrigger(t *testing.T) {
	bc := openCoordStore(t)
	gw := &fakeGateway{reply: "ok"}
	c := New(testOptions(gw, bc))

	th, _ := store.CreateThread("t", models.UserParticipant)
	st := models.NewThreadState()
	st.Invited["codex"] = models.Invitation{Profile: models.Profile{Nickname: "cdx"}}
	trigger := appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeMessage, From: "user", To: "codex", Content: "ping"})

	c.handleEvent(context.Background(), th.ID, &st, trigger)
	// the follow loop keeps folding roster changes while dispatches run
	st.Invited["codex"] = models.Invitation{Profile: models.Profile{Nickname: "renamed"}}
	st.Invited["claude"] = models.Invitation{}

	waitForReply(t, th.ID, "codex")
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.calls) != 1 {
		t.Fatalf("expected one invocation, got %d", len(gw.calls))
	}
	if nick := gw.calls[0].Target.Profile.Nickname; nick != "cdx" {
		t.Fatalf("payload must carry the roster as of the trigger, got nickname %q", nick)
	}
}

func TestMentionTriggersInvitedTarget(t *testing.T) {
	bc := openCoordStore(t)
	gw := &fakeGateway{}
	c := New(testOptions(gw, bc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	th, _ := store.CreateThread("t", models.UserParticipant)
	appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeControl, From: "user", Content: inviteContent("codex", "")})
	appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeMessage, From: "user", To: "all", Content: "hey @codex, thoughts?"})

	reply := waitForReply(t, th.ID, "codex")
	if reply.ContentText() == "" {
		t.Fatalf("empty reply: %+v", reply)
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.calls) != 1 || gw.calls[0].Target.ID != "codex" {
		t.Fatalf("unexpected invocations: %+v", gw.calls)
	}
	if gw.calls[0].Thread.ID != th.ID {
		t.Fatalf("payload thread mismatch: %+v", gw.calls[0].Thread)
	}
	if len(gw.calls[0].ContextWindow) == 0 {
		t.Fatalf("payload should carry a context window")
	}
}

func TestDuplicateDispatchIsIdempotent(t *testing.T) {
	bc := openCoordStore(t)
	gw := &fakeGateway{}
	c := New(testOptions(gw, bc))

	th, _ := store.CreateThread("t", models.UserParticipant)
	appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeControl, From: "user", Content: inviteContent("codex", "")})
	trigger := appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeMessage, From: "user", To: "codex", Content: "ping"})

	st := models.NewThreadState()
	st.Invited["codex"] = models.Invitation{}

	// simulate re-delivery of the same trigger after a resubscribe
	c.dispatch(context.Background(), th.ID, st, trigger, "codex")
	c.dispatch(context.Background(), th.ID, st, trigger, "codex")

	if n := gw.callCount(); n != 1 {
		t.Fatalf("duplicate trigger must be skipped, got %d invocations", n)
	}
	evs, _ := store.ReadEvents(th.ID, 0, 0)
	replies := 0
	for _, ev := range evs {
		if ev.From == "codex" {
			replies++
		}
	}
	if replies != 1 {
		t.Fatalf("expected one reply, got %d", replies)
	}
}

func TestAdapterFailureAppendsNothing(t *testing.T) {
	bc := openCoordStore(t)
	gw := &fakeGateway{err: fmt.Errorf("exit status 3")}
	c := New(testOptions(gw, bc))

	th, _ := store.CreateThread("t", models.UserParticipant)
	appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeControl, From: "user", Content: inviteContent("codex", "")})
	trigger := appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeMessage, From: "user", To: "codex", Content: "ping"})

	st := models.NewThreadState()
	st.Invited["codex"] = models.Invitation{}
	before, _ := store.ReadEvents(th.ID, 0, 0)
	c.dispatch(context.Background(), th.ID, st, trigger, "codex")
	after, _ := store.ReadEvents(th.ID, 0, 0)
	if len(after) != len(before) {
		t.Fatalf("failed invocation must not append: before=%d after=%d", len(before), len(after))
	}
	if gw.callCount() != 1 {
		t.Fatalf("adapter should have been invoked once")
	}
}

func TestWhitespaceReplyAppendsNothing(t *testing.T) {
	bc := openCoordStore(t)
	gw := &fakeGateway{reply: " \n\t "}
	c := New(testOptions(gw, bc))

	th, _ := store.CreateThread("t", models.UserParticipant)
	appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeControl, From: "user", Content: inviteContent("codex", "")})
	trigger := appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeMessage, From: "user", To: "codex", Content: "ping"})

	st := models.NewThreadState()
	st.Invited["codex"] = models.Invitation{}
	before, _ := store.ReadEvents(th.ID, 0, 0)
	c.dispatch(context.Background(), th.ID, st, trigger, "codex")
	after, _ := store.ReadEvents(th.ID, 0, 0)
	if len(after) != len(before) {
		t.Fatalf("blank reply must be treated as a failure: before=%d after=%d", len(before), len(after))
	}
}

func TestReplyTruncation(t *testing.T) {
	bc := openCoordStore(t)
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	gw := &fakeGateway{reply: string(long)}
	opts := testOptions(gw, bc)
	opts.MaxReplySize = 100
	c := New(opts)

	th, _ := store.CreateThread("t", models.UserParticipant)
	appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeControl, From: "user", Content: inviteContent("codex", "")})
	trigger := appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeMessage, From: "user", To: "codex", Content: "ping"})

	st := models.NewThreadState()
	st.Invited["codex"] = models.Invitation{}
	c.dispatch(context.Background(), th.ID, st, trigger, "codex")

	reply := waitForReply(t, th.ID, "codex")
	text := reply.ContentText()
	if len(text) > 100 {
		t.Fatalf("reply not truncated: %d bytes", len(text))
	}
	if !contains(text, "[truncated]") {
		t.Fatalf("truncated reply must carry the marker: %q", text)
	}
}

func TestTruncatePreservesRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 200)
	for max := 30; max < 40; max++ {
		got := truncate(s, max)
		if len(got) > max {
			t.Fatalf("max=%d: truncated to %d bytes", max, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("max=%d: truncation split a rune: %q", max, got)
		}
		if !strings.HasSuffix(got, truncationMarker) {
			t.Fatalf("max=%d: marker missing: %q", max, got)
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestResolveTargetsRules(t *testing.T) {
	c := New(Options{ID: "bridge-coordinator", MentionPrefix: "@"})
	st := models.NewThreadState()
	st.Invited["codex"] = models.Invitation{}
	st.Invited["claude"] = models.Invitation{}

	// direct to invited
	got := c.resolveTargets(&st, models.Event{Type: models.TypeMessage, From: "user", To: "codex"})
	if len(got) != 1 || got[0] != "codex" {
		t.Fatalf("direct address: %v", got)
	}
	// direct to non-invited
	got = c.resolveTargets(&st, models.Event{Type: models.TypeMessage, From: "user", To: "ghost"})
	if got != nil {
		t.Fatalf("non-invited addressee must drop: %v", got)
	}
	// direct to muted
	st.Muted["codex"] = struct{}{}
	got = c.resolveTargets(&st, models.Event{Type: models.TypeMessage, From: "user", To: "codex"})
	if got != nil {
		t.Fatalf("muted addressee must drop: %v", got)
	}
	delete(st.Muted, "codex")

	// user mention
	got = c.resolveTargets(&st, models.Event{Type: models.TypeMessage, From: "user", To: "all", Content: "@codex hi"})
	if len(got) != 1 || got[0] != "codex" {
		t.Fatalf("user mention: %v", got)
	}

	// agent mention requires discussion mode
	ev := models.Event{Type: models.TypeMessage, From: "claude", To: "all", Content: "@codex hi"}
	if got = c.resolveTargets(&st, ev); got != nil {
		t.Fatalf("agent mention without discussion mode must drop: %v", got)
	}
	st.Discussion.On = true
	st.Discussion.AllowAgentMentions = true
	got = c.resolveTargets(&st, ev)
	if len(got) != 1 || got[0] != "codex" {
		t.Fatalf("agent mention in discussion mode: %v", got)
	}

	// self-mention never dispatches back to the sender
	got = c.resolveTargets(&st, models.Event{Type: models.TypeMessage, From: "codex", To: "all", Content: "@codex hi"})
	if got != nil {
		t.Fatalf("self mention must drop: %v", got)
	}

	// fanout only when opted in and user-authored
	st.Discussion.On = false
	st.Discussion.AllowAgentMentions = false
	got = c.resolveTargets(&st, models.Event{Type: models.TypeMessage, From: "user", To: "all", Content: "no mentions"})
	if got != nil {
		t.Fatalf("no fanout without opt-in: %v", got)
	}
	st.Fanout = true
	got = c.resolveTargets(&st, models.Event{Type: models.TypeMessage, From: "user", To: "all", Content: "no mentions"})
	if len(got) != 2 || got[0] != "claude" || got[1] != "codex" {
		t.Fatalf("fanout should target the whole roster sorted: %v", got)
	}
	got = c.resolveTargets(&st, models.Event{Type: models.TypeMessage, From: "claude", To: "all", Content: "no mentions"})
	if got != nil {
		t.Fatalf("fanout is user-only: %v", got)
	}
}

func TestSeedCursorStartupModes(t *testing.T) {
	bc := openCoordStore(t)
	th, _ := store.CreateThread("t", models.UserParticipant)
	appendOrFatal(t, models.Event{Thread: th.ID, Type: models.TypeMessage, From: "user", Content: "backlog"})

	// end: skip the backlog and persist the position
	cEnd := New(testOptions(&fakeGateway{}, bc))
	cEnd.o.StartupMode = StartEnd
	cur, err := cEnd.seedCursor(th.ID)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if cur != 2 {
		t.Fatalf("end mode should seed at last seq, got %d", cur)
	}
	if saved, ok, _ := store.LoadCursor(cEnd.o.ID, th.ID); !ok || saved != 2 {
		t.Fatalf("end mode must persist the seeded cursor: %d %v", saved, ok)
	}

	// resume with no cursor: process the backlog
	cResume := New(testOptions(&fakeGateway{}, bc))
	cResume.o.ID = "other-coordinator"
	cur, err = cResume.seedCursor(th.ID)
	if err != nil || cur != 0 {
		t.Fatalf("resume mode should start at 0: %d %v", cur, err)
	}

	// a persisted cursor always wins over the startup mode
	if err := store.SaveCursor(cResume.o.ID, th.ID, 1); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	cur, err = cResume.seedCursor(th.ID)
	if err != nil || cur != 1 {
		t.Fatalf("existing cursor should win: %d %v", cur, err)
	}
}

func TestPausedThreadDispatchesNothing(t *testing.T) {
	bc := openCoordStore(t)
	gw := &fakeGateway{}
	c := New(testOptions(gw, bc))

	th, _ := store.CreateThread("t", models.UserParticipant)
	st := models.NewThreadState()
	st.Invited["codex"] = models.Invitation{}
	st.Paused = true

	c.handleEvent(context.Background(), th.ID, &st, models.Event{
		ID: "evt-x", Seq: 9, Thread: th.ID, Type: models.TypeMessage, From: "user", To: "codex", Content: "ping",
	})
	time.Sleep(100 * time.Millisecond)
	if n := gw.callCount(); n != 0 {
		t.Fatalf("paused thread must not dispatch, got %d", n)
	}
}

func TestCoordinatorMessagesNeverTrigger(t *testing.T) {
	c := New(Options{ID: "bridge-coordinator", MentionPrefix: "@"})
	st := models.NewThreadState()
	st.Invited["codex"] = models.Invitation{}

	// addressed to the user
	if got := c.resolveTargets(&st, models.Event{Type: models.TypeMessage, From: "codex", To: "codex"}); got != nil {
		t.Fatalf("self-addressed: %v", got)
	}
	gw := &fakeGateway{}
	opts := testOptions(gw, nil)
	c2 := New(opts)
	c2.handleEvent(context.Background(), "th", &st, models.Event{ID: "e1", Type: models.TypeMessage, From: "codex", To: models.UserParticipant, Content: "x"})
	c2.handleEvent(context.Background(), "th", &st, models.Event{ID: "e2", Type: models.TypeMessage, From: "bridge-coordinator", To: "all", Content: "@codex"})
	c2.handleEvent(context.Background(), "th", &st, models.Event{ID: "e3", Type: models.TypeControl, From: "user", Content: map[string]interface{}{"pause": map[string]interface{}{}}})
	viaMeta := &models.Meta{ReplyTo: "e0", Tags: []string{"coordinator"}, Via: "bridge-coordinator"}
	c2.handleEvent(context.Background(), "th", &st, models.Event{ID: "e4", Type: models.TypeMessage, From: "codex", To: "all", Content: "@claude", Meta: viaMeta})
	time.Sleep(100 * time.Millisecond)
	if n := gw.callCount(); n != 0 {
		t.Fatalf("non-trigger events dispatched %d times", n)
	}
}
