package stream

import (
	"fmt"
	"testing"
	"time"

	"bridged/pkg/models"
)

func mkEvents(thread string, from, to uint64) []models.Event {
	var out []models.Event
	for s := from; s <= to; s++ {
		out = append(out, models.Event{ID: fmt.Sprintf("evt-%d", s), Seq: s, Thread: thread, Type: models.TypeMessage})
	}
	return out
}

func staticRead(stored []models.Event) ReadFunc {
	return func(threadID string, sinceSeq uint64, limit int) ([]models.Event, error) {
		var out []models.Event
		for _, ev := range stored {
			if ev.Thread == threadID && ev.Seq > sinceSeq {
				out = append(out, ev)
			}
		}
		return out, nil
	}
}

func collect(t *testing.T, sub *Subscription, n int) []models.Event {
	t.Helper()
	var got []models.Event
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d of %d events", len(got), n)
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}

func TestReplayThenLive(t *testing.T) {
	stored := mkEvents("th1", 1, 3)
	bc := New(staticRead(stored), 16)

	sub, err := bc.Subscribe("th1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	bc.Publish(models.Event{ID: "evt-4", Seq: 4, Thread: "th1", Type: models.TypeMessage})

	got := collect(t, sub, 4)
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("out of order at %d: %+v", i, got)
		}
	}
}

func TestReplayLiveOverlapDeduplicates(t *testing.T) {
	stored := mkEvents("th1", 1, 3)
	bc := New(staticRead(stored), 16)

	sub, err := bc.Subscribe("th1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	// seq 3 arrives on the live feed as well as in the replay
	bc.Publish(stored[2])
	bc.Publish(models.Event{ID: "evt-4", Seq: 4, Thread: "th1", Type: models.TypeMessage})

	got := collect(t, sub, 4)
	seen := map[uint64]int{}
	for _, ev := range got {
		seen[ev.Seq]++
	}
	for s, n := range seen {
		if n != 1 {
			t.Fatalf("seq %d delivered %d times", s, n)
		}
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeSinceSkipsPrefix(t *testing.T) {
	stored := mkEvents("th1", 1, 5)
	bc := New(staticRead(stored), 16)

	sub, err := bc.Subscribe("th1", 3)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	got := collect(t, sub, 2)
	if got[0].Seq != 4 || got[1].Seq != 5 {
		t.Fatalf("since=3 should yield 4,5: %+v", got)
	}
}

func TestThreadsAreIsolated(t *testing.T) {
	bc := New(staticRead(nil), 16)
	sub, err := bc.Subscribe("th1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	bc.Publish(models.Event{ID: "evt-1", Seq: 1, Thread: "other", Type: models.TypeMessage})
	select {
	case ev := <-sub.Events():
		t.Fatalf("event from another thread leaked: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberIsTornDown(t *testing.T) {
	bc := New(staticRead(nil), 1)
	sub, err := bc.Subscribe("th1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// never read; overflow the live buffer
	for s := uint64(1); s <= 16; s++ {
		bc.Publish(models.Event{ID: fmt.Sprintf("evt-%d", s), Seq: s, Thread: "th1", Type: models.TypeMessage})
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return // closed as expected
			}
		case <-deadline:
			t.Fatalf("expected subscription teardown on overflow")
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bc := New(staticRead(nil), 4)
	sub, err := bc.Subscribe("th1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()
	sub.Close()
	bc.Publish(models.Event{ID: "evt-1", Seq: 1, Thread: "th1", Type: models.TypeMessage})
}
