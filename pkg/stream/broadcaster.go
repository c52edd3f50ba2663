// Package stream fans appended events out to live subscribers with a
// replay-then-live handover that neither drops nor duplicates events.
package stream

import (
	"sync"

	"bridged/pkg/logger"
	"bridged/pkg/models"
	"bridged/pkg/telemetry"
)

// ReadFunc reads stored events of a thread with Seq > sinceSeq.
type ReadFunc func(threadID string, sinceSeq uint64, limit int) ([]models.Event, error)

type Broadcaster struct {
	mu     sync.Mutex
	read   ReadFunc
	buffer int
	subs   map[string]map[*Subscription]struct{}
}

func New(read ReadFunc, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	return &Broadcaster{
		read:   read,
		buffer: buffer,
		subs:   map[string]map[*Subscription]struct{}{},
	}
}

// Subscription delivers one thread's events in seq order on Events().
type Subscription struct {
	bc       *Broadcaster
	threadID string

	live chan models.Event // raw feed from Publish
	out  chan models.Event // deduped feed to the consumer

	closeOnce sync.Once
	done      chan struct{}
}

// Events returns the subscriber channel. It is closed when the subscription
// ends, including teardown after overflow; consumers resume by re-subscribing
// from their last seen seq.
func (s *Subscription) Events() <-chan models.Event { return s.out }

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.bc.remove(s)
	})
}

// Subscribe attaches a subscriber to a thread at position sinceSeq. The
// subscriber is registered for live delivery first, then stored events with
// Seq > sinceSeq are replayed; events arriving on the live feed during replay
// are deduplicated by seq, so the consumer sees every event exactly once and
// in order.
func (b *Broadcaster) Subscribe(threadID string, sinceSeq uint64) (*Subscription, error) {
	sub := &Subscription{
		bc:       b,
		threadID: threadID,
		live:     make(chan models.Event, b.buffer),
		out:      make(chan models.Event, b.buffer),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	m := b.subs[threadID]
	if m == nil {
		m = map[*Subscription]struct{}{}
		b.subs[threadID] = m
	}
	m[sub] = struct{}{}
	b.mu.Unlock()
	telemetry.StreamSubscribers.Inc()

	replay, err := b.read(threadID, sinceSeq, 0)
	if err != nil {
		sub.Close()
		return nil, err
	}
	go sub.pump(replay, sinceSeq)
	return sub, nil
}

func (s *Subscription) pump(replay []models.Event, sinceSeq uint64) {
	defer close(s.out)
	last := sinceSeq
	deliver := func(ev models.Event) bool {
		if ev.Seq <= last {
			return true
		}
		select {
		case s.out <- ev:
			last = ev.Seq
			return true
		case <-s.done:
			return false
		}
	}
	for _, ev := range replay {
		if !deliver(ev) {
			return
		}
	}
	for {
		select {
		case ev, ok := <-s.live:
			if !ok {
				return
			}
			if !deliver(ev) {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Publish hands an appended event to every subscriber of its thread. Called
// from inside the store's append critical section, so it must never block: a
// subscriber whose buffer is full is torn down instead.
func (b *Broadcaster) Publish(ev models.Event) {
	b.mu.Lock()
	var overflowed []*Subscription
	for sub := range b.subs[ev.Thread] {
		select {
		case sub.live <- ev:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range overflowed {
		telemetry.SubscriberOverflows.Inc()
		logger.Warn("stream_subscriber_overflow", "thread", ev.Thread, "seq", ev.Seq)
		sub.Close()
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	if m := b.subs[sub.threadID]; m != nil {
		if _, ok := m[sub]; ok {
			delete(m, sub)
			telemetry.StreamSubscribers.Dec()
		}
		if len(m) == 0 {
			delete(b.subs, sub.threadID)
		}
	}
	b.mu.Unlock()
}
