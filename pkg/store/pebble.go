package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"bridged/pkg/logger"
	"bridged/pkg/models"
	"bridged/pkg/utils"
)

// Key layout:
//   thread:<threadID>:meta                      -> models.Thread
//   thread:<threadID>:evt:<seq_padded>          -> models.Event
//   cursor:<consumer>:<threadID>                -> uint64 (decimal)
//   seen:<threadID>:<eventID>:<target>          -> unix seconds (decimal)
//
// Seq padding keeps pebble's byte order equal to append order.

var db *pebble.DB
var dbPath string

// ErrThreadNotFound is returned for operations on unknown thread ids.
var ErrThreadNotFound = errors.New("thread not found")

// publishHook, when set, is called for every appended event while the
// per-thread lock is still held, so delivery order matches append order.
var publishHook func(models.Event)

// threadLocks serializes appends per thread. Values are *sync.Mutex.
var threadLocks sync.Map

func lockThread(threadID string) *sync.Mutex {
	v, _ := threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// Path returns the path the DB was opened at ("" when closed).
func Path() string { return dbPath }

// SetPublishHook registers the post-append fanout callback. Must be called
// before traffic starts; not safe to swap while appends are in flight.
func SetPublishHook(fn func(models.Event)) {
	publishHook = fn
}

func metaKey(threadID string) []byte {
	return []byte("thread:" + threadID + ":meta")
}

func eventKey(threadID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("thread:%s:evt:%020d", threadID, seq))
}

func eventPrefix(threadID string) []byte {
	return []byte("thread:" + threadID + ":evt:")
}

func getThreadLocked(threadID string) (models.Thread, error) {
	v, closer, err := db.Get(metaKey(threadID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Thread{}, ErrThreadNotFound
		}
		return models.Thread{}, err
	}
	defer closer.Close()
	var th models.Thread
	if err := json.Unmarshal(v, &th); err != nil {
		return models.Thread{}, fmt.Errorf("corrupt thread meta for %s: %w", threadID, err)
	}
	return th, nil
}

// GetThread returns the index record for a thread.
func GetThread(threadID string) (models.Thread, error) {
	if db == nil {
		return models.Thread{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	return getThreadLocked(threadID)
}

// SaveThread writes the thread index record.
func SaveThread(th models.Thread) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	b, err := json.Marshal(th)
	if err != nil {
		return err
	}
	return db.Set(metaKey(th.ID), b, pebble.Sync)
}

// CreateThread allocates a thread id, persists the index record and appends
// the initial thread.created event in one go. Returns the created thread.
func CreateThread(name, author string) (models.Thread, error) {
	if db == nil {
		return models.Thread{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	id := utils.GenThreadID()
	now := time.Now().UTC().Unix()
	th := models.Thread{ID: id, Name: name, CreatedTS: now, UpdatedTS: now}
	if err := SaveThread(th); err != nil {
		return models.Thread{}, err
	}
	ev := models.Event{
		Thread:  id,
		Type:    models.TypeThreadCreated,
		From:    author,
		Content: map[string]interface{}{"name": name},
	}
	appended, err := AppendEvent(ev)
	if err != nil {
		return models.Thread{}, err
	}
	th.LastSeq = appended.Seq
	return th, nil
}

// AppendEvent assigns id/seq/ts and durably writes the event together with
// the updated thread meta in a single synced batch. The publish hook fires
// while the per-thread lock is held, so publish order equals append order.
func AppendEvent(ev models.Event) (models.Event, error) {
	if db == nil {
		return models.Event{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	mu := lockThread(ev.Thread)
	mu.Lock()
	defer mu.Unlock()

	th, err := getThreadLocked(ev.Thread)
	if err != nil {
		return models.Event{}, err
	}

	if ev.ID == "" {
		ev.ID = utils.GenEventID()
	}
	ev.Seq = th.LastSeq + 1
	if ev.TS == "" {
		ev.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}

	th.LastSeq = ev.Seq
	th.UpdatedTS = time.Now().UTC().Unix()
	switch ev.Type {
	case models.TypeThreadRenamed:
		if m, ok := ev.Content.(map[string]interface{}); ok {
			if n, ok := m["name"].(string); ok && n != "" {
				th.Name = n
			}
		}
	case models.TypeThreadCreated:
		if m, ok := ev.Content.(map[string]interface{}); ok {
			if n, ok := m["name"].(string); ok && n != "" {
				th.Name = n
			}
		}
	}

	evb, err := json.Marshal(ev)
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	thb, err := json.Marshal(th)
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to marshal thread meta: %w", err)
	}

	batch := db.NewBatch()
	defer batch.Close()
	if err := batch.Set(eventKey(ev.Thread, ev.Seq), evb, nil); err != nil {
		return models.Event{}, err
	}
	if err := batch.Set(metaKey(ev.Thread), thb, nil); err != nil {
		return models.Event{}, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("append_event_failed", "thread", ev.Thread, "seq", ev.Seq, "error", err)
		return models.Event{}, err
	}
	logger.Debug("event_appended", "thread", ev.Thread, "seq", ev.Seq, "type", ev.Type, "from", ev.From)

	if publishHook != nil {
		publishHook(ev)
	}
	return ev, nil
}

// ReadEvents returns events of a thread with Seq strictly greater than
// sinceSeq, in append order. limit <= 0 means no limit.
func ReadEvents(threadID string, sinceSeq uint64, limit int) ([]models.Event, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if _, err := GetThread(threadID); err != nil {
		return nil, err
	}
	prefix := eventPrefix(threadID)
	start := eventKey(threadID, sinceSeq+1)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Event
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var ev models.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("corrupt event at %s: %w", string(iter.Key()), err)
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListThreads returns all thread index records in creation order.
func ListThreads() ([]models.Thread, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Thread
	prefix := []byte("thread:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if !bytes.HasSuffix(k, []byte(":meta")) {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			logger.Warn("skipping_corrupt_thread_meta", "key", string(k), "error", err)
			continue
		}
		out = append(out, th)
	}
	// creation order; id breaks ties for threads created in the same second
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedTS != out[j].CreatedTS {
			return out[i].CreatedTS < out[j].CreatedTS
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RebuildIndex rescans each thread's event log and rewrites the index record
// (name, last seq) from what the log actually holds. Used at startup after an
// unclean shutdown and by the scheduled maintenance job.
func RebuildIndex() error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	threads, err := ListThreads()
	if err != nil {
		return err
	}
	for _, th := range threads {
		mu := lockThread(th.ID)
		mu.Lock()
		evs, err := ReadEvents(th.ID, 0, 0)
		if err != nil {
			mu.Unlock()
			return err
		}
		var last uint64
		name := th.Name
		for _, ev := range evs {
			last = ev.Seq
			if ev.Type == models.TypeThreadCreated || ev.Type == models.TypeThreadRenamed {
				if m, ok := ev.Content.(map[string]interface{}); ok {
					if n, ok := m["name"].(string); ok && n != "" {
						name = n
					}
				}
			}
		}
		if last != th.LastSeq || name != th.Name {
			th.LastSeq = last
			th.Name = name
			if err := SaveThread(th); err != nil {
				mu.Unlock()
				return err
			}
			logger.Info("thread_index_rebuilt", "thread", th.ID, "last_seq", last)
		}
		mu.Unlock()
	}
	return nil
}

// SaveCursor persists a consumer's resume position for a thread.
func SaveCursor(consumer, threadID string, seq uint64) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	key := []byte("cursor:" + consumer + ":" + threadID)
	return db.Set(key, []byte(fmt.Sprintf("%d", seq)), pebble.Sync)
}

// LoadCursor returns the persisted resume position, or (0, false) when the
// consumer has no cursor for the thread.
func LoadCursor(consumer, threadID string) (uint64, bool, error) {
	if db == nil {
		return 0, false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	key := []byte("cursor:" + consumer + ":" + threadID)
	v, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	defer closer.Close()
	var seq uint64
	if _, err := fmt.Sscanf(string(v), "%d", &seq); err != nil {
		return 0, false, fmt.Errorf("corrupt cursor %s: %w", string(key), err)
	}
	return seq, true, nil
}

// MarkSeen records that target was already dispatched for the given trigger
// event. Returns true when this call created the mark, false when the mark
// already existed (a duplicate dispatch that must be skipped).
func MarkSeen(threadID, eventID, target string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	key := []byte("seen:" + threadID + ":" + eventID + ":" + target)
	mu := lockThread("seen:" + threadID)
	mu.Lock()
	defer mu.Unlock()
	_, closer, err := db.Get(key)
	if err == nil {
		closer.Close()
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, err
	}
	val := []byte(fmt.Sprintf("%d", time.Now().UTC().Unix()))
	if err := db.Set(key, val, pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

// PruneSeen deletes idempotency marks older than maxAge and returns the
// number removed.
func PruneSeen(maxAge time.Duration) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	cutoff := time.Now().UTC().Add(-maxAge).Unix()
	prefix := []byte("seen:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	var stale [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var ts int64
		if _, err := fmt.Sscanf(string(iter.Value()), "%d", &ts); err != nil {
			continue
		}
		if ts < cutoff {
			stale = append(stale, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	for _, k := range stale {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return 0, err
		}
	}
	if len(stale) > 0 {
		logger.Info("seen_marks_pruned", "count", len(stale))
	}
	return len(stale), nil
}
