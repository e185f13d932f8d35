package cache

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Key uniquely identifies one synthesis result: a sentence of one book
// rendered with one voice.
type Key struct {
	BookID   string
	Page     int
	Sentence int
	Voice    string
}

// State is the lifecycle of a cached clip.
type State int

const (
	StatePending State = iota
	StateReady
	StateFailed
)

// String returns the state as a short lowercase label.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Clip is one synthesized audio result. Values returned by the cache are
// copies of the entry header sharing the audio bytes; callers treat the
// audio as read-only.
type Clip struct {
	Key      Key
	Audio    []byte
	Duration time.Duration
	State    State
}

// Cache is the bounded clip store between the prefetcher and playback.
// Entries move Pending to Ready or Failed exactly once; eviction removes
// them entirely, so a late Put for an evicted key is a no-op.
type Cache struct {
	mu      sync.Mutex
	clips   map[Key]*Clip
	bytes   int64
	updates chan struct{}
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		clips:   make(map[Key]*Clip),
		updates: make(chan struct{}, 1),
	}
}

// Subscribe returns the coalescing change channel. A receive means clip
// state changed since the last look, nothing more.
func (c *Cache) Subscribe() <-chan struct{} {
	return c.updates
}

func (c *Cache) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// MarkPending records that synthesis for key has been scheduled and reports
// whether a new entry was created. An existing entry in any state is left
// alone, which keeps at most one synthesis in flight per key.
func (c *Cache) MarkPending(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.clips[key]; ok {
		return false
	}
	c.clips[key] = &Clip{Key: key, State: StatePending}
	return true
}

// Put transitions a Pending entry to Ready. Results for keys that were
// evicted or never scheduled are discarded.
func (c *Cache) Put(key Key, audio []byte, duration time.Duration) bool {
	c.mu.Lock()
	clip, ok := c.clips[key]
	if !ok || clip.State != StatePending {
		c.mu.Unlock()
		log.Debug("discarding late synthesis result", "page", key.Page, "sentence", key.Sentence)
		return false
	}
	clip.Audio = audio
	clip.Duration = duration
	clip.State = StateReady
	c.bytes += int64(len(audio))
	c.mu.Unlock()

	c.notify()
	return true
}

// MarkFailed transitions a Pending entry to Failed under the same rules as
// Put.
func (c *Cache) MarkFailed(key Key) bool {
	c.mu.Lock()
	clip, ok := c.clips[key]
	if !ok || clip.State != StatePending {
		c.mu.Unlock()
		return false
	}
	clip.State = StateFailed
	c.mu.Unlock()

	c.notify()
	return true
}

// Get returns the clip for key without blocking.
func (c *Cache) Get(key Key) (Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clip, ok := c.clips[key]
	if !ok {
		return Clip{}, false
	}
	return *clip, true
}

// Advance installs the live window: every cached entry whose key is not in
// keep is evicted. It returns the evicted keys that still had synthesis
// pending, so the in-flight work can be cancelled.
func (c *Cache) Advance(keep []Key) []Key {
	keepSet := make(map[Key]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}
	return c.evict(func(k Key) bool {
		_, ok := keepSet[k]
		return !ok
	})
}

// InvalidateBook evicts every clip belonging to one book and returns the
// keys that still had synthesis pending.
func (c *Cache) InvalidateBook(bookID string) []Key {
	return c.evict(func(k Key) bool {
		return k.BookID == bookID
	})
}

// InvalidateWhere evicts every clip whose key matches pred and returns the
// keys that still had synthesis pending.
func (c *Cache) InvalidateWhere(pred func(Key) bool) []Key {
	return c.evict(pred)
}

func (c *Cache) evict(pred func(Key) bool) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []Key
	for k, clip := range c.clips {
		if !pred(k) {
			continue
		}
		if clip.State == StatePending {
			pending = append(pending, k)
		}
		c.bytes -= int64(len(clip.Audio))
		delete(c.clips, k)
	}
	return pending
}

// Len returns the number of cached entries in any state.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clips)
}

// Bytes returns the total audio bytes held.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}
