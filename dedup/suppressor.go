// Package dedup implements windowed suppression of antenna read bursts.
// Fixed readers re-report a tag several times per second while it sits in
// the field; the suppressor keeps those bursts from reaching the
// enrichment path. A zero or negative window disables suppression while
// keeping the pipeline topology intact (the component simply never flags
// a read). Session-level product-key dedup remains the correctness
// guarantee; this is purely load shedding.
//
// Each station pipeline owns its own suppressor: the same tag is expected
// at different stations inside the window, and each sighting is a
// distinct movement.
package dedup

import (
	"sync"
	"sync/atomic"
	"time"

	"tagtrack/tagread"
)

// Suppressor drops repeat reads of the same (antenna, tag) pair inside a
// time window.
type Suppressor struct {
	window          time.Duration
	cleanupInterval time.Duration
	shutdown        chan struct{}
	stopOnce        sync.Once

	mu       sync.Mutex
	lastSeen map[uint64]time.Time

	processed  atomic.Uint64
	suppressed atomic.Uint64
}

// NewSuppressor creates a suppressor with the given window. The cleanup
// loop starts on the first call to Start.
func NewSuppressor(window time.Duration) *Suppressor {
	return &Suppressor{
		window:          window,
		cleanupInterval: time.Minute,
		shutdown:        make(chan struct{}),
		lastSeen:        make(map[uint64]time.Time),
	}
}

// Start launches the background cleanup loop that bounds the cache
// footprint. Safe to call once during startup; a no-op when the window is
// disabled.
func (s *Suppressor) Start() {
	if s.window <= 0 {
		return
	}
	go s.cleanupLoop()
}

// Stop signals the cleanup loop to exit. Idempotent.
func (s *Suppressor) Stop() {
	s.stopOnce.Do(func() { close(s.shutdown) })
}

// Suppress reports whether the event is a repeat read inside the window.
// Non-repeats refresh the cache entry so a tag parked in front of an
// antenna stays suppressed until it leaves the field for a full window.
func (s *Suppressor) Suppress(ev *tagread.Event) bool {
	if s == nil || ev == nil {
		return false
	}
	s.processed.Add(1)
	if s.window <= 0 {
		return false
	}
	key := ev.SuppressKey()
	at := ev.SeenAt()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.lastSeen[key]
	if ok {
		age := at.Sub(prev)
		if age < 0 {
			age = -age // out-of-order reads
		}
		if age < s.window {
			s.lastSeen[key] = at
			s.suppressed.Add(1)
			return true
		}
	}
	s.lastSeen[key] = at
	return false
}

// Stats returns processed/suppressed counters and the live cache size.
func (s *Suppressor) Stats() (processed, suppressed uint64, cacheSize int) {
	s.mu.Lock()
	cacheSize = len(s.lastSeen)
	s.mu.Unlock()
	return s.processed.Load(), s.suppressed.Load(), cacheSize
}

func (s *Suppressor) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.cleanup(time.Now().UTC())
		}
	}
}

func (s *Suppressor) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, seen := range s.lastSeen {
		if now.Sub(seen) > s.window {
			delete(s.lastSeen, key)
		}
	}
}
