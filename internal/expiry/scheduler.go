// Package expiry implements the timer-driven key deletion described in
// spec §4.7: one one-shot timer per SET ... PX, independent of any timer
// scheduled earlier or later for the same key.
package expiry

import (
	"sync"
	"time"

	"redis/internal/log"
	"redis/internal/storage"
)

// Scheduler spawns and tracks the per-key one-shot expiry timers. It
// deliberately does NOT cancel a previously-scheduled timer when a new one
// is scheduled for the same key: §9 documents that the reference behavior
// deletes the key unconditionally on fire, even if the value was overwritten
// (possibly with a new expiry, or none) in the meantime. An implementation
// wanting overwrite-survives-expiry semantics would tag timers with a
// generation counter instead; this one intentionally does not.
type Scheduler struct {
	ks *storage.Keyspace

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*time.Timer
}

func New(ks *storage.Keyspace) *Scheduler {
	return &Scheduler{
		ks:      ks,
		pending: make(map[int64]*time.Timer),
	}
}

// Schedule arranges for key to be removed from the Keyspace once d elapses.
func (s *Scheduler) Schedule(key string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	s.pending[id] = time.AfterFunc(d, func() {
		s.ks.ExpireNow(key)
		log.Debugf("expiry fired for key %q", key)

		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	})
}

// Stop cancels every timer still pending. Used on process shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}
