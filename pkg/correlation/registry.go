// Package correlation tracks in-flight local writes so that their echoes,
// arriving later through the raw watch primitive, can be told apart from
// genuinely external changes.
//
// Matching is by content equality rather than causal order: the watch
// primitive may fire before a write has flushed, in which case the stale
// read simply fails to match and the notification is re-checked later.
// An external change that happens to produce byte-identical content inside
// the window is misclassified as self-feedback; this is an accepted
// limitation of the approach.
package correlation

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel content snapshots for operations that carry no content. They use
// a NUL prefix so they can never collide with stored text.
const (
	SnapDirCreated  = "\x00dir-created"
	SnapDirDeleted  = "\x00dir-deleted"
	SnapFileDeleted = "\x00file-deleted"
)

// DefaultWindow is how long a pending write stays matchable when the caller
// does not specify a window.
const DefaultWindow = 5 * time.Second

// entry is one pending write awaiting its echoed notification.
type entry struct {
	id       string
	content  string
	deadline time.Time
}

// Registry holds pending write entries keyed by path. All methods are safe
// for concurrent use; register and consume are atomic with respect to each
// other so a racing notification cannot be misclassified.
type Registry struct {
	mu      sync.Mutex
	pending map[string][]entry
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string][]entry),
		now:     time.Now,
	}
}

// Register records a pending write of expectedContent to path. The entry
// expires after window (DefaultWindow when zero); an echo arriving later
// than that is treated as an ordinary external change.
func (r *Registry) Register(path, id, expectedContent string, window time.Duration) {
	if window <= 0 {
		window = DefaultWindow
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(r.now())
	r.pending[path] = append(r.pending[path], entry{
		id:       id,
		content:  expectedContent,
		deadline: r.now().Add(window),
	})
}

// TryConsume checks whether an observed notification for path matches a
// pending write. On match the entry is removed, so a burst of duplicate
// notifications consumes it at most once; later attempts report no match
// and are treated as external. Content equality is the tie-break when
// several correlation ids target the same path.
func (r *Registry) TryConsume(path, observedContent string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	live := r.pending[path][:0]
	matched := ""
	found := false
	for _, e := range r.pending[path] {
		if e.deadline.Before(now) {
			continue
		}
		if !found && e.content == observedContent {
			matched = e.id
			found = true
			continue
		}
		live = append(live, e)
	}
	if len(live) == 0 {
		delete(r.pending, path)
	} else {
		r.pending[path] = live
	}
	return matched, found
}

// PendingCount returns the number of live entries for path.
func (r *Registry) PendingCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	now := r.now()
	for _, e := range r.pending[path] {
		if !e.deadline.Before(now) {
			count++
		}
	}
	return count
}

// ExpireAll drops every pending entry without side effects. Used at
// shutdown.
func (r *Registry) ExpireAll() {
	r.mu.Lock()
	r.pending = make(map[string][]entry)
	r.mu.Unlock()
}

// sweepLocked removes expired entries across all paths, keeping memory
// bounded under long-idle registries. Caller holds the lock.
func (r *Registry) sweepLocked(now time.Time) {
	for path, entries := range r.pending {
		live := entries[:0]
		for _, e := range entries {
			if !e.deadline.Before(now) {
				live = append(live, e)
			}
		}
		if len(live) == 0 {
			delete(r.pending, path)
		} else {
			r.pending[path] = live
		}
	}
}

var idCounter uint64

// NewID generates a correlation id for callers that do not supply one.
func NewID() string {
	n := atomic.AddUint64(&idCounter, 1)
	return fmt.Sprintf("w%d-%04x", n, rand.Intn(0x10000))
}
