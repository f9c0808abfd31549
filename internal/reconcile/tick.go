// Package reconcile converts raw, noisy, possibly-duplicated watch
// notifications into a clean stream of semantic events: it retries unsettled
// reads, collapses duplicate and transient-empty notifications, and swallows
// the echoes of the local process's own writes.
package reconcile

import "context"

// Tick kinds delivered by the raw watch primitive. Files report added,
// changed and unlinked; directories report dirAdded and dirUnlinked.
const (
	TickAdded       = "added"
	TickChanged     = "changed"
	TickUnlinked    = "unlinked"
	TickDirAdded    = "dirAdded"
	TickDirUnlinked = "dirUnlinked"
)

// Tick is one raw notification for a single path. The engine assumes
// per-path FIFO delivery and nothing else: ticks may be duplicated, and a
// tick may arrive before the change it reports has settled on disk.
type Tick struct {
	Kind string
	Path string
}

// Reader is the abstract "read current content" capability. ReadFile
// returns store.ErrNotFound when the path does not exist at call time.
type Reader interface {
	ReadFile(ctx context.Context, path string) (string, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func(ctx context.Context, path string) (string, error)

func (f ReaderFunc) ReadFile(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}
