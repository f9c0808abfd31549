package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wix/kiss-fs/internal/metrics"
	"github.com/wix/kiss-fs/pkg/correlation"
	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/retry"
	"github.com/wix/kiss-fs/pkg/store"
)

// laneBuffer is the per-path tick queue capacity. Ticks beyond it are
// dropped with a warning; the next genuine notification re-syncs the path.
const laneBuffer = 256

// Options configures an Engine.
type Options struct {
	// Retries and RetryInterval govern the read-retry policy for added
	// and changed ticks. Defaults: 3 attempts, 100ms apart.
	Retries       int
	RetryInterval time.Duration

	// NoiseWindow is how long an empty-content read is withheld before a
	// re-read, collapsing editor truncate-then-write bursts into one
	// event. Zero disables the window.
	NoiseWindow time.Duration

	Logger *zap.Logger
}

// Engine is the per-root reconciliation state machine. Ticks for different
// paths are processed concurrently; ticks for the same path are strictly
// ordered on a dedicated lane.
type Engine struct {
	reader   Reader
	registry *correlation.Registry
	bus      *events.Broadcaster
	opts     Options
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	lanes  map[string]chan Tick
	files  map[string]string // last content an event was emitted (or swallowed) for
	dirs   map[string]struct{}
	closed bool

	wg sync.WaitGroup
}

// New creates an engine emitting through bus. The engine queries registry to
// recognize echoes of local writes; it consumes entries but never creates
// them.
func New(reader Reader, registry *correlation.Registry, bus *events.Broadcaster, opts Options) *Engine {
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		reader:   reader,
		registry: registry,
		bus:      bus,
		opts:     opts,
		log:      opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		lanes:    make(map[string]chan Tick),
		files:    make(map[string]string),
		dirs:     make(map[string]struct{}),
	}
}

// Prime seeds the engine's last-known content for a file that existed
// before watching started, so a later external change is classified as
// fileChanged rather than fileCreated.
func (e *Engine) Prime(path, content string) {
	e.mu.Lock()
	e.files[path] = content
	e.mu.Unlock()
}

// PrimeDir seeds a directory that existed before watching started.
func (e *Engine) PrimeDir(path string) {
	e.mu.Lock()
	e.dirs[path] = struct{}{}
	e.mu.Unlock()
}

// Record updates the last-known state for a path mutated locally, keeping
// the dedupe cache in step with the façade's own writes.
func (e *Engine) Record(path, content string) { e.Prime(path, content) }

// Forget drops the last-known state for path and everything under it.
func (e *Engine) Forget(path string) {
	e.mu.Lock()
	e.purgeLocked(path)
	e.mu.Unlock()
}

// Process enqueues a tick on its path's lane. After Close, ticks are
// ignored.
func (e *Engine) Process(t Tick) {
	metrics.RecordTick(t.Kind)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	ch, ok := e.lanes[t.Path]
	if !ok {
		ch = make(chan Tick, laneBuffer)
		e.lanes[t.Path] = ch
		e.wg.Add(1)
		go e.runLane(ch)
	}
	e.mu.Unlock()

	select {
	case ch <- t:
	default:
		e.log.Warn("tick queue overflow, dropping tick",
			zap.String("kind", t.Kind), zap.String("path", t.Path))
	}
}

// Close stops all lanes and drops pending correlation state. No events are
// emitted after Close returns.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.registry.ExpireAll()
}

func (e *Engine) runLane(ch chan Tick) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case t := <-ch:
			e.handle(t)
		}
	}
}

// handle processes one tick. A failing tick never halts the engine: any
// fault is converted to a single unexpectedError event.
func (e *Engine) handle(t Tick) {
	defer func() {
		if r := recover(); r != nil {
			e.emitError(fmt.Errorf("tick %s %s: %v", t.Kind, t.Path, r))
		}
	}()

	switch t.Kind {
	case TickAdded, TickChanged:
		e.handleFileContent(t.Path)
	case TickUnlinked:
		e.handleFileUnlink(t.Path)
	case TickDirAdded:
		e.handleDirAdded(t.Path)
	case TickDirUnlinked:
		e.handleDirUnlinked(t.Path)
	default:
		e.log.Warn("unknown tick kind", zap.String("kind", t.Kind), zap.String("path", t.Path))
	}
}

func (e *Engine) handleFileContent(path string) {
	content, err := e.readWithRetry(path)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		// The file vanished between notification and read; the unlink
		// tick carries the deletion.
		return
	case errors.Is(err, context.Canceled):
		return
	default:
		e.emitError(fmt.Errorf("read %s: %w", path, err))
		return
	}

	if content == "" && e.opts.NoiseWindow > 0 {
		settled, ok := e.settleEmpty(path)
		if !ok {
			return
		}
		content = settled
	}

	if _, ok := e.registry.TryConsume(path, content); ok {
		metrics.RecordSuppressed("self")
		e.mu.Lock()
		e.files[path] = content
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	last, known := e.files[path]
	if known && last == content {
		e.mu.Unlock()
		metrics.RecordSuppressed("duplicate")
		return
	}
	e.files[path] = content
	e.mu.Unlock()

	if known {
		ev, err := events.NewFileChanged(path, content)
		if err != nil {
			e.emitError(err)
			return
		}
		e.emit(ev)
	} else {
		ev, err := events.NewFileCreated(path, content)
		if err != nil {
			e.emitError(err)
			return
		}
		e.emit(ev)
	}
}

// settleEmpty withholds an empty-content observation for the noise window
// and re-reads, so a truncate-then-write burst yields one event with the
// final content. Returns ok=false when the tick should be dropped.
func (e *Engine) settleEmpty(path string) (string, bool) {
	select {
	case <-e.ctx.Done():
		return "", false
	case <-time.After(e.opts.NoiseWindow):
	}

	content, err := e.reader.ReadFile(e.ctx, path)
	switch {
	case err == nil:
		if content != "" {
			metrics.RecordSuppressed("noise")
		}
		return content, true
	case errors.Is(err, store.ErrNotFound):
		// Truncated, then deleted. The unlink tick reports it.
		return "", false
	case errors.Is(err, context.Canceled):
		return "", false
	default:
		e.emitError(fmt.Errorf("read %s: %w", path, err))
		return "", false
	}
}

func (e *Engine) handleFileUnlink(path string) {
	if _, ok := e.registry.TryConsume(path, correlation.SnapFileDeleted); ok {
		metrics.RecordSuppressed("self")
		e.mu.Lock()
		delete(e.files, path)
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	_, known := e.files[path]
	delete(e.files, path)
	e.mu.Unlock()
	if !known {
		// Duplicate unlink, or a path this engine never observed.
		metrics.RecordSuppressed("duplicate")
		return
	}

	ev, err := events.NewFileDeleted(path)
	if err != nil {
		e.emitError(err)
		return
	}
	e.emit(ev)
}

func (e *Engine) handleDirAdded(path string) {
	if _, ok := e.registry.TryConsume(path, correlation.SnapDirCreated); ok {
		metrics.RecordSuppressed("self")
		e.mu.Lock()
		e.dirs[path] = struct{}{}
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	_, known := e.dirs[path]
	e.dirs[path] = struct{}{}
	e.mu.Unlock()
	if known {
		metrics.RecordSuppressed("duplicate")
		return
	}

	ev, err := events.NewDirectoryCreated(path)
	if err != nil {
		e.emitError(err)
		return
	}
	e.emit(ev)
}

func (e *Engine) handleDirUnlinked(path string) {
	if _, ok := e.registry.TryConsume(path, correlation.SnapDirDeleted); ok {
		metrics.RecordSuppressed("self")
		e.mu.Lock()
		e.purgeLocked(path)
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	_, known := e.dirs[path]
	e.purgeLocked(path)
	e.mu.Unlock()
	if !known {
		metrics.RecordSuppressed("duplicate")
		return
	}

	ev, err := events.NewDirectoryDeleted(path)
	if err != nil {
		e.emitError(err)
		return
	}
	e.emit(ev)
}

// purgeLocked drops path and every descendant from the known-state caches.
// Caller holds e.mu.
func (e *Engine) purgeLocked(path string) {
	delete(e.dirs, path)
	delete(e.files, path)
	prefix := path + "/"
	for p := range e.files {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			delete(e.files, p)
		}
	}
	for p := range e.dirs {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			delete(e.dirs, p)
		}
	}
}

// readWithRetry reads path, retrying not-found results for the configured
// attempts: the watch primitive may fire before a write settles, or the
// file may be mid-rename.
func (e *Engine) readWithRetry(path string) (string, error) {
	attempts := 0
	return retry.DoWithResult(e.ctx, retry.Config{
		Attempts: e.opts.Retries,
		Interval: e.opts.RetryInterval,
	}, func() (string, error) {
		attempts++
		if attempts > 1 {
			metrics.RecordReadRetry()
		}
		content, err := e.reader.ReadFile(e.ctx, path)
		if errors.Is(err, store.ErrNotFound) {
			return "", retry.Retryable(err)
		}
		return content, err
	})
}

func (e *Engine) emit(ev events.Event) {
	select {
	case <-e.ctx.Done():
		return
	default:
	}
	metrics.RecordEventEmitted(ev.Kind)
	e.bus.Publish(ev)
}

func (e *Engine) emitError(err error) {
	e.log.Error("reconciliation fault", zap.Error(err))
	ev, mkErr := events.NewUnexpectedError(err)
	if mkErr != nil {
		return
	}
	e.emit(ev)
}
