// Package suppress provides a store decorator that filters out the echoes of
// its own writes and collapses bursts of rapid changes to the same path. It
// composes in front of any store; the intended inner implementation is a
// remote proxy, whose server-side reconciler cannot see this process's
// correlation registry.
package suppress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wix/kiss-fs/internal/metrics"
	"github.com/wix/kiss-fs/pkg/correlation"
	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/models"
	"github.com/wix/kiss-fs/pkg/store"
	"github.com/wix/kiss-fs/pkg/treepath"
)

// Options configures a Suppressor.
type Options struct {
	// Window bounds how long a write's echo stays suppressible. Zero
	// selects correlation.DefaultWindow.
	Window time.Duration

	// DelayEvents, when positive, holds outgoing change events per path
	// for this duration; a newer event for the same path replaces the
	// held one, so a burst yields a single event carrying the final
	// content.
	DelayEvents time.Duration

	Logger *zap.Logger
}

type held struct {
	ev    events.Event
	timer *time.Timer
}

// Suppressor wraps a store with an independent feedback-suppression layer.
type Suppressor struct {
	inner    store.Store
	registry *correlation.Registry
	bus      *events.Broadcaster
	opts     Options
	log      *zap.Logger

	src chan events.Event
	wg  sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*held
	closed  bool
}

var _ store.Store = (*Suppressor)(nil)

// New wraps inner. The decorator owns inner: closing the decorator closes
// the inner store.
func New(inner store.Store, opts Options) *Suppressor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Suppressor{
		inner:    inner,
		registry: correlation.NewRegistry(),
		bus:      events.NewBroadcaster(),
		opts:     opts,
		log:      log,
		src:      inner.Subscribe(),
		pending:  make(map[string]*held),
	}
	s.wg.Add(1)
	go s.pump()
	return s
}

// pump filters and forwards the inner store's event stream.
func (s *Suppressor) pump() {
	defer s.wg.Done()
	for ev := range s.src {
		s.observe(ev)
	}
}

func (s *Suppressor) observe(ev events.Event) {
	if ev.Kind == events.UnexpectedError {
		s.bus.Publish(ev)
		return
	}
	if _, ok := s.registry.TryConsume(ev.Path, snapshotFor(ev)); ok {
		metrics.RecordSuppressed("decorator-echo")
		s.log.Debug("suppressed echo", zap.String("path", ev.Path), zap.String("kind", ev.Kind))
		return
	}
	if s.opts.DelayEvents <= 0 {
		s.bus.Publish(ev)
		return
	}
	s.hold(ev)
}

// hold delays ev; a newer event for the same path within the window takes
// its place. The window is fixed from the first event of the burst.
func (s *Suppressor) hold(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if h, ok := s.pending[ev.Path]; ok {
		metrics.RecordSuppressed("burst")
		h.ev = ev
		return
	}
	h := &held{ev: ev}
	h.timer = time.AfterFunc(s.opts.DelayEvents, func() { s.release(ev.Path) })
	s.pending[ev.Path] = h
}

func (s *Suppressor) release(path string) {
	s.mu.Lock()
	h, ok := s.pending[path]
	if ok {
		delete(s.pending, path)
	}
	closed := s.closed
	s.mu.Unlock()
	if ok && !closed {
		s.bus.Publish(h.ev)
	}
}

// snapshotFor maps an observed event onto the content snapshot a matching
// local write would have registered.
func snapshotFor(ev events.Event) string {
	switch ev.Kind {
	case events.FileCreated, events.FileChanged:
		return ev.Content
	case events.FileDeleted:
		return correlation.SnapFileDeleted
	case events.DirectoryCreated:
		return correlation.SnapDirCreated
	case events.DirectoryDeleted:
		return correlation.SnapDirDeleted
	}
	return ""
}

// registerAncestors covers implicit directory creation along path's parent
// chain. Entries for directories that already exist simply expire unmatched.
func (s *Suppressor) registerAncestors(path, id string) {
	for _, dir := range treepath.Ancestors(path) {
		s.registry.Register(dir, id, correlation.SnapDirCreated, s.opts.Window)
	}
}

// SaveFile writes through to the inner store, shielding subscribers from the
// write's echo.
func (s *Suppressor) SaveFile(ctx context.Context, path, content, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	s.registerAncestors(path, correlationID)
	s.registry.Register(path, correlationID, content, s.opts.Window)
	return s.inner.SaveFile(ctx, path, content, correlationID)
}

// DeleteFile writes through to the inner store.
func (s *Suppressor) DeleteFile(ctx context.Context, path, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	s.registry.Register(path, correlationID, correlation.SnapFileDeleted, s.opts.Window)
	return s.inner.DeleteFile(ctx, path, correlationID)
}

// EnsureDirectory writes through to the inner store.
func (s *Suppressor) EnsureDirectory(ctx context.Context, path, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	s.registerAncestors(path, correlationID)
	s.registry.Register(path, correlationID, correlation.SnapDirCreated, s.opts.Window)
	return s.inner.EnsureDirectory(ctx, path, correlationID)
}

// DeleteDirectory writes through to the inner store.
func (s *Suppressor) DeleteDirectory(ctx context.Context, path string, recursive bool, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if path == "" {
		return "", store.ErrCannotDeleteRoot
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	s.registry.Register(path, correlationID, correlation.SnapDirDeleted, s.opts.Window)
	return s.inner.DeleteDirectory(ctx, path, recursive, correlationID)
}

// LoadTextFile reads through to the inner store.
func (s *Suppressor) LoadTextFile(ctx context.Context, path string) (string, error) {
	return s.inner.LoadTextFile(ctx, path)
}

// LoadDirectoryTree reads through to the inner store.
func (s *Suppressor) LoadDirectoryTree(ctx context.Context, path string) (*models.Node, error) {
	return s.inner.LoadDirectoryTree(ctx, path)
}

// LoadDirectoryChildren reads through to the inner store.
func (s *Suppressor) LoadDirectoryChildren(ctx context.Context, path string) ([]*models.Node, error) {
	return s.inner.LoadDirectoryChildren(ctx, path)
}

// Subscribe registers for the filtered event stream.
func (s *Suppressor) Subscribe(kinds ...string) chan events.Event {
	return s.bus.Subscribe(kinds...)
}

// Unsubscribe releases a subscription.
func (s *Suppressor) Unsubscribe(ch chan events.Event) {
	s.bus.Unsubscribe(ch)
}

// Close stops the decorator and the inner store. Held events are dropped;
// no events are emitted after Close returns.
func (s *Suppressor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for path, h := range s.pending {
		h.timer.Stop()
		delete(s.pending, path)
	}
	s.mu.Unlock()

	err := s.inner.Close()
	s.wg.Wait()
	s.registry.ExpireAll()
	s.bus.Close()
	return err
}
