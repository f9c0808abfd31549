// Package localstore implements the store contract on a local disk
// directory. Local mutations emit their semantic events at operation time
// and register correlations so the reconciler swallows the echoed watch
// notifications; external changes to the same directory are reconciled into
// events by the engine.
package localstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wix/kiss-fs/internal/reconcile"
	"github.com/wix/kiss-fs/internal/watch"
	"github.com/wix/kiss-fs/pkg/correlation"
	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/models"
	"github.com/wix/kiss-fs/pkg/store"
	"github.com/wix/kiss-fs/pkg/treepath"
)

// Options configures a LocalStore.
type Options struct {
	// Retries, RetryInterval and NoiseWindow are passed to the
	// reconciliation engine; zero values select its defaults.
	Retries       int
	RetryInterval time.Duration
	NoiseWindow   time.Duration

	// CorrelationWindow bounds how long a local write's echo stays
	// suppressible. Zero selects correlation.DefaultWindow.
	CorrelationWindow time.Duration

	Logger *zap.Logger
}

// LocalStore is a disk-backed store rooted at a directory.
type LocalStore struct {
	root     string
	bus      *events.Broadcaster
	registry *correlation.Registry
	engine   *reconcile.Engine
	watcher  *watch.Watcher
	window   time.Duration
	log      *zap.Logger

	mu     sync.Mutex // serializes local mutations
	closed bool
}

var _ store.Store = (*LocalStore)(nil)

// New creates a store rooted at root (created if missing), primes the
// reconciler with the existing tree, and starts watching.
func New(root string, opts Options) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", abs, err)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &LocalStore{
		root:     abs,
		bus:      events.NewBroadcaster(),
		registry: correlation.NewRegistry(),
		window:   opts.CorrelationWindow,
		log:      log,
	}
	s.engine = reconcile.New(
		reconcile.ReaderFunc(s.readFile),
		s.registry,
		s.bus,
		reconcile.Options{
			Retries:       opts.Retries,
			RetryInterval: opts.RetryInterval,
			NoiseWindow:   opts.NoiseWindow,
			Logger:        log,
		},
	)

	if err := s.prime(); err != nil {
		return nil, err
	}

	s.watcher, err = watch.New(abs, s.engine.Process, log)
	if err != nil {
		return nil, err
	}
	if err := s.watcher.Start(); err != nil {
		return nil, fmt.Errorf("start watch: %w", err)
	}
	return s, nil
}

// prime seeds the engine with the tree as it exists now, so external
// changes to pre-existing entries are classified correctly.
func (s *LocalStore) prime() error {
	return filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel := s.rel(p)
		if rel == "" {
			return nil
		}
		if info.IsDir() {
			s.engine.PrimeDir(rel)
			return nil
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			s.log.Warn("cannot prime file", zap.String("path", rel), zap.Error(readErr))
			return nil
		}
		s.engine.Prime(rel, string(data))
		return nil
	})
}

func (s *LocalStore) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func (s *LocalStore) rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// readFile is the engine's read capability.
func (s *LocalStore) readFile(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(s.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%q: %w", path, store.ErrNotFound)
		}
		return "", err
	}
	return string(data), nil
}

// missingAncestors returns the directories along path's parent chain that
// do not exist yet, topmost first. Fails when a step exists as a file.
func (s *LocalStore) missingAncestors(path string) ([]string, error) {
	var missing []string
	for _, dir := range treepath.Ancestors(path) {
		info, err := os.Stat(s.abs(dir))
		switch {
		case err == nil && !info.IsDir():
			return nil, fmt.Errorf("%q: %w", dir, store.ErrPathIsDirectory)
		case err == nil:
		case os.IsNotExist(err):
			missing = append(missing, dir)
		default:
			return nil, fmt.Errorf("stat %s: %w", dir, err)
		}
	}
	return missing, nil
}

// SaveFile writes content atomically (temp file then rename), creating
// missing ancestors. Identical content is a no-op.
func (s *LocalStore) SaveFile(_ context.Context, path, content, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("file path required: %w", store.ErrInvalidPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.abs(path)
	info, err := os.Stat(target)
	existed := err == nil
	if existed && info.IsDir() {
		return "", fmt.Errorf("%q: %w", path, store.ErrPathIsDirectory)
	}
	if existed {
		old, readErr := os.ReadFile(target)
		if readErr == nil && string(old) == content {
			return correlationID, nil
		}
	}

	created, err := s.missingAncestors(path)
	if err != nil {
		return "", err
	}

	// Correlations are registered before the write so the notification
	// can never outrun them.
	for _, dir := range created {
		s.registry.Register(dir, correlationID, correlation.SnapDirCreated, s.window)
	}
	s.registry.Register(path, correlationID, content, s.window)

	if len(created) > 0 {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", fmt.Errorf("create dirs for %s: %w", path, err)
		}
	}
	if err := writeAtomic(target, content); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	for _, dir := range created {
		s.engine.PrimeDir(dir)
		ev, _ := events.NewDirectoryCreated(dir)
		s.bus.Publish(ev)
	}
	s.engine.Record(path, content)
	if existed {
		ev, _ := events.NewFileChanged(path, content)
		s.bus.Publish(ev)
	} else {
		ev, _ := events.NewFileCreated(path, content)
		s.bus.Publish(ev)
	}
	return correlationID, nil
}

// DeleteFile removes the file at path; deleting a missing file succeeds.
func (s *LocalStore) DeleteFile(_ context.Context, path, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("file path required: %w", store.ErrInvalidPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.abs(path))
	if os.IsNotExist(err) {
		return correlationID, nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotAFile)
	}

	s.registry.Register(path, correlationID, correlation.SnapFileDeleted, s.window)
	if err := os.Remove(s.abs(path)); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("delete %s: %w", path, err)
	}
	s.engine.Forget(path)

	ev, _ := events.NewFileDeleted(path)
	s.bus.Publish(ev)
	return correlationID, nil
}

// EnsureDirectory creates path and missing ancestors. Idempotent.
func (s *LocalStore) EnsureDirectory(_ context.Context, path, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return correlationID, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.abs(path))
	if err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
		}
		return correlationID, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	created, err := s.missingAncestors(path)
	if err != nil {
		return "", err
	}
	created = append(created, path)

	for _, dir := range created {
		s.registry.Register(dir, correlationID, correlation.SnapDirCreated, s.window)
	}
	if err := os.MkdirAll(s.abs(path), 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	for _, dir := range created {
		s.engine.PrimeDir(dir)
		ev, _ := events.NewDirectoryCreated(dir)
		s.bus.Publish(ev)
	}
	return correlationID, nil
}

// DeleteDirectory removes path; recursive deletions emit exactly one
// directoryDeleted for path.
func (s *LocalStore) DeleteDirectory(_ context.Context, path string, recursive bool, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if path == "" {
		return "", store.ErrCannotDeleteRoot
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.abs(path)
	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return correlationID, nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(entries) > 0 && !recursive {
		return "", fmt.Errorf("%q: %w", path, store.ErrDirectoryNotEmpty)
	}

	// Every removed path gets a correlation entry: the watch primitive
	// reports descendants individually, and each echo must be swallowed
	// so only this operation's single event is observed.
	walkErr := filepath.Walk(target, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel := s.rel(p)
		if rel == "" {
			return nil
		}
		if fi.IsDir() {
			s.registry.Register(rel, correlationID, correlation.SnapDirDeleted, s.window)
		} else {
			s.registry.Register(rel, correlationID, correlation.SnapFileDeleted, s.window)
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("walk %s: %w", path, walkErr)
	}
	s.registry.Register(path, correlationID, correlation.SnapDirDeleted, s.window)

	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("delete %s: %w", path, err)
	}
	s.engine.Forget(path)

	ev, _ := events.NewDirectoryDeleted(path)
	s.bus.Publish(ev)
	return correlationID, nil
}

// LoadTextFile returns the content of the file at path.
func (s *LocalStore) LoadTextFile(_ context.Context, path string) (string, error) {
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	info, err := os.Stat(s.abs(path))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotAFile)
	}
	data, err := os.ReadFile(s.abs(path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// LoadDirectoryTree returns the fully expanded tree rooted at path.
func (s *LocalStore) LoadDirectoryTree(_ context.Context, path string) (*models.Node, error) {
	if err := treepath.Validate(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.abs(path))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}
	return s.buildTree(path)
}

func (s *LocalStore) buildTree(path string) (*models.Node, error) {
	node := models.NewDir(path)
	entries, err := os.ReadDir(s.abs(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for _, entry := range entries {
		childPath := treepath.Join(path, entry.Name())
		if entry.IsDir() {
			child, err := s.buildTree(childPath)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		} else {
			node.Children = append(node.Children, models.NewFile(childPath))
		}
	}
	return node, nil
}

// LoadDirectoryChildren returns the direct children of path, directories
// shallow.
func (s *LocalStore) LoadDirectoryChildren(_ context.Context, path string) ([]*models.Node, error) {
	if err := treepath.Validate(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.abs(path))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}

	entries, err := os.ReadDir(s.abs(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := make([]*models.Node, 0, len(entries))
	for _, entry := range entries {
		childPath := treepath.Join(path, entry.Name())
		if entry.IsDir() {
			out = append(out, &models.Node{Type: models.TypeDir, Name: entry.Name(), Path: childPath})
		} else {
			out = append(out, models.NewFile(childPath))
		}
	}
	return out, nil
}

// Subscribe registers for events of the given kinds.
func (s *LocalStore) Subscribe(kinds ...string) chan events.Event {
	return s.bus.Subscribe(kinds...)
}

// Unsubscribe releases a subscription.
func (s *LocalStore) Unsubscribe(ch chan events.Event) {
	s.bus.Unsubscribe(ch)
}

// Close stops watching and reconciling. No events are emitted after Close
// returns.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.watcher.Close()
	s.engine.Close()
	s.bus.Close()
	return err
}

// writeAtomic writes content via a temp file and rename, so the watch
// primitive never observes a half-written target.
func writeAtomic(target, content string) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, watch.TempPrefix+"*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.WriteString(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
