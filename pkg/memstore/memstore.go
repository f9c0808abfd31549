// Package memstore provides the in-memory reference implementation of the
// store contract. It needs no reconciliation: all mutations happen through
// the façade, so semantic events are synthesized directly at operation time.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/wix/kiss-fs/pkg/correlation"
	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/models"
	"github.com/wix/kiss-fs/pkg/store"
	"github.com/wix/kiss-fs/pkg/treepath"
)

// MemStore is an in-memory store. Safe for concurrent use.
type MemStore struct {
	mu    sync.Mutex
	root  *models.Node
	files map[string]string
	bus   *events.Broadcaster
}

// New creates an empty in-memory store.
func New() *MemStore {
	return &MemStore{
		root:  models.NewDir(""),
		files: make(map[string]string),
		bus:   events.NewBroadcaster(),
	}
}

var _ store.Store = (*MemStore)(nil)

// find returns the node at path, or nil.
func (m *MemStore) find(path string) *models.Node {
	return models.FindByPath(m.root, path)
}

// ensureDirsLocked creates every missing directory along path (inclusive)
// and returns the created paths, topmost first. Fails if any step exists as
// a file.
func (m *MemStore) ensureDirsLocked(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	var created []string
	parent := m.root
	walked := ""
	for _, seg := range treepath.Segments(path) {
		walked = treepath.Join(walked, seg)
		node := parent.Child(seg)
		if node == nil {
			node = models.NewDir(walked)
			parent.Children = append(parent.Children, node)
			created = append(created, walked)
		} else if !node.IsDir() {
			return nil, fmt.Errorf("%q: %w", walked, store.ErrPathIsDirectory)
		}
		parent = node
	}
	return created, nil
}

// SaveFile writes content to path, creating missing ancestors. A save with
// content identical to the stored content is a no-op and emits nothing.
func (m *MemStore) SaveFile(_ context.Context, path, content, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("file path required: %w", store.ErrInvalidPath)
	}

	m.mu.Lock()
	if existing := m.find(path); existing != nil && existing.IsDir() {
		m.mu.Unlock()
		return "", fmt.Errorf("%q: %w", path, store.ErrPathIsDirectory)
	}
	if old, exists := m.files[path]; exists && old == content {
		m.mu.Unlock()
		return correlationID, nil
	}

	created, err := m.ensureDirsLocked(treepath.Parent(path))
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	_, existed := m.files[path]
	if !existed {
		parent := m.find(treepath.Parent(path))
		parent.Children = append(parent.Children, models.NewFile(path))
	}
	m.files[path] = content
	m.mu.Unlock()

	for _, dir := range created {
		m.publishDir(events.DirectoryCreated, dir)
	}
	if existed {
		ev, _ := events.NewFileChanged(path, content)
		m.bus.Publish(ev)
	} else {
		ev, _ := events.NewFileCreated(path, content)
		m.bus.Publish(ev)
	}
	return correlationID, nil
}

// DeleteFile removes the file at path. Deleting a missing file succeeds
// silently.
func (m *MemStore) DeleteFile(_ context.Context, path, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("file path required: %w", store.ErrInvalidPath)
	}

	m.mu.Lock()
	node := m.find(path)
	if node == nil {
		m.mu.Unlock()
		return correlationID, nil
	}
	if node.IsDir() {
		m.mu.Unlock()
		return "", fmt.Errorf("%q: %w", path, store.ErrNotAFile)
	}
	m.detachLocked(path)
	delete(m.files, path)
	m.mu.Unlock()

	ev, _ := events.NewFileDeleted(path)
	m.bus.Publish(ev)
	return correlationID, nil
}

// EnsureDirectory creates path and any missing ancestors. Idempotent.
func (m *MemStore) EnsureDirectory(_ context.Context, path, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}

	m.mu.Lock()
	if node := m.find(path); node != nil && !node.IsDir() {
		m.mu.Unlock()
		return "", fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}
	created, err := m.ensureDirsLocked(path)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	for _, dir := range created {
		m.publishDir(events.DirectoryCreated, dir)
	}
	return correlationID, nil
}

// DeleteDirectory removes path. A recursive delete emits exactly one
// directoryDeleted event for path, never one per descendant.
func (m *MemStore) DeleteDirectory(_ context.Context, path string, recursive bool, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if path == "" {
		return "", store.ErrCannotDeleteRoot
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}

	m.mu.Lock()
	node := m.find(path)
	if node == nil {
		m.mu.Unlock()
		return correlationID, nil
	}
	if !node.IsDir() {
		m.mu.Unlock()
		return "", fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}
	if len(node.Children) > 0 && !recursive {
		m.mu.Unlock()
		return "", fmt.Errorf("%q: %w", path, store.ErrDirectoryNotEmpty)
	}
	m.detachLocked(path)
	for p := range m.files {
		if treepath.IsAncestor(path, p) {
			delete(m.files, p)
		}
	}
	m.mu.Unlock()

	m.publishDir(events.DirectoryDeleted, path)
	return correlationID, nil
}

// LoadTextFile returns the content of the file at path.
func (m *MemStore) LoadTextFile(_ context.Context, path string) (string, error) {
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.find(path)
	if node == nil {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotFound)
	}
	if node.IsDir() {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotAFile)
	}
	return m.files[path], nil
}

// LoadDirectoryTree returns the fully expanded tree rooted at path.
func (m *MemStore) LoadDirectoryTree(_ context.Context, path string) (*models.Node, error) {
	if err := treepath.Validate(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.find(path)
	if node == nil {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotFound)
	}
	if !node.IsDir() {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}
	return node.Clone(), nil
}

// LoadDirectoryChildren returns the direct children of path; directories
// are shallow.
func (m *MemStore) LoadDirectoryChildren(_ context.Context, path string) ([]*models.Node, error) {
	if err := treepath.Validate(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.find(path)
	if node == nil {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotFound)
	}
	if !node.IsDir() {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}
	out := make([]*models.Node, 0, len(node.Children))
	for _, c := range node.Children {
		shallow := &models.Node{Type: c.Type, Name: c.Name, Path: c.Path}
		out = append(out, shallow)
	}
	return out, nil
}

// Subscribe registers for events of the given kinds.
func (m *MemStore) Subscribe(kinds ...string) chan events.Event {
	return m.bus.Subscribe(kinds...)
}

// Unsubscribe releases a subscription.
func (m *MemStore) Unsubscribe(ch chan events.Event) {
	m.bus.Unsubscribe(ch)
}

// Close drops all subscribers.
func (m *MemStore) Close() error {
	m.bus.Close()
	return nil
}

// detachLocked removes the node at path from its parent. Caller holds m.mu.
func (m *MemStore) detachLocked(path string) {
	parent := m.find(treepath.Parent(path))
	if parent == nil {
		return
	}
	name := treepath.Base(path)
	for i, c := range parent.Children {
		if c.Name == name {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}

func (m *MemStore) publishDir(kind, path string) {
	var ev events.Event
	if kind == events.DirectoryCreated {
		ev, _ = events.NewDirectoryCreated(path)
	} else {
		ev, _ = events.NewDirectoryDeleted(path)
	}
	m.bus.Publish(ev)
}
