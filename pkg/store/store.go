// Package store defines the uniform contract over hierarchical text-file
// stores: CRUD-style mutation, tree loading, and a subscription surface for
// semantic change events. Implementations exist for memory, local disk,
// Redis, and a remote proxy.
package store

import (
	"context"

	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/models"
)

// Store is implemented by every backing store. Mutating operations accept an
// optional caller-supplied correlation id ("" means generate one) and return
// the id actually used, so callers can tie later events back to their own
// writes. All operations validate their path before touching the backing
// layer.
type Store interface {
	// SaveFile writes content to path, creating missing ancestor
	// directories. Fails with ErrInvalidPath on an invalid or empty path
	// and ErrPathIsDirectory when path or an ancestor exists as the other
	// kind. Saving content identical to the stored content is a no-op
	// success that emits nothing.
	SaveFile(ctx context.Context, path, content, correlationID string) (string, error)

	// DeleteFile removes the file at path. Deleting a missing file is a
	// no-op success; deleting a directory fails with ErrNotAFile.
	DeleteFile(ctx context.Context, path, correlationID string) (string, error)

	// EnsureDirectory creates the directory at path and any missing
	// ancestors. Idempotent: re-ensuring an existing directory succeeds
	// and emits nothing.
	EnsureDirectory(ctx context.Context, path, correlationID string) (string, error)

	// DeleteDirectory removes the directory at path. Deleting the root
	// fails with ErrCannotDeleteRoot; a missing directory is a no-op
	// success; a file fails with ErrNotADirectory; a non-empty directory
	// without recursive fails with ErrDirectoryNotEmpty. A recursive
	// delete emits exactly one directoryDeleted for path.
	DeleteDirectory(ctx context.Context, path string, recursive bool, correlationID string) (string, error)

	// LoadTextFile returns the file's content, ErrNotFound if missing, or
	// ErrNotAFile if path names a directory.
	LoadTextFile(ctx context.Context, path string) (string, error)

	// LoadDirectoryTree returns the fully expanded tree rooted at path
	// (the root when path is "").
	LoadDirectoryTree(ctx context.Context, path string) (*models.Node, error)

	// LoadDirectoryChildren returns the direct children of path; child
	// directories are shallow (their own children are not expanded).
	LoadDirectoryChildren(ctx context.Context, path string) ([]*models.Node, error)

	// Subscribe registers for semantic events of the given kinds (all
	// kinds when empty), delivered in emission order.
	Subscribe(kinds ...string) chan events.Event

	// Unsubscribe releases a subscription channel.
	Unsubscribe(ch chan events.Event)

	// Close stops watching and releases resources. No events are emitted
	// after Close returns.
	Close() error
}
