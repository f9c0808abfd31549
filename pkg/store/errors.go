package store

import (
	"errors"

	"github.com/wix/kiss-fs/pkg/treepath"
)

// The error taxonomy shared by all store implementations. Validation
// failures are returned synchronously to the caller and are never emitted
// as events; faults that arise while reconciling a notification surface
// only as an unexpectedError event.
var (
	// ErrInvalidPath is treepath.ErrInvalidPath, re-exported so callers
	// can check either sentinel.
	ErrInvalidPath = treepath.ErrInvalidPath

	// ErrPathIsDirectory is returned when a file operation hits a
	// directory, or an ancestor of the target exists as a file.
	ErrPathIsDirectory = errors.New("path is a directory")

	// ErrNotAFile is returned when a file is expected but the path names
	// a directory.
	ErrNotAFile = errors.New("not a file")

	// ErrNotADirectory is returned when a directory is expected but the
	// path names a file.
	ErrNotADirectory = errors.New("not a directory")

	// ErrDirectoryNotEmpty is returned by a non-recursive delete of a
	// non-empty directory.
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrCannotDeleteRoot is returned by any attempt to delete the tree
	// root.
	ErrCannotDeleteRoot = errors.New("cannot delete root")

	// ErrNotFound is returned when the target does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConnection covers transport-level failures of a remote store.
	ErrConnection = errors.New("connection error")
)

// Wire kind names carried in HTTP error bodies, so a remote client can
// reconstruct the sentinel the server-side operation failed with.
const (
	KindInvalidPath       = "illegalPath"
	KindPathIsDirectory   = "pathIsDirectory"
	KindNotAFile          = "notAFile"
	KindNotADirectory     = "notADirectory"
	KindDirectoryNotEmpty = "directoryNotEmpty"
	KindCannotDeleteRoot  = "cannotDeleteRoot"
	KindNotFound          = "notFound"
	KindConnection        = "connection"
	KindInternal          = "internal"
)

// ErrorKind maps err onto its wire kind name.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPath):
		return KindInvalidPath
	case errors.Is(err, ErrPathIsDirectory):
		return KindPathIsDirectory
	case errors.Is(err, ErrNotAFile):
		return KindNotAFile
	case errors.Is(err, ErrNotADirectory):
		return KindNotADirectory
	case errors.Is(err, ErrDirectoryNotEmpty):
		return KindDirectoryNotEmpty
	case errors.Is(err, ErrCannotDeleteRoot):
		return KindCannotDeleteRoot
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConnection):
		return KindConnection
	}
	return KindInternal
}

// ErrorByKind returns the sentinel for a wire kind name, or nil when the
// kind is unknown.
func ErrorByKind(kind string) error {
	switch kind {
	case KindInvalidPath:
		return ErrInvalidPath
	case KindPathIsDirectory:
		return ErrPathIsDirectory
	case KindNotAFile:
		return ErrNotAFile
	case KindNotADirectory:
		return ErrNotADirectory
	case KindDirectoryNotEmpty:
		return ErrDirectoryNotEmpty
	case KindCannotDeleteRoot:
		return ErrCannotDeleteRoot
	case KindNotFound:
		return ErrNotFound
	case KindConnection:
		return ErrConnection
	}
	return nil
}
