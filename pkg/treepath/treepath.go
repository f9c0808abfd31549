// Package treepath validates and manipulates the forward-slash-delimited
// relative paths used by the store. The empty string names the tree root.
package treepath

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins path segments. It is the same on every platform so that
// store paths stay portable.
const Separator = "/"

// ErrInvalidPath is returned when a path breaks the segment rules.
var ErrInvalidPath = errors.New("invalid path")

// Validate checks that every segment of path is non-empty and is not "." or
// "..". The empty string (the root) is valid; callers that require a
// non-root path must check for it themselves.
func Validate(path string) error {
	if path == "" {
		return nil
	}
	for _, seg := range strings.Split(path, Separator) {
		switch {
		case seg == "":
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		case seg == "." || seg == "..":
			return fmt.Errorf("%w: segment %q in %q", ErrInvalidPath, seg, path)
		case strings.ContainsRune(seg, '\x00'):
			return fmt.Errorf("%w: NUL in %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// Join appends name to parent. Joining with the root returns name unchanged.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + Separator + name
}

// Split returns the parent path and the final segment. The root splits into
// ("", "").
func Split(path string) (parent, name string) {
	i := strings.LastIndex(path, Separator)
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// Parent returns the parent path of path, or the root for top-level paths.
func Parent(path string) string {
	parent, _ := Split(path)
	return parent
}

// Base returns the final segment of path, or "" for the root.
func Base(path string) string {
	_, name := Split(path)
	return name
}

// IsAncestor reports whether a is a strict ancestor of b. The root is an
// ancestor of every other path.
func IsAncestor(a, b string) bool {
	if b == "" || a == b {
		return false
	}
	if a == "" {
		return true
	}
	return strings.HasPrefix(b, a+Separator)
}

// Segments returns the path split into its segments. The root has none.
func Segments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, Separator)
}

// Ancestors returns every strict ancestor of path except the root, ordered
// from the top of the tree down.
func Ancestors(path string) []string {
	segs := Segments(path)
	if len(segs) < 2 {
		return nil
	}
	out := make([]string, 0, len(segs)-1)
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], Separator))
	}
	return out
}
