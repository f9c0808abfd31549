// Package events defines the closed set of semantic change events emitted by
// a store, and a broadcaster that fans them out to per-kind subscribers.
package events

import (
	"encoding/json"
	"fmt"
)

// Event kind names. These are exactly the names consumers subscribe with.
const (
	FileCreated      = "fileCreated"
	FileChanged      = "fileChanged"
	FileDeleted      = "fileDeleted"
	DirectoryCreated = "directoryCreated"
	DirectoryDeleted = "directoryDeleted"
	UnexpectedError  = "unexpectedError"
)

// Kinds lists every recognized event kind.
var Kinds = []string{
	FileCreated, FileChanged, FileDeleted,
	DirectoryCreated, DirectoryDeleted, UnexpectedError,
}

// ValidKind reports whether name is a recognized event kind.
func ValidKind(name string) bool {
	for _, k := range Kinds {
		if k == name {
			return true
		}
	}
	return false
}

// Event is one semantic change. Path is set for every kind except
// unexpectedError; Content is meaningful only for fileCreated and
// fileChanged (and may legitimately be empty); Err is set only for
// unexpectedError.
type Event struct {
	Kind    string
	Path    string
	Content string
	Err     string
}

// MalformedEventError reports an event constructed without a required field.
type MalformedEventError struct {
	Kind  string
	Field string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: missing %s", e.Kind, e.Field)
}

// NewFileCreated builds a fileCreated event. An empty content is legal.
func NewFileCreated(path, content string) (Event, error) {
	if path == "" {
		return Event{}, &MalformedEventError{Kind: FileCreated, Field: "fullPath"}
	}
	return Event{Kind: FileCreated, Path: path, Content: content}, nil
}

// NewFileChanged builds a fileChanged event.
func NewFileChanged(path, content string) (Event, error) {
	if path == "" {
		return Event{}, &MalformedEventError{Kind: FileChanged, Field: "fullPath"}
	}
	return Event{Kind: FileChanged, Path: path, Content: content}, nil
}

// NewFileDeleted builds a fileDeleted event.
func NewFileDeleted(path string) (Event, error) {
	if path == "" {
		return Event{}, &MalformedEventError{Kind: FileDeleted, Field: "fullPath"}
	}
	return Event{Kind: FileDeleted, Path: path}, nil
}

// NewDirectoryCreated builds a directoryCreated event.
func NewDirectoryCreated(path string) (Event, error) {
	if path == "" {
		return Event{}, &MalformedEventError{Kind: DirectoryCreated, Field: "fullPath"}
	}
	return Event{Kind: DirectoryCreated, Path: path}, nil
}

// NewDirectoryDeleted builds a directoryDeleted event.
func NewDirectoryDeleted(path string) (Event, error) {
	if path == "" {
		return Event{}, &MalformedEventError{Kind: DirectoryDeleted, Field: "fullPath"}
	}
	return Event{Kind: DirectoryDeleted, Path: path}, nil
}

// NewUnexpectedError wraps a reconciliation fault into an event.
func NewUnexpectedError(err error) (Event, error) {
	if err == nil {
		return Event{}, &MalformedEventError{Kind: UnexpectedError, Field: "error"}
	}
	return Event{Kind: UnexpectedError, Err: err.Error()}, nil
}

// Validate checks that the event has its required fields for its kind.
func Validate(e Event) error {
	if !ValidKind(e.Kind) {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Kind == UnexpectedError {
		if e.Err == "" {
			return &MalformedEventError{Kind: e.Kind, Field: "error"}
		}
		return nil
	}
	if e.Path == "" {
		return &MalformedEventError{Kind: e.Kind, Field: "fullPath"}
	}
	return nil
}

// Equal compares two events on the fields meaningful for their kind.
func Equal(a, b Event) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case FileCreated, FileChanged:
		return a.Path == b.Path && a.Content == b.Content
	case UnexpectedError:
		return a.Err == b.Err
	default:
		return a.Path == b.Path
	}
}

// wireEvent is the JSON shape. Content is a pointer so that an empty
// newContent survives the round trip while non-content kinds omit it.
type wireEvent struct {
	Kind    string  `json:"kind"`
	Path    *string `json:"fullPath,omitempty"`
	Content *string `json:"newContent,omitempty"`
	Err     *string `json:"error,omitempty"`
}

// MarshalJSON serializes only the fields meaningful for the event's kind.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Kind: e.Kind}
	switch e.Kind {
	case FileCreated, FileChanged:
		p, c := e.Path, e.Content
		w.Path, w.Content = &p, &c
	case UnexpectedError:
		msg := e.Err
		w.Err = &msg
	default:
		p := e.Path
		w.Path = &p
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire shape back into an Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Kind = w.Kind
	if w.Path != nil {
		e.Path = *w.Path
	}
	if w.Content != nil {
		e.Content = *w.Content
	}
	if w.Err != nil {
		e.Err = *w.Err
	}
	return nil
}
