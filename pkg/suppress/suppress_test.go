package suppress

import (
	"context"
	"testing"
	"time"

	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/models"
	"github.com/wix/kiss-fs/pkg/store"
)

// relayStore mimics a remote proxy: operations succeed and the server's
// event stream, echoes included, is injected by the test.
type relayStore struct {
	bus   *events.Broadcaster
	saves []string
}

func newRelayStore() *relayStore {
	return &relayStore{bus: events.NewBroadcaster()}
}

func (r *relayStore) emit(ev events.Event) { r.bus.Publish(ev) }

func (r *relayStore) SaveFile(_ context.Context, path, content, correlationID string) (string, error) {
	r.saves = append(r.saves, path)
	return correlationID, nil
}

func (r *relayStore) DeleteFile(_ context.Context, path, correlationID string) (string, error) {
	return correlationID, nil
}

func (r *relayStore) EnsureDirectory(_ context.Context, path, correlationID string) (string, error) {
	return correlationID, nil
}

func (r *relayStore) DeleteDirectory(_ context.Context, path string, recursive bool, correlationID string) (string, error) {
	return correlationID, nil
}

func (r *relayStore) LoadTextFile(context.Context, string) (string, error) { return "", nil }

func (r *relayStore) LoadDirectoryTree(context.Context, string) (*models.Node, error) {
	return models.NewDir(""), nil
}

func (r *relayStore) LoadDirectoryChildren(context.Context, string) ([]*models.Node, error) {
	return nil, nil
}

func (r *relayStore) Subscribe(kinds ...string) chan events.Event { return r.bus.Subscribe(kinds...) }
func (r *relayStore) Unsubscribe(ch chan events.Event)            { r.bus.Unsubscribe(ch) }
func (r *relayStore) Close() error                                { r.bus.Close(); return nil }

var _ store.Store = (*relayStore)(nil)

func expectEvent(t *testing.T, ch chan events.Event, kind, path string) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		if ev.Kind != kind || ev.Path != path {
			t.Fatalf("event = %s %s, want %s %s", ev.Kind, ev.Path, kind, path)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s event for %s", kind, path)
		return events.Event{}
	}
}

func expectSilence(t *testing.T, ch chan events.Event, d time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s %s", ev.Kind, ev.Path)
	case <-time.After(d):
	}
}

func TestOwnWriteEchoSuppressed(t *testing.T) {
	inner := newRelayStore()
	s := New(inner, Options{})
	defer s.Close()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	if _, err := s.SaveFile(context.Background(), "a.txt", "one", ""); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	// Server relays the write back to every subscriber, us included.
	ev, _ := events.NewFileCreated("a.txt", "one")
	inner.emit(ev)
	expectSilence(t, ch, 200*time.Millisecond)
}

func TestExternalChangePassesThrough(t *testing.T) {
	inner := newRelayStore()
	s := New(inner, Options{})
	defer s.Close()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	ev, _ := events.NewFileChanged("a.txt", "other-writer")
	inner.emit(ev)
	got := expectEvent(t, ch, events.FileChanged, "a.txt")
	if got.Content != "other-writer" {
		t.Fatalf("content = %q", got.Content)
	}
}

func TestEchoConsumedAtMostOnce(t *testing.T) {
	inner := newRelayStore()
	s := New(inner, Options{})
	defer s.Close()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	if _, err := s.SaveFile(context.Background(), "a.txt", "one", ""); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	ev, _ := events.NewFileCreated("a.txt", "one")
	inner.emit(ev)
	// Same content again, this time from someone else.
	ev2, _ := events.NewFileChanged("a.txt", "one")
	inner.emit(ev2)
	expectEvent(t, ch, events.FileChanged, "a.txt")
	expectSilence(t, ch, 200*time.Millisecond)
}

func TestDeleteAndDirectoryEchoes(t *testing.T) {
	inner := newRelayStore()
	s := New(inner, Options{})
	defer s.Close()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)
	ctx := context.Background()

	if _, err := s.DeleteFile(ctx, "a.txt", ""); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := s.EnsureDirectory(ctx, "d", ""); err != nil {
		t.Fatalf("EnsureDirectory: %v", err)
	}
	if _, err := s.DeleteDirectory(ctx, "old", true, ""); err != nil {
		t.Fatalf("DeleteDirectory: %v", err)
	}

	for _, ev := range []func() (events.Event, error){
		func() (events.Event, error) { return events.NewFileDeleted("a.txt") },
		func() (events.Event, error) { return events.NewDirectoryCreated("d") },
		func() (events.Event, error) { return events.NewDirectoryDeleted("old") },
	} {
		e, _ := ev()
		inner.emit(e)
	}
	expectSilence(t, ch, 300*time.Millisecond)
}

func TestImplicitAncestorEchoSuppressed(t *testing.T) {
	inner := newRelayStore()
	s := New(inner, Options{})
	defer s.Close()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	if _, err := s.SaveFile(context.Background(), "foo/bar.txt", "x", ""); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	dirEv, _ := events.NewDirectoryCreated("foo")
	inner.emit(dirEv)
	fileEv, _ := events.NewFileCreated("foo/bar.txt", "x")
	inner.emit(fileEv)
	expectSilence(t, ch, 300*time.Millisecond)
}

func TestBurstCollapsesToFinalContent(t *testing.T) {
	inner := newRelayStore()
	s := New(inner, Options{DelayEvents: 150 * time.Millisecond})
	defer s.Close()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	for _, content := range []string{"v1", "v2", "v3"} {
		ev, _ := events.NewFileChanged("a.txt", content)
		inner.emit(ev)
	}
	got := expectEvent(t, ch, events.FileChanged, "a.txt")
	if got.Content != "v3" {
		t.Fatalf("content = %q, want final v3", got.Content)
	}
	expectSilence(t, ch, 300*time.Millisecond)
}

func TestBurstWindowIsPerPath(t *testing.T) {
	inner := newRelayStore()
	s := New(inner, Options{DelayEvents: 100 * time.Millisecond})
	defer s.Close()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	a, _ := events.NewFileChanged("a.txt", "a")
	b, _ := events.NewFileChanged("b.txt", "b")
	inner.emit(a)
	inner.emit(b)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			seen[ev.Path] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("missing events, got %v", seen)
		}
	}
	if !seen["a.txt"] || !seen["b.txt"] {
		t.Fatalf("paths = %v", seen)
	}
}

func TestUnexpectedErrorBypassesDelay(t *testing.T) {
	inner := newRelayStore()
	s := New(inner, Options{DelayEvents: time.Second})
	defer s.Close()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	ev, _ := events.NewUnexpectedError(context.DeadlineExceeded)
	inner.emit(ev)
	select {
	case got := <-ch:
		if got.Kind != events.UnexpectedError {
			t.Fatalf("kind = %s", got.Kind)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("unexpectedError was delayed")
	}
}

func TestCloseDropsHeldEvents(t *testing.T) {
	inner := newRelayStore()
	s := New(inner, Options{DelayEvents: 100 * time.Millisecond})

	ch := s.Subscribe()
	ev, _ := events.NewFileChanged("a.txt", "v1")
	inner.emit(ev)
	// Give the pump a beat to pick the event up, then close mid-window.
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case got, ok := <-ch:
		if ok {
			t.Fatalf("event after Close: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
}
