package redisstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/store"
)

// Tests need a live Redis; set KISSFS_TEST_REDIS_ADDR to run them.
func newStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("KISSFS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KISSFS_TEST_REDIS_ADDR not set")
	}
	s, err := New(context.Background(), Options{
		Addr:   addr,
		Volume: fmt.Sprintf("test-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		s.DeleteDirectory(context.Background(), "t", true, "")
		s.Close()
	})
	return s
}

func drain(t *testing.T, ch chan events.Event, n int) []events.Event {
	t.Helper()
	var got []events.Event
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}

func TestSaveAndLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	if _, err := s.SaveFile(ctx, "t/foo/bar.txt", "baz", ""); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	got := drain(t, ch, 3)
	want := []struct{ kind, path string }{
		{events.DirectoryCreated, "t"},
		{events.DirectoryCreated, "t/foo"},
		{events.FileCreated, "t/foo/bar.txt"},
	}
	for i, w := range want {
		if got[i].Kind != w.kind || got[i].Path != w.path {
			t.Fatalf("event %d = %s %s, want %s %s", i, got[i].Kind, got[i].Path, w.kind, w.path)
		}
	}

	content, err := s.LoadTextFile(ctx, "t/foo/bar.txt")
	if err != nil || content != "baz" {
		t.Fatalf("LoadTextFile = %q, %v", content, err)
	}
}

func TestIdenticalSaveIsNoOp(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.SaveFile(ctx, "t/a.txt", "one", ""); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)
	if _, err := s.SaveFile(ctx, "t/a.txt", "one", ""); err != nil {
		t.Fatalf("second SaveFile: %v", err)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s %s", ev.Kind, ev.Path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOverwriteEmitsChanged(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.SaveFile(ctx, "t/a.txt", "one", ""); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	ch := s.Subscribe(events.FileChanged)
	defer s.Unsubscribe(ch)
	if _, err := s.SaveFile(ctx, "t/a.txt", "two", ""); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got := drain(t, ch, 1)
	if got[0].Content != "two" {
		t.Fatalf("content = %q", got[0].Content)
	}
}

func TestKindMismatches(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.SaveFile(ctx, "t/d/file.txt", "x", ""); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	if _, err := s.SaveFile(ctx, "t/d", "x", ""); !errors.Is(err, store.ErrPathIsDirectory) {
		t.Fatalf("save on dir err = %v", err)
	}
	if _, err := s.SaveFile(ctx, "t/d/file.txt/under", "x", ""); !errors.Is(err, store.ErrPathIsDirectory) {
		t.Fatalf("save under file err = %v", err)
	}
	if _, err := s.DeleteFile(ctx, "t/d", ""); !errors.Is(err, store.ErrNotAFile) {
		t.Fatalf("delete dir as file err = %v", err)
	}
	if _, err := s.EnsureDirectory(ctx, "t/d/file.txt", ""); !errors.Is(err, store.ErrNotADirectory) {
		t.Fatalf("ensure on file err = %v", err)
	}
	if _, err := s.LoadTextFile(ctx, "t/d"); !errors.Is(err, store.ErrNotAFile) {
		t.Fatalf("load dir err = %v", err)
	}
	if _, err := s.LoadTextFile(ctx, "t/nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("load missing err = %v", err)
	}
}

func TestRecursiveDeleteSingleEvent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.SaveFile(ctx, "t/top/mid/leaf.txt", "x", ""); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)
	if _, err := s.DeleteDirectory(ctx, "t/top", true, ""); err != nil {
		t.Fatalf("DeleteDirectory: %v", err)
	}
	got := drain(t, ch, 1)
	if got[0].Kind != events.DirectoryDeleted || got[0].Path != "t/top" {
		t.Fatalf("event = %+v", got[0])
	}
	select {
	case ev := <-ch:
		t.Fatalf("extra event %s %s", ev.Kind, ev.Path)
	case <-time.After(200 * time.Millisecond):
	}

	if _, err := s.LoadTextFile(ctx, "t/top/mid/leaf.txt"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("leaf survived delete: %v", err)
	}
}

func TestDeleteDirectoryContract(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.SaveFile(ctx, "t/d/a.txt", "x", ""); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	if _, err := s.DeleteDirectory(ctx, "", false, ""); !errors.Is(err, store.ErrCannotDeleteRoot) {
		t.Fatalf("root err = %v", err)
	}
	if _, err := s.DeleteDirectory(ctx, "t/d", false, ""); !errors.Is(err, store.ErrDirectoryNotEmpty) {
		t.Fatalf("non-empty err = %v", err)
	}
	if _, err := s.DeleteDirectory(ctx, "t/missing", false, ""); err != nil {
		t.Fatalf("missing err = %v", err)
	}
}

func TestTreeAndChildren(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, p := range []string{"t/x/a.txt", "t/x/sub/b.txt", "t/y.txt"} {
		if _, err := s.SaveFile(ctx, p, "x", ""); err != nil {
			t.Fatalf("SaveFile %s: %v", p, err)
		}
	}

	tree, err := s.LoadDirectoryTree(ctx, "t")
	if err != nil {
		t.Fatalf("LoadDirectoryTree: %v", err)
	}
	x := tree.Child("x")
	if x == nil || x.Child("sub") == nil || x.Child("sub").Child("b.txt") == nil {
		t.Fatalf("tree shape wrong: %+v", tree)
	}

	kids, err := s.LoadDirectoryChildren(ctx, "t/x")
	if err != nil {
		t.Fatalf("LoadDirectoryChildren: %v", err)
	}
	if len(kids) != 2 {
		t.Fatalf("children = %+v", kids)
	}
	for _, k := range kids {
		if k.IsDir() && len(k.Children) != 0 {
			t.Fatalf("directory child not shallow: %+v", k)
		}
	}
}
