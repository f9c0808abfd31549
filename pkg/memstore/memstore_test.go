package memstore

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/models"
	"github.com/wix/kiss-fs/pkg/store"
)

func collectEvents(t *testing.T, ch chan events.Event, n int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, n)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func expectNoEvent(t *testing.T, ch chan events.Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSaveFileCreatesAncestorsAndEmitsInOrder(t *testing.T) {
	m := New()
	defer m.Close()
	ch := m.Subscribe()
	ctx := context.Background()

	id, err := m.SaveFile(ctx, "foo/bar.txt", "baz", "")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty correlation id")
	}

	got := collectEvents(t, ch, 2)
	if got[0].Kind != events.DirectoryCreated || got[0].Path != "foo" {
		t.Errorf("event 0 = %+v, want directoryCreated foo", got[0])
	}
	if got[1].Kind != events.FileCreated || got[1].Path != "foo/bar.txt" || got[1].Content != "baz" {
		t.Errorf("event 1 = %+v, want fileCreated foo/bar.txt baz", got[1])
	}

	tree, err := m.LoadDirectoryTree(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	want := &models.Node{
		Type: models.TypeDir, Name: "", Path: "",
		Children: []*models.Node{
			{
				Type: models.TypeDir, Name: "foo", Path: "foo",
				Children: []*models.Node{
					{Type: models.TypeFile, Name: "bar.txt", Path: "foo/bar.txt"},
				},
			},
		},
	}
	if !reflect.DeepEqual(tree, want) {
		t.Errorf("tree = %+v, want %+v", tree, want)
	}
}

func TestSaveIdenticalContentIsNoOp(t *testing.T) {
	m := New()
	defer m.Close()
	ctx := context.Background()
	if _, err := m.SaveFile(ctx, "a.txt", "same", ""); err != nil {
		t.Fatal(err)
	}

	ch := m.Subscribe()
	if _, err := m.SaveFile(ctx, "a.txt", "same", ""); err != nil {
		t.Fatal(err)
	}
	expectNoEvent(t, ch)
}

func TestSaveFileRejectsDirectoryTargets(t *testing.T) {
	m := New()
	defer m.Close()
	ctx := context.Background()
	if _, err := m.EnsureDirectory(ctx, "dir", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := m.SaveFile(ctx, "dir", "x", ""); !errors.Is(err, store.ErrPathIsDirectory) {
		t.Errorf("save over dir: got %v, want ErrPathIsDirectory", err)
	}

	if _, err := m.SaveFile(ctx, "file.txt", "x", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SaveFile(ctx, "file.txt/under", "x", ""); !errors.Is(err, store.ErrPathIsDirectory) {
		t.Errorf("save under file: got %v, want ErrPathIsDirectory", err)
	}
}

func TestSaveFileValidatesPath(t *testing.T) {
	m := New()
	defer m.Close()
	ctx := context.Background()
	for _, p := range []string{"", "/abs", "a//b", "a/../b"} {
		if _, err := m.SaveFile(ctx, p, "x", ""); !errors.Is(err, store.ErrInvalidPath) {
			t.Errorf("SaveFile(%q): got %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestDeleteFileIdempotent(t *testing.T) {
	m := New()
	defer m.Close()
	ctx := context.Background()
	ch := m.Subscribe()

	if _, err := m.DeleteFile(ctx, "never/existed.txt", ""); err != nil {
		t.Fatalf("delete of missing file failed: %v", err)
	}
	expectNoEvent(t, ch)

	if _, err := m.EnsureDirectory(ctx, "dir", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.DeleteFile(ctx, "dir", ""); !errors.Is(err, store.ErrNotAFile) {
		t.Errorf("delete dir as file: got %v, want ErrNotAFile", err)
	}
}

func TestEnsureDirectoryIdempotent(t *testing.T) {
	m := New()
	defer m.Close()
	ctx := context.Background()
	ch := m.Subscribe()

	if _, err := m.EnsureDirectory(ctx, "a/b", ""); err != nil {
		t.Fatal(err)
	}
	got := collectEvents(t, ch, 2)
	if got[0].Path != "a" || got[1].Path != "a/b" {
		t.Errorf("created order = %s, %s; want a then a/b", got[0].Path, got[1].Path)
	}

	before, _ := m.LoadDirectoryTree(ctx, "")
	if _, err := m.EnsureDirectory(ctx, "a/b", ""); err != nil {
		t.Fatal(err)
	}
	expectNoEvent(t, ch)
	after, _ := m.LoadDirectoryTree(ctx, "")
	if !reflect.DeepEqual(before, after) {
		t.Error("tree changed after idempotent ensure")
	}
}

func TestDeleteDirectoryContracts(t *testing.T) {
	m := New()
	defer m.Close()
	ctx := context.Background()

	if _, err := m.DeleteDirectory(ctx, "", false, ""); !errors.Is(err, store.ErrCannotDeleteRoot) {
		t.Errorf("delete root: got %v, want ErrCannotDeleteRoot", err)
	}
	if _, err := m.DeleteDirectory(ctx, "missing", false, ""); err != nil {
		t.Errorf("delete missing dir: got %v, want nil", err)
	}

	if _, err := m.SaveFile(ctx, "f.txt", "x", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.DeleteDirectory(ctx, "f.txt", false, ""); !errors.Is(err, store.ErrNotADirectory) {
		t.Errorf("delete file as dir: got %v, want ErrNotADirectory", err)
	}

	if _, err := m.SaveFile(ctx, "top/sub/deep.txt", "x", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.DeleteDirectory(ctx, "top", false, ""); !errors.Is(err, store.ErrDirectoryNotEmpty) {
		t.Errorf("non-recursive delete of non-empty dir: got %v, want ErrDirectoryNotEmpty", err)
	}
}

func TestRecursiveDeleteEmitsOneEvent(t *testing.T) {
	m := New()
	defer m.Close()
	ctx := context.Background()
	if _, err := m.SaveFile(ctx, "top/a/one.txt", "1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SaveFile(ctx, "top/b/two.txt", "2", ""); err != nil {
		t.Fatal(err)
	}

	ch := m.Subscribe()
	if _, err := m.DeleteDirectory(ctx, "top", true, ""); err != nil {
		t.Fatal(err)
	}
	got := collectEvents(t, ch, 1)
	if got[0].Kind != events.DirectoryDeleted || got[0].Path != "top" {
		t.Errorf("got %+v, want directoryDeleted top", got[0])
	}
	expectNoEvent(t, ch)

	if _, err := m.LoadTextFile(ctx, "top/a/one.txt"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("descendant file survived recursive delete: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	m := New()
	defer m.Close()
	ctx := context.Background()
	if _, err := m.EnsureDirectory(ctx, "dir", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := m.LoadTextFile(ctx, "missing.txt"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("load missing: got %v, want ErrNotFound", err)
	}
	if _, err := m.LoadTextFile(ctx, "dir"); !errors.Is(err, store.ErrNotAFile) {
		t.Errorf("load dir as file: got %v, want ErrNotAFile", err)
	}
	if _, err := m.LoadDirectoryTree(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("load missing tree: got %v, want ErrNotFound", err)
	}

	if _, err := m.SaveFile(ctx, "f.txt", "x", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadDirectoryTree(ctx, "f.txt"); !errors.Is(err, store.ErrNotADirectory) {
		t.Errorf("load file as tree: got %v, want ErrNotADirectory", err)
	}
}

func TestLoadDirectoryChildrenShallow(t *testing.T) {
	m := New()
	defer m.Close()
	ctx := context.Background()
	if _, err := m.SaveFile(ctx, "d/sub/deep.txt", "x", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SaveFile(ctx, "d/file.txt", "y", ""); err != nil {
		t.Fatal(err)
	}

	children, err := m.LoadDirectoryChildren(ctx, "d")
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("len(children) = %d, want 2", len(children))
	}
	for _, c := range children {
		if c.IsDir() && c.Children != nil {
			t.Errorf("child dir %s expanded, want shallow", c.Path)
		}
	}
}

func TestCallerCorrelationIDEchoed(t *testing.T) {
	m := New()
	defer m.Close()
	id, err := m.SaveFile(context.Background(), "a.txt", "x", "my-id")
	if err != nil {
		t.Fatal(err)
	}
	if id != "my-id" {
		t.Errorf("correlation id = %q, want my-id", id)
	}
}
