package models

import (
	"encoding/json"
	"testing"
)

func sampleTree() *Node {
	return &Node{
		Type: TypeDir, Name: "", Path: "",
		Children: []*Node{
			NewFile("a.txt"),
			{Type: TypeDir, Name: "dir", Path: "dir", Children: []*Node{
				NewFile("dir/b.txt"),
			}},
		},
	}
}

func TestFindByPath(t *testing.T) {
	root := sampleTree()

	tests := []struct {
		path  string
		found bool
	}{
		{"", true},
		{"a.txt", true},
		{"dir", true},
		{"dir/b.txt", true},
		{"nonexistent", false},
		{"dir/nope.txt", false},
	}

	for _, tt := range tests {
		node := FindByPath(root, tt.path)
		if (node != nil) != tt.found {
			t.Errorf("FindByPath(%q) found=%v, want %v", tt.path, node != nil, tt.found)
		}
		if node != nil && node.Path != tt.path {
			t.Errorf("FindByPath(%q).Path = %q", tt.path, node.Path)
		}
	}

	if FindByPath(nil, "") != nil {
		t.Error("FindByPath(nil, root) should return nil")
	}
}

func TestChildAndCount(t *testing.T) {
	root := sampleTree()

	if c := root.Child("dir"); c == nil || !c.IsDir() {
		t.Fatal("Child(dir) should return the directory node")
	}
	if root.Child("missing") != nil {
		t.Error("Child(missing) should return nil")
	}
	if got := CountNodes(root); got != 4 {
		t.Errorf("CountNodes = %d, want 4", got)
	}
	if got := CountNodes(nil); got != 0 {
		t.Errorf("CountNodes(nil) = %d, want 0", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	root := sampleTree()
	copied := root.Clone()

	copied.Children[0].Name = "renamed"
	copied.Children[1].Children[0].Path = "dir/moved.txt"

	if root.Children[0].Name != "a.txt" {
		t.Error("mutating the clone changed the original child name")
	}
	if root.Children[1].Children[0].Path != "dir/b.txt" {
		t.Error("mutating the clone changed the original grandchild path")
	}
}

func TestNodeJSONShape(t *testing.T) {
	data, err := json.Marshal(NewFile("dir/b.txt"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["fullPath"] != "dir/b.txt" || raw["name"] != "b.txt" || raw["type"] != "file" {
		t.Errorf("unexpected wire shape: %s", data)
	}
	if _, ok := raw["children"]; ok {
		t.Error("file node should omit children")
	}
}
