// Package models contains the shared tree data types used by every store
// implementation and by the wire protocol.
package models

import "github.com/wix/kiss-fs/pkg/treepath"

// NodeType tags a Node as a file or a directory.
type NodeType string

const (
	TypeFile NodeType = "file"
	TypeDir  NodeType = "dir"
)

// Node represents a file or directory in the store tree. Directory children
// are ordered by discovery; a shallow directory has Children == nil.
// The root directory has Name == "" and Path == "".
type Node struct {
	Type     NodeType `json:"type"`
	Name     string   `json:"name"`
	Path     string   `json:"fullPath"`
	Children []*Node  `json:"children,omitempty"`
}

// NewFile returns a file node for the given full path.
func NewFile(path string) *Node {
	return &Node{Type: TypeFile, Name: treepath.Base(path), Path: path}
}

// NewDir returns a directory node with no children yet.
func NewDir(path string) *Node {
	return &Node{Type: TypeDir, Name: treepath.Base(path), Path: path, Children: []*Node{}}
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Type == TypeDir }

// Child returns the direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindByPath resolves a full path inside the tree rooted at n.
func FindByPath(root *Node, path string) *Node {
	if root == nil {
		return nil
	}
	if root.Path == path {
		return root
	}
	for _, child := range root.Children {
		if child.Path == path || treepath.IsAncestor(child.Path, path) {
			return FindByPath(child, path)
		}
	}
	return nil
}

// CountNodes counts all nodes in the tree rooted at root, including root.
func CountNodes(root *Node) int {
	if root == nil {
		return 0
	}
	count := 1
	for _, child := range root.Children {
		count += CountNodes(child)
	}
	return count
}

// Clone returns a deep copy of the tree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Type: n.Type, Name: n.Name, Path: n.Path}
	if n.Children != nil {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}
