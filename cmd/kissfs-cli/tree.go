package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"

	"github.com/wix/kiss-fs/pkg/client"
	"github.com/wix/kiss-fs/pkg/models"
)

var dirColor = color.New(color.FgBlue, color.Bold)

func formatName(node *models.Node) string {
	if node.IsDir() {
		return dirColor.Sprint(node.Name + "/")
	}
	return node.Name
}

func cmdTree(ctx context.Context, c *client.Client, path string) error {
	root, err := c.LoadDirectoryTree(ctx, path)
	if err != nil {
		return err
	}

	name := root.Name
	if name == "" {
		name = "."
	}
	fmt.Println(dirColor.Sprint(name + "/"))

	dirs, files := 0, 0
	printChildren(root.Children, "", &dirs, &files)
	fmt.Printf("\n%d directories, %d files\n", dirs, files)
	return nil
}

func printChildren(children []*models.Node, prefix string, dirs, files *int) {
	sorted := make([]*models.Node, len(children))
	copy(sorted, children)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for i, child := range sorted {
		connector, childPrefix := "├── ", "│   "
		if i == len(sorted)-1 {
			connector, childPrefix = "└── ", "    "
		}
		fmt.Printf("%s%s%s\n", prefix, connector, formatName(child))

		if child.IsDir() {
			*dirs++
			printChildren(child.Children, prefix+childPrefix, dirs, files)
		} else {
			*files++
		}
	}
}

func cmdList(ctx context.Context, c *client.Client, path string) error {
	children, err := c.LoadDirectoryChildren(ctx, path)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, child := range children {
		fmt.Println(formatName(child))
	}
	return nil
}
