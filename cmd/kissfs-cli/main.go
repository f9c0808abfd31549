// kissfs-cli talks to a kissfsd server: read and write files, manage
// directories, render the tree, and follow the live change stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/wix/kiss-fs/pkg/client"
	"github.com/wix/kiss-fs/pkg/events"
)

var version = "dev"

const usage = `Usage: kissfs-cli [flags] <command> [args]

Commands:
  tree [path]            Print the directory tree
  ls [path]              List direct children
  cat <path>             Print file content
  put <path> <content>   Write file content
  rm <path>              Delete a file
  mkdir <path>           Create a directory
  rmdir <path>           Delete a directory (see --recursive)
  watch [kind...]        Stream change events

Flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	flags := flag.NewFlagSet("kissfs-cli", flag.ContinueOnError)
	flags.SetInterspersed(false)
	server := flags.StringP("server", "s", "http://localhost:8080", "Server base URL")
	token := flags.String("token", os.Getenv("KISSFS_TOKEN"), "Bearer token")
	timeout := flags.Duration("timeout", 30*time.Second, "Request timeout")
	recursive := flags.BoolP("recursive", "r", false, "Recursive directory delete")
	noColor := flags.Bool("no-color", false, "Disable colored output")
	showVersion := flags.Bool("version", false, "Show version and exit")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 2
	}
	if *showVersion {
		fmt.Printf("kissfs-cli %s\n", version)
		return 0
	}
	if *noColor {
		color.NoColor = true
	}

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		return 2
	}

	c, err := client.New(client.Options{
		BaseURL:   *server,
		Timeout:   *timeout,
		AuthToken: *token,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, c, args[0], args[1:], *recursive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, c *client.Client, command string, args []string, recursive bool) error {
	switch command {
	case "tree":
		return cmdTree(ctx, c, optionalPath(args))
	case "ls":
		return cmdList(ctx, c, optionalPath(args))
	case "cat":
		if len(args) != 1 {
			return fmt.Errorf("usage: cat <path>")
		}
		content, err := c.LoadTextFile(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Print(content)
		return nil
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("usage: put <path> <content>")
		}
		id, err := c.SaveFile(ctx, args[0], args[1], "")
		if err != nil {
			return err
		}
		fmt.Printf("saved %s (%s)\n", args[0], id)
		return nil
	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: rm <path>")
		}
		_, err := c.DeleteFile(ctx, args[0], "")
		return err
	case "mkdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: mkdir <path>")
		}
		_, err := c.EnsureDirectory(ctx, args[0], "")
		return err
	case "rmdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: rmdir <path>")
		}
		_, err := c.DeleteDirectory(ctx, args[0], recursive, "")
		return err
	case "watch":
		return cmdWatch(ctx, c, args)
	}
	return fmt.Errorf("unknown command %q", command)
}

func optionalPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// cmdWatch streams events until interrupted. Arguments narrow the
// subscription to specific event kinds.
func cmdWatch(ctx context.Context, c *client.Client, kinds []string) error {
	for _, k := range kinds {
		if !events.ValidKind(k) {
			return fmt.Errorf("unknown event kind %q (valid: %v)", k, events.Kinds)
		}
	}
	ch := c.Subscribe(kinds...)
	defer c.Unsubscribe(ch)

	fmt.Fprintln(os.Stderr, "watching for changes, Ctrl-C to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			printEvent(ev)
		}
	}
}

var (
	createdColor = color.New(color.FgGreen)
	changedColor = color.New(color.FgYellow)
	deletedColor = color.New(color.FgRed)
	errorColor   = color.New(color.FgRed, color.Bold)
)

func printEvent(ev events.Event) {
	stamp := time.Now().Format("15:04:05")
	switch ev.Kind {
	case events.FileCreated, events.DirectoryCreated:
		createdColor.Printf("%s %-17s %s\n", stamp, ev.Kind, ev.Path)
	case events.FileChanged:
		changedColor.Printf("%s %-17s %s\n", stamp, ev.Kind, ev.Path)
	case events.FileDeleted, events.DirectoryDeleted:
		deletedColor.Printf("%s %-17s %s\n", stamp, ev.Kind, ev.Path)
	case events.UnexpectedError:
		errorColor.Printf("%s %-17s %v\n", stamp, ev.Kind, ev.Err)
	}
}
