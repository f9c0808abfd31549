// Package redisstore implements the store contract on Redis. Each node is a
// metadata hash, directories additionally keep a set of child names, and
// file content lives in a plain string key. Mutations go through
// transactional pipelines; since Redis offers no change feed for this
// layout, events are synthesized by the operations themselves.
package redisstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wix/kiss-fs/pkg/correlation"
	"github.com/wix/kiss-fs/pkg/events"
	"github.com/wix/kiss-fs/pkg/models"
	"github.com/wix/kiss-fs/pkg/store"
	"github.com/wix/kiss-fs/pkg/treepath"
)

const (
	typeFile = "file"
	typeDir  = "dir"
)

// Keys generates the Redis key names for a volume.
type Keys struct {
	Volume string
}

func (k Keys) meta(path string) string { return fmt.Sprintf("kiss:%s:meta:/%s", k.Volume, path) }
func (k Keys) data(path string) string { return fmt.Sprintf("kiss:%s:data:/%s", k.Volume, path) }
func (k Keys) dir(path string) string  { return fmt.Sprintf("kiss:%s:dir:/%s", k.Volume, path) }

// Options configures a RedisStore.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Volume namespaces all keys, so several stores can share a server.
	Volume string
	Logger *zap.Logger
}

// RedisStore is a Redis-backed store.
type RedisStore struct {
	rdb  *redis.Client
	keys Keys
	bus  *events.Broadcaster
	log  *zap.Logger
}

var _ store.Store = (*RedisStore)(nil)

// New connects to Redis and bootstraps the volume root.
func New(ctx context.Context, opts Options) (*RedisStore, error) {
	if opts.Volume == "" {
		opts.Volume = "main"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := &RedisStore{
		rdb:  rdb,
		keys: Keys{Volume: opts.Volume},
		bus:  events.NewBroadcaster(),
		log:  log,
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping %s: %w: %w", opts.Addr, store.ErrConnection, err)
	}
	if err := rdb.HSetNX(ctx, s.keys.meta(""), "type", typeDir).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("init volume %s: %w: %w", opts.Volume, store.ErrConnection, err)
	}
	return s, nil
}

func connErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, store.ErrConnection, err)
}

// nodeType returns "file", "dir" or "" when path does not exist.
func (s *RedisStore) nodeType(ctx context.Context, path string) (string, error) {
	t, err := s.rdb.HGet(ctx, s.keys.meta(path), "type").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", connErr("stat "+path, err)
	}
	return t, nil
}

// missingAncestors returns path's ancestors that do not exist, topmost
// first. An ancestor present as a file fails the whole operation.
func (s *RedisStore) missingAncestors(ctx context.Context, path string) ([]string, error) {
	var missing []string
	for _, dir := range treepath.Ancestors(path) {
		t, err := s.nodeType(ctx, dir)
		if err != nil {
			return nil, err
		}
		switch t {
		case typeDir:
		case typeFile:
			return nil, fmt.Errorf("%q: %w", dir, store.ErrPathIsDirectory)
		default:
			missing = append(missing, dir)
		}
	}
	return missing, nil
}

func (s *RedisStore) createDir(pipe redis.Pipeliner, ctx context.Context, path string) {
	now := time.Now().Unix()
	pipe.HSet(ctx, s.keys.meta(path), "type", typeDir, "ctime", now, "mtime", now)
	pipe.SAdd(ctx, s.keys.dir(treepath.Parent(path)), treepath.Base(path))
}

func (s *RedisStore) publishDir(path, kind string) {
	var ev events.Event
	if kind == events.DirectoryCreated {
		ev, _ = events.NewDirectoryCreated(path)
	} else {
		ev, _ = events.NewDirectoryDeleted(path)
	}
	s.bus.Publish(ev)
}

// SaveFile writes content to path, creating missing ancestor directories.
// Saving identical content is a no-op.
func (s *RedisStore) SaveFile(ctx context.Context, path, content, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("file path required: %w", store.ErrInvalidPath)
	}

	t, err := s.nodeType(ctx, path)
	if err != nil {
		return "", err
	}
	if t == typeDir {
		return "", fmt.Errorf("%q: %w", path, store.ErrPathIsDirectory)
	}
	existed := t == typeFile
	if existed {
		old, err := s.rdb.Get(ctx, s.keys.data(path)).Result()
		if err != nil && err != redis.Nil {
			return "", connErr("read "+path, err)
		}
		if err == nil && old == content {
			return correlationID, nil
		}
	}

	created, err := s.missingAncestors(ctx, path)
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()
	pipe := s.rdb.TxPipeline()
	for _, dir := range created {
		s.createDir(pipe, ctx, dir)
	}
	pipe.Set(ctx, s.keys.data(path), content, 0)
	if existed {
		pipe.HSet(ctx, s.keys.meta(path), "size", len(content), "mtime", now)
	} else {
		pipe.HSet(ctx, s.keys.meta(path), "type", typeFile, "size", len(content), "ctime", now, "mtime", now)
		pipe.SAdd(ctx, s.keys.dir(treepath.Parent(path)), treepath.Base(path))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", connErr("save "+path, err)
	}

	for _, dir := range created {
		s.publishDir(dir, events.DirectoryCreated)
	}
	if existed {
		ev, _ := events.NewFileChanged(path, content)
		s.bus.Publish(ev)
	} else {
		ev, _ := events.NewFileCreated(path, content)
		s.bus.Publish(ev)
	}
	return correlationID, nil
}

// DeleteFile removes the file at path; deleting a missing file succeeds.
func (s *RedisStore) DeleteFile(ctx context.Context, path, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("file path required: %w", store.ErrInvalidPath)
	}

	t, err := s.nodeType(ctx, path)
	if err != nil {
		return "", err
	}
	if t == "" {
		return correlationID, nil
	}
	if t == typeDir {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotAFile)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keys.meta(path), s.keys.data(path))
	pipe.SRem(ctx, s.keys.dir(treepath.Parent(path)), treepath.Base(path))
	if _, err := pipe.Exec(ctx); err != nil {
		return "", connErr("delete "+path, err)
	}

	ev, _ := events.NewFileDeleted(path)
	s.bus.Publish(ev)
	return correlationID, nil
}

// EnsureDirectory creates path and missing ancestors. Idempotent.
func (s *RedisStore) EnsureDirectory(ctx context.Context, path, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	if path == "" {
		return correlationID, nil
	}

	t, err := s.nodeType(ctx, path)
	if err != nil {
		return "", err
	}
	if t == typeFile {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}
	if t == typeDir {
		return correlationID, nil
	}

	created, err := s.missingAncestors(ctx, path)
	if err != nil {
		return "", err
	}
	created = append(created, path)

	pipe := s.rdb.TxPipeline()
	for _, dir := range created {
		s.createDir(pipe, ctx, dir)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", connErr("mkdir "+path, err)
	}

	for _, dir := range created {
		s.publishDir(dir, events.DirectoryCreated)
	}
	return correlationID, nil
}

// DeleteDirectory removes path; recursive deletions emit a single
// directoryDeleted for path, never per-descendant events.
func (s *RedisStore) DeleteDirectory(ctx context.Context, path string, recursive bool, correlationID string) (string, error) {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	if path == "" {
		return "", store.ErrCannotDeleteRoot
	}
	if err := treepath.Validate(path); err != nil {
		return "", err
	}

	t, err := s.nodeType(ctx, path)
	if err != nil {
		return "", err
	}
	if t == "" {
		return correlationID, nil
	}
	if t == typeFile {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}

	children, err := s.rdb.SMembers(ctx, s.keys.dir(path)).Result()
	if err != nil {
		return "", connErr("readdir "+path, err)
	}
	if len(children) > 0 && !recursive {
		return "", fmt.Errorf("%q: %w", path, store.ErrDirectoryNotEmpty)
	}

	if err := s.removeSubtree(ctx, path); err != nil {
		return "", err
	}
	if err := s.rdb.SRem(ctx, s.keys.dir(treepath.Parent(path)), treepath.Base(path)).Err(); err != nil {
		return "", connErr("rmdir "+path, err)
	}

	ev, _ := events.NewDirectoryDeleted(path)
	s.bus.Publish(ev)
	return correlationID, nil
}

func (s *RedisStore) removeSubtree(ctx context.Context, path string) error {
	children, err := s.rdb.SMembers(ctx, s.keys.dir(path)).Result()
	if err != nil {
		return connErr("readdir "+path, err)
	}
	for _, child := range children {
		childPath := treepath.Join(path, child)
		t, err := s.nodeType(ctx, childPath)
		if err != nil {
			return err
		}
		if t == typeDir {
			if err := s.removeSubtree(ctx, childPath); err != nil {
				return err
			}
		} else if err := s.rdb.Del(ctx, s.keys.meta(childPath), s.keys.data(childPath)).Err(); err != nil {
			return connErr("delete "+childPath, err)
		}
	}
	if err := s.rdb.Del(ctx, s.keys.meta(path), s.keys.dir(path)).Err(); err != nil {
		return connErr("rmdir "+path, err)
	}
	return nil
}

// LoadTextFile returns the content of the file at path.
func (s *RedisStore) LoadTextFile(ctx context.Context, path string) (string, error) {
	if err := treepath.Validate(path); err != nil {
		return "", err
	}
	t, err := s.nodeType(ctx, path)
	if err != nil {
		return "", err
	}
	if t == "" {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotFound)
	}
	if t == typeDir {
		return "", fmt.Errorf("%q: %w", path, store.ErrNotAFile)
	}
	content, err := s.rdb.Get(ctx, s.keys.data(path)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", connErr("read "+path, err)
	}
	return content, nil
}

// LoadDirectoryTree returns the fully expanded tree rooted at path.
func (s *RedisStore) LoadDirectoryTree(ctx context.Context, path string) (*models.Node, error) {
	if err := treepath.Validate(path); err != nil {
		return nil, err
	}
	t, err := s.nodeType(ctx, path)
	if err != nil {
		return nil, err
	}
	if t == "" {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotFound)
	}
	if t == typeFile {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}
	return s.buildTree(ctx, path)
}

func (s *RedisStore) buildTree(ctx context.Context, path string) (*models.Node, error) {
	node := models.NewDir(path)
	children, err := s.sortedChildren(ctx, path)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		childPath := treepath.Join(path, child)
		t, err := s.nodeType(ctx, childPath)
		if err != nil {
			return nil, err
		}
		if t == typeDir {
			sub, err := s.buildTree(ctx, childPath)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, sub)
		} else if t == typeFile {
			node.Children = append(node.Children, models.NewFile(childPath))
		}
	}
	return node, nil
}

// LoadDirectoryChildren returns the direct children of path, directories
// shallow.
func (s *RedisStore) LoadDirectoryChildren(ctx context.Context, path string) ([]*models.Node, error) {
	if err := treepath.Validate(path); err != nil {
		return nil, err
	}
	t, err := s.nodeType(ctx, path)
	if err != nil {
		return nil, err
	}
	if t == "" {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotFound)
	}
	if t == typeFile {
		return nil, fmt.Errorf("%q: %w", path, store.ErrNotADirectory)
	}

	children, err := s.sortedChildren(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Node, 0, len(children))
	for _, child := range children {
		childPath := treepath.Join(path, child)
		ct, err := s.nodeType(ctx, childPath)
		if err != nil {
			return nil, err
		}
		switch ct {
		case typeDir:
			out = append(out, &models.Node{Type: models.TypeDir, Name: child, Path: childPath})
		case typeFile:
			out = append(out, models.NewFile(childPath))
		}
	}
	return out, nil
}

// sortedChildren keeps listings deterministic; Redis sets are unordered.
func (s *RedisStore) sortedChildren(ctx context.Context, path string) ([]string, error) {
	children, err := s.rdb.SMembers(ctx, s.keys.dir(path)).Result()
	if err != nil {
		return nil, connErr("readdir "+path, err)
	}
	sort.Strings(children)
	return children, nil
}

// Subscribe registers for events of the given kinds.
func (s *RedisStore) Subscribe(kinds ...string) chan events.Event {
	return s.bus.Subscribe(kinds...)
}

// Unsubscribe releases a subscription.
func (s *RedisStore) Unsubscribe(ch chan events.Event) {
	s.bus.Unsubscribe(ch)
}

// Close releases the connection. No events are emitted after Close returns.
func (s *RedisStore) Close() error {
	s.bus.Close()
	return s.rdb.Close()
}
