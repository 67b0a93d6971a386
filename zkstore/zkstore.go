// Package zkstore provides a durablemap.Backend on ZooKeeper. Entries
// are children of a root znode; the freshness marker is the root's own
// znode version, moved by touching the root after every mutation.
//
// A background watch keeps a local copy of the root version, so
// Version pays no round trip. A Store observes its own mutations
// synchronously; mutations from other processes become visible when
// the watch event arrives, typically within milliseconds.
package zkstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zookeeper/zk"
	"golang.org/x/sync/errgroup"

	"go.mercari.io/durablemap"
)

var _ durablemap.Backend = (*Store)(nil)
var _ durablemap.Taker = (*Store)(nil)
var _ durablemap.Ensurer = (*Store)(nil)

// ErrBadKey is returned for keys that cannot name a znode child.
var ErrBadKey = errors.New("zkstore: key must not be empty or contain '/'")

// snapshotFanout caps concurrent child fetches during Snapshot.
const snapshotFanout = 8

// StoreOption configures a Store at construction time.
type StoreOption interface {
	Apply(*Store)
}

// WithLogf sets the destination for watch diagnostics. The default
// discards them.
func WithLogf(logf func(ctx context.Context, format string, args ...any)) StoreOption {
	return withLogf{logf}
}

type withLogf struct {
	logf func(ctx context.Context, format string, args ...any)
}

func (w withLogf) Apply(s *Store) { s.logf = w.logf }

// Store is a ZooKeeper-backed Backend. The connection is owned by the
// caller; Close stops only the root watch.
type Store struct {
	conn *zk.Conn
	root string
	logf func(ctx context.Context, format string, args ...any)

	version   atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

// New returns a Store rooted at the given absolute znode path,
// creating the path chain when missing.
func New(conn *zk.Conn, root string, opts ...StoreOption) (*Store, error) {
	root = path.Clean(root)
	if !strings.HasPrefix(root, "/") || root == "/" {
		return nil, fmt.Errorf("zkstore: root must be an absolute znode path below /, got %q", root)
	}

	s := &Store{
		conn: conn,
		root: root,
		logf: func(ctx context.Context, format string, args ...any) {},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt.Apply(s)
	}

	if err := ensurePath(conn, root); err != nil {
		return nil, err
	}
	_, stat, err := conn.Get(root)
	if err != nil {
		return nil, fmt.Errorf("zkstore: read root: %w", err)
	}
	s.observe(uint64(stat.Version))

	go s.watch()
	return s, nil
}

func ensurePath(conn *zk.Conn, znode string) error {
	parts := strings.Split(strings.Trim(znode, "/"), "/")
	node := ""
	for _, part := range parts {
		node += "/" + part
		_, err := conn.Create(node, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("zkstore: create %q: %w", node, err)
		}
	}
	return nil
}

// Close stops the root watch. The ZooKeeper connection stays open.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// watch re-arms a one-shot root watch forever, folding each observed
// root version into the local copy.
func (s *Store) watch() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, stat, events, err := s.conn.GetW(s.root)
		if err != nil {
			s.logf(ctx, "zkstore.Store: watch arm failed, retrying err=%s", err)
			select {
			case <-s.done:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		s.observe(uint64(stat.Version))

		select {
		case <-s.done:
			return
		case ev := <-events:
			if ev.Err != nil {
				s.logf(ctx, "zkstore.Store: watch event err=%s", ev.Err)
			}
		}
	}
}

// observe keeps the local version at the highest value seen.
func (s *Store) observe(v uint64) {
	for {
		cur := s.version.Load()
		if v <= cur || s.version.CompareAndSwap(cur, v) {
			return
		}
	}
}

// touch moves the marker by rewriting the root znode, and adopts the
// resulting version without waiting for the watch.
func (s *Store) touch() error {
	stat, err := s.conn.Set(s.root, nil, -1)
	if err != nil {
		return fmt.Errorf("zkstore: touch root: %w", err)
	}
	s.observe(uint64(stat.Version))
	return nil
}

func (s *Store) path(key string) string {
	return s.root + "/" + key
}

func validKey(key string) error {
	if key == "" || strings.Contains(key, "/") {
		return fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return nil
}

// Put implements durablemap.Backend.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	znode := s.path(key)
	for {
		_, err := s.conn.Set(znode, value, -1)
		if errors.Is(err, zk.ErrNoNode) {
			_, err = s.conn.Create(znode, value, 0, zk.WorldACL(zk.PermAll))
			if errors.Is(err, zk.ErrNodeExists) {
				// Lost the create race; the set will now land.
				continue
			}
		}
		if err != nil {
			return fmt.Errorf("zkstore: put %q: %w", key, err)
		}
		return s.touch()
	}
}

// Delete implements durablemap.Backend.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	existed := true
	err := s.conn.Delete(s.path(key), -1)
	if errors.Is(err, zk.ErrNoNode) {
		existed = false
		err = nil
	}
	if err != nil {
		return false, fmt.Errorf("zkstore: delete %q: %w", key, err)
	}
	if err := s.touch(); err != nil {
		return false, err
	}
	return existed, nil
}

// Snapshot implements durablemap.Backend. Children are fetched
// concurrently; one deleted between listing and fetch is skipped.
func (s *Store) Snapshot(ctx context.Context) (map[string][]byte, error) {
	children, _, err := s.conn.Children(s.root)
	if err != nil {
		return nil, fmt.Errorf("zkstore: children: %w", err)
	}

	var mu sync.Mutex
	entries := make(map[string][]byte, len(children))

	var g errgroup.Group
	g.SetLimit(snapshotFanout)
	for _, child := range children {
		g.Go(func() error {
			data, _, err := s.conn.Get(s.path(child))
			if errors.Is(err, zk.ErrNoNode) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("zkstore: get %q: %w", child, err)
			}
			mu.Lock()
			entries[child] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Version implements durablemap.Backend by reading the locally tracked
// root version. No round trip is paid.
func (s *Store) Version(ctx context.Context) (uint64, error) {
	return s.version.Load(), nil
}

// Take implements durablemap.Taker. The versioned delete retries when
// the entry changes between read and delete.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	znode := s.path(key)
	for {
		data, stat, err := s.conn.Get(znode)
		if errors.Is(err, zk.ErrNoNode) {
			return nil, durablemap.ErrNoSuchKey
		}
		if err != nil {
			return nil, fmt.Errorf("zkstore: get %q: %w", key, err)
		}

		err = s.conn.Delete(znode, stat.Version)
		if errors.Is(err, zk.ErrBadVersion) {
			continue
		}
		if errors.Is(err, zk.ErrNoNode) {
			return nil, durablemap.ErrNoSuchKey
		}
		if err != nil {
			return nil, fmt.Errorf("zkstore: delete %q: %w", key, err)
		}
		if err := s.touch(); err != nil {
			return nil, err
		}
		return data, nil
	}
}

// Ensure implements durablemap.Ensurer.
func (s *Store) Ensure(ctx context.Context, key string, value []byte) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	znode := s.path(key)
	for {
		_, err := s.conn.Create(znode, value, 0, zk.WorldACL(zk.PermAll))
		if err == nil {
			if err := s.touch(); err != nil {
				return nil, err
			}
			return value, nil
		}
		if !errors.Is(err, zk.ErrNodeExists) {
			return nil, fmt.Errorf("zkstore: create %q: %w", key, err)
		}

		data, _, err := s.conn.Get(znode)
		if errors.Is(err, zk.ErrNoNode) {
			// The winner vanished already; try to win again.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("zkstore: get %q: %w", key, err)
		}
		return data, nil
	}
}
