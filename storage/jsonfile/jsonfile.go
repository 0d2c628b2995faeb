// Package jsonfile implements storage.Store as a single JSON document on
// disk, guarded by a cross-process file lock. Every operation reads the
// document under the lock; mutations write it back atomically.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/storage/memory"
	"github.com/nathoo/lorekeep/types"
)

const (
	fileVersion   = "1"
	lockTimeout   = 3 * time.Second
	retryInterval = 100 * time.Millisecond
)

type document struct {
	Version string `json:"version"`
	memory.Data
}

// Store is a JSON file storage.Store.
type Store struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// Open prepares a store at path. The file is created on the first write.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{path: path, lock: flock.New(path + ".lock")}, nil
}

// Close removes the lock file.
func (s *Store) Close() error {
	_ = os.Remove(s.path + ".lock")
	return nil
}

func (s *Store) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, retryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire file lock")
	}
	return func() { _ = s.lock.Unlock() }, nil
}

// view runs fn against a snapshot of the file.
func (s *Store) view(ctx context.Context, fn func(*memory.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	return fn(m)
}

// update runs fn against a snapshot of the file and writes the result back
// when fn succeeds.
func (s *Store) update(ctx context.Context, fn func(*memory.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return s.write(m)
}

func (s *Store) load() (*memory.Store, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return memory.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return memory.New(), nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if doc.Version != fileVersion {
		return nil, fmt.Errorf("%s: unsupported version %q", s.path, doc.Version)
	}
	return memory.FromData(&doc.Data), nil
}

func (s *Store) write(m *memory.Store) error {
	data, err := json.MarshalIndent(document{Version: fileVersion, Data: *m.Data()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *Store) LoadItem(ctx context.Context, id int64) (item *types.Item, err error) {
	err = s.view(ctx, func(m *memory.Store) error {
		item, err = m.LoadItem(ctx, id)
		return err
	})
	return item, err
}

func (s *Store) LoadItems(ctx context.Context, ids []int64) (items []*types.Item, err error) {
	err = s.view(ctx, func(m *memory.Store) error {
		items, err = m.LoadItems(ctx, ids)
		return err
	})
	return items, err
}

func (s *Store) SaveItem(ctx context.Context, item *types.Item) (saved *types.Item, err error) {
	err = s.update(ctx, func(m *memory.Store) error {
		saved, err = m.SaveItem(ctx, item)
		return err
	})
	return saved, err
}

func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	return s.update(ctx, func(m *memory.Store) error { return m.DeleteItem(ctx, id) })
}

func (s *Store) ListItems(ctx context.Context, settingIDs []int64, filter storage.Filter) (names []types.ItemName, err error) {
	err = s.view(ctx, func(m *memory.Store) error {
		names, err = m.ListItems(ctx, settingIDs, filter)
		return err
	})
	return names, err
}

func (s *Store) ListTypes(ctx context.Context, settingIDs []int64) (names []types.ItemName, err error) {
	err = s.view(ctx, func(m *memory.Store) error {
		names, err = m.ListTypes(ctx, settingIDs)
		return err
	})
	return names, err
}

func (s *Store) SaveSetting(ctx context.Context, setting *types.Setting) (saved *types.Setting, err error) {
	err = s.update(ctx, func(m *memory.Store) error {
		saved, err = m.SaveSetting(ctx, setting)
		return err
	})
	return saved, err
}

func (s *Store) LoadSetting(ctx context.Context, id int64) (setting *types.Setting, err error) {
	err = s.view(ctx, func(m *memory.Store) error {
		setting, err = m.LoadSetting(ctx, id)
		return err
	})
	return setting, err
}

func (s *Store) DependencyClosure(ctx context.Context, id int64) (ids []int64, err error) {
	err = s.view(ctx, func(m *memory.Store) error {
		ids, err = m.DependencyClosure(ctx, id)
		return err
	})
	return ids, err
}

func (s *Store) IndexBuckets(ctx context.Context, ancestorID int64) (buckets []storage.Bucket, err error) {
	err = s.view(ctx, func(m *memory.Store) error {
		buckets, err = m.IndexBuckets(ctx, ancestorID)
		return err
	})
	return buckets, err
}

func (s *Store) BucketsContaining(ctx context.Context, itemID int64) (buckets []storage.Bucket, err error) {
	err = s.view(ctx, func(m *memory.Store) error {
		buckets, err = m.BucketsContaining(ctx, itemID)
		return err
	})
	return buckets, err
}

func (s *Store) AddToBucket(ctx context.Context, b storage.Bucket, itemID int64) error {
	return s.update(ctx, func(m *memory.Store) error { return m.AddToBucket(ctx, b, itemID) })
}

func (s *Store) RemoveFromBucket(ctx context.Context, b storage.Bucket, itemID int64) error {
	return s.update(ctx, func(m *memory.Store) error { return m.RemoveFromBucket(ctx, b, itemID) })
}

func (s *Store) QueryBuckets(ctx context.Context, ancestorIDs, settingIDs []int64) (ids []int64, err error) {
	err = s.view(ctx, func(m *memory.Store) error {
		ids, err = m.QueryBuckets(ctx, ancestorIDs, settingIDs)
		return err
	})
	return ids, err
}
