// Package memory implements storage.Store in process memory. It backs tests
// and ephemeral console sessions, and is the working set of the jsonfile
// store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nathoo/lorekeep/engine/state"
	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/types"
)

// Data is the complete content of a store, used to persist and restore it.
type Data struct {
	Items      []*types.Item    `json:"items"`
	Settings   []*types.Setting `json:"settings"`
	Buckets    []BucketRow      `json:"buckets"`
	NextItemID int64            `json:"nextItemId"`
	NextSetID  int64            `json:"nextSettingId"`
}

// BucketRow is one index membership.
type BucketRow struct {
	storage.Bucket
	ItemID int64 `json:"itemId"`
}

// Store is an in-memory storage.Store. Items are copied on the way in and
// out, so callers never share definitions with the store.
type Store struct {
	mu       sync.RWMutex
	items    map[int64]*types.Item
	settings map[int64]*types.Setting
	buckets  map[storage.Bucket]map[int64]bool
	nextItem int64
	nextSet  int64
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		items:    map[int64]*types.Item{},
		settings: map[int64]*types.Setting{},
		buckets:  map[storage.Bucket]map[int64]bool{},
		nextItem: 1,
		nextSet:  1,
	}
}

// FromData restores a store from d.
func FromData(d *Data) *Store {
	s := New()
	if d == nil {
		return s
	}
	for _, it := range d.Items {
		s.items[it.ID] = state.Clone(it)
		if it.ID >= s.nextItem {
			s.nextItem = it.ID + 1
		}
	}
	for _, st := range d.Settings {
		c := *st
		s.settings[st.ID] = &c
		if st.ID >= s.nextSet {
			s.nextSet = st.ID + 1
		}
	}
	for _, row := range d.Buckets {
		s.addToBucket(row.Bucket, row.ItemID)
	}
	if d.NextItemID > s.nextItem {
		s.nextItem = d.NextItemID
	}
	if d.NextSetID > s.nextSet {
		s.nextSet = d.NextSetID
	}
	return s
}

// Data returns a copy of the store content in a stable order.
func (s *Store) Data() *Data {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := &Data{NextItemID: s.nextItem, NextSetID: s.nextSet}
	for _, id := range sortedKeys(s.items) {
		d.Items = append(d.Items, state.Clone(s.items[id]))
	}
	for _, id := range sortedKeys(s.settings) {
		c := *s.settings[id]
		d.Settings = append(d.Settings, &c)
	}
	for b, members := range s.buckets {
		for id := range members {
			d.Buckets = append(d.Buckets, BucketRow{Bucket: b, ItemID: id})
		}
	}
	sort.Slice(d.Buckets, func(i, j int) bool {
		a, b := d.Buckets[i], d.Buckets[j]
		if a.AncestorID != b.AncestorID {
			return a.AncestorID < b.AncestorID
		}
		if a.SettingID != b.SettingID {
			return a.SettingID < b.SettingID
		}
		return a.ItemID < b.ItemID
	})
	return d
}

func (s *Store) LoadItem(ctx context.Context, id int64) (*types.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, &storage.NotFoundError{Kind: "item", ID: id}
	}
	return state.Clone(it), nil
}

func (s *Store) LoadItems(ctx context.Context, ids []int64) ([]*types.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, state.Clone(it))
		}
	}
	return out, nil
}

func (s *Store) SaveItem(ctx context.Context, item *types.Item) (*types.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := state.Clone(item)
	if c.ID == 0 {
		c.ID = s.nextItem
		s.nextItem++
	} else if c.ID >= s.nextItem {
		s.nextItem = c.ID + 1
	}
	s.items[c.ID] = c
	return state.Clone(c), nil
}

// DeleteItem removes the item and its index memberships. Items pointing at
// it are left dangling.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return &storage.NotFoundError{Kind: "item", ID: id}
	}
	delete(s.items, id)
	for b, members := range s.buckets {
		delete(members, id)
		if b.AncestorID == id || len(members) == 0 {
			delete(s.buckets, b)
		}
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context, settingIDs []int64, filter storage.Filter) ([]types.ItemName, error) {
	return s.list(ctx, settingIDs, func(it *types.Item) bool { return filter.Match(it) })
}

func (s *Store) ListTypes(ctx context.Context, settingIDs []int64) ([]types.ItemName, error) {
	return s.list(ctx, settingIDs, func(it *types.Item) bool { return it.IsType })
}

func (s *Store) list(ctx context.Context, settingIDs []int64, keep func(*types.Item) bool) ([]types.ItemName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	inSetting := setOf(settingIDs)
	var out []types.ItemName
	for _, it := range s.items {
		if len(inSetting) > 0 && !inSetting[it.SettingID] {
			continue
		}
		if keep(it) {
			out = append(out, types.ItemName{ID: it.ID, Name: it.Name})
		}
	}
	storage.SortNames(out)
	return out, nil
}

func (s *Store) SaveSetting(ctx context.Context, setting *types.Setting) (*types.Setting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *setting
	c.Dependencies = append([]int64(nil), setting.Dependencies...)
	if c.ID == 0 {
		c.ID = s.nextSet
		s.nextSet++
	} else if c.ID >= s.nextSet {
		s.nextSet = c.ID + 1
	}
	s.settings[c.ID] = &c
	out := c
	return &out, nil
}

func (s *Store) LoadSetting(ctx context.Context, id int64) (*types.Setting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settings[id]
	if !ok {
		return nil, &storage.NotFoundError{Kind: "setting", ID: id}
	}
	c := *st
	c.Dependencies = append([]int64(nil), st.Dependencies...)
	return &c, nil
}

func (s *Store) DependencyClosure(ctx context.Context, id int64) ([]int64, error) {
	return storage.Closure(ctx, id, s.LoadSetting)
}

func (s *Store) IndexBuckets(ctx context.Context, ancestorID int64) ([]storage.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Bucket
	for b := range s.buckets {
		if b.AncestorID == ancestorID {
			out = append(out, b)
		}
	}
	sortBuckets(out)
	return out, nil
}

func (s *Store) BucketsContaining(ctx context.Context, itemID int64) ([]storage.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Bucket
	for b, members := range s.buckets {
		if members[itemID] {
			out = append(out, b)
		}
	}
	sortBuckets(out)
	return out, nil
}

func (s *Store) AddToBucket(ctx context.Context, b storage.Bucket, itemID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addToBucket(b, itemID)
	return nil
}

func (s *Store) addToBucket(b storage.Bucket, itemID int64) {
	members, ok := s.buckets[b]
	if !ok {
		members = map[int64]bool{}
		s.buckets[b] = members
	}
	members[itemID] = true
}

func (s *Store) RemoveFromBucket(ctx context.Context, b storage.Bucket, itemID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if members, ok := s.buckets[b]; ok {
		delete(members, itemID)
		if len(members) == 0 {
			delete(s.buckets, b)
		}
	}
	return nil
}

func (s *Store) QueryBuckets(ctx context.Context, ancestorIDs, settingIDs []int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := map[int64]bool{}
	for _, a := range ancestorIDs {
		for _, st := range settingIDs {
			for id := range s.buckets[storage.Bucket{AncestorID: a, SettingID: st}] {
				found[id] = true
			}
		}
	}
	return sortedKeys(found), nil
}

func (s *Store) Close() error { return nil }

func setOf(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func sortedKeys[V any](m map[int64]V) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortBuckets(bs []storage.Bucket) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].AncestorID != bs[j].AncestorID {
			return bs[i].AncestorID < bs[j].AncestorID
		}
		return bs[i].SettingID < bs[j].SettingID
	})
}
