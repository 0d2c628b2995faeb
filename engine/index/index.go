// Package index maintains the type-closure index: for every (ancestor,
// setting) pair, the items of that setting that have the ancestor anywhere
// in their transitive extends closure.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/types"
)

// Indexer keeps index buckets in step with the stored extends graph.
type Indexer struct {
	store storage.Store
	log   *slog.Logger
}

// New creates an indexer over store. A nil logger means slog.Default().
func New(store storage.Store, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: store, log: logger}
}

// Reindex refreshes the memberships of item id, then of every item
// transitively extending it, until nothing changes. A deleted item loses
// all its memberships.
func (x *Indexer) Reindex(ctx context.Context, id int64) error {
	queue := []int64{id}
	done := map[int64]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if done[cur] {
			continue
		}
		done[cur] = true

		changed, err := x.reindexOne(ctx, cur)
		if err != nil {
			return err
		}
		if !changed && cur != id {
			continue
		}
		dependents, err := x.Dependents(ctx, cur)
		if err != nil {
			return err
		}
		for _, d := range dependents {
			if !done[d] {
				queue = append(queue, d)
			}
		}
	}
	return nil
}

// ReindexAll refreshes every stored item.
func (x *Indexer) ReindexAll(ctx context.Context) (int, error) {
	names, err := x.store.ListItems(ctx, nil, storage.Filter{})
	if err != nil {
		return 0, err
	}
	for _, n := range names {
		if _, err := x.reindexOne(ctx, n.ID); err != nil {
			return 0, fmt.Errorf("reindex item %d: %w", n.ID, err)
		}
	}
	return len(names), nil
}

// reindexOne diffs the wanted buckets of id against its current ones.
func (x *Indexer) reindexOne(ctx context.Context, id int64) (bool, error) {
	current, err := x.store.BucketsContaining(ctx, id)
	if err != nil {
		return false, err
	}

	want := map[storage.Bucket]bool{}
	item, err := x.store.LoadItem(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return false, err
	default:
		ancestors, err := Ancestors(ctx, x.store, item)
		if err != nil {
			return false, err
		}
		for _, a := range ancestors {
			want[storage.Bucket{AncestorID: a, SettingID: item.SettingID}] = true
		}
	}

	changed := false
	have := map[storage.Bucket]bool{}
	for _, b := range current {
		have[b] = true
		if !want[b] {
			if err := x.store.RemoveFromBucket(ctx, b, id); err != nil {
				return false, err
			}
			changed = true
		}
	}
	for b := range want {
		if !have[b] {
			if err := x.store.AddToBucket(ctx, b, id); err != nil {
				return false, err
			}
			changed = true
		}
	}
	if changed {
		x.log.Debug("reindexed item", "item", id, "buckets", len(want))
	}
	return changed, nil
}

// Dependents returns the items currently indexed under id, in any setting.
func (x *Indexer) Dependents(ctx context.Context, id int64) ([]int64, error) {
	buckets, err := x.store.IndexBuckets(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, nil
	}
	settings := make([]int64, len(buckets))
	for i, b := range buckets {
		settings[i] = b.SettingID
	}
	return x.store.QueryBuckets(ctx, []int64{id}, settings)
}

// Ancestors loads the transitive extends closure of item level by level.
// Dangling parents are left out; cycles are cut.
func Ancestors(ctx context.Context, store storage.Store, item *types.Item) ([]int64, error) {
	var out []int64
	seen := map[int64]bool{item.ID: true}
	frontier := unseen(item.Extends, seen)
	for len(frontier) > 0 {
		parents, err := store.LoadItems(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = nil
		for _, p := range parents {
			out = append(out, p.ID)
			frontier = append(frontier, unseen(p.Extends, seen)...)
		}
	}
	return out, nil
}

func unseen(refs []types.Ref, seen map[int64]bool) []int64 {
	var out []int64
	for _, ref := range refs {
		if !seen[ref.ID] {
			seen[ref.ID] = true
			out = append(out, ref.ID)
		}
	}
	return out
}

// Query returns the items visible to settingID (through its dependency
// closure) that descend from any of ancestorIDs, sorted by name. The Type
// marker among ancestorIDs also selects every type item.
func (x *Indexer) Query(ctx context.Context, settingID int64, ancestorIDs []int64) ([]types.ItemName, error) {
	settings, err := x.store.DependencyClosure(ctx, settingID)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	var out []types.ItemName
	var bucketIDs []int64
	for _, a := range ancestorIDs {
		if a != types.TypeType {
			bucketIDs = append(bucketIDs, a)
			continue
		}
		typeItems, err := x.store.ListTypes(ctx, settings)
		if err != nil {
			return nil, err
		}
		for _, n := range typeItems {
			if !seen[n.ID] {
				seen[n.ID] = true
				out = append(out, n)
			}
		}
	}

	ids, err := x.store.QueryBuckets(ctx, bucketIDs, settings)
	if err != nil {
		return nil, err
	}
	var missing []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		items, err := x.store.LoadItems(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			out = append(out, types.ItemName{ID: it.ID, Name: it.Name})
		}
	}
	storage.SortNames(out)
	return out, nil
}
