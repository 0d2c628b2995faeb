// Package storage defines the persistence contract the engine consumes:
// item definitions, settings and the type-closure index buckets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nathoo/lorekeep/types"
)

// ErrNotFound matches every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a missing item or setting.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Bucket addresses one index bucket: the items of SettingID that have
// AncestorID in their transitive extends closure.
type Bucket struct {
	AncestorID int64
	SettingID  int64
}

// Filter narrows item listings. Zero values match everything.
type Filter struct {
	// Query matches a case-insensitive substring of the item name.
	Query string
	// Path matches the item path exactly.
	Path string
}

// Match reports whether item passes the filter.
func (f Filter) Match(item *types.Item) bool {
	if f.Path != "" && item.Path != f.Path {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(f.Query)) {
		return false
	}
	return true
}

// Store persists root items, settings and index buckets. Implementations
// serialize concurrent edits to the same item; the engine assumes exclusive
// access for the duration of one operation.
type Store interface {
	// LoadItem fails with ErrNotFound when id is absent.
	LoadItem(ctx context.Context, id int64) (*types.Item, error)
	// LoadItems omits missing ids.
	LoadItems(ctx context.Context, ids []int64) ([]*types.Item, error)
	// SaveItem inserts the item when its id is 0, assigning a fresh id, and
	// replaces it otherwise.
	SaveItem(ctx context.Context, item *types.Item) (*types.Item, error)
	DeleteItem(ctx context.Context, id int64) error
	// ListItems lists the items of settingIDs (all settings when empty)
	// sorted by name.
	ListItems(ctx context.Context, settingIDs []int64, filter Filter) ([]types.ItemName, error)
	// ListTypes lists the isType items of settingIDs sorted by name.
	ListTypes(ctx context.Context, settingIDs []int64) ([]types.ItemName, error)

	SaveSetting(ctx context.Context, setting *types.Setting) (*types.Setting, error)
	LoadSetting(ctx context.Context, id int64) (*types.Setting, error)
	// DependencyClosure returns id followed by every setting it depends on,
	// transitively.
	DependencyClosure(ctx context.Context, id int64) ([]int64, error)

	IndexBuckets(ctx context.Context, ancestorID int64) ([]Bucket, error)
	BucketsContaining(ctx context.Context, itemID int64) ([]Bucket, error)
	AddToBucket(ctx context.Context, b Bucket, itemID int64) error
	RemoveFromBucket(ctx context.Context, b Bucket, itemID int64) error
	// QueryBuckets returns the de-duplicated members of every bucket
	// (a, s) with a in ancestorIDs and s in settingIDs.
	QueryBuckets(ctx context.Context, ancestorIDs, settingIDs []int64) ([]int64, error)

	Close() error
}

// Closure walks setting dependencies breadth-first from id. Unknown
// dependencies are skipped; a missing root setting is ErrNotFound.
func Closure(ctx context.Context, id int64, load func(context.Context, int64) (*types.Setting, error)) ([]int64, error) {
	root, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	out := []int64{root.ID}
	seen := map[int64]bool{root.ID: true}
	queue := append([]int64(nil), root.Dependencies...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		s, err := load(ctx, cur)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cur)
		queue = append(queue, s.Dependencies...)
	}
	return out, nil
}

// SortNames orders item names by name, then id.
func SortNames(names []types.ItemName) {
	sort.Slice(names, func(i, j int) bool {
		if names[i].Name != names[j].Name {
			return names[i].Name < names[j].Name
		}
		return names[i].ID < names[j].ID
	})
}
