// Package state holds the loaded item graph: an arena of root items keyed by
// id, with edges stored as ids. It also addresses nested items inside a
// root's attribute tree by nested id.
package state

import (
	"context"
	"encoding/json"

	"github.com/nathoo/lorekeep/types"
)

// Loader fetches a batch of root items. Missing ids are silently omitted.
type Loader interface {
	LoadItems(ctx context.Context, ids []int64) ([]*types.Item, error)
}

// Graph is an arena of loaded root items. References between items are ids;
// a reference to an id that is not in the graph is dangling and resolves to
// absent.
type Graph struct {
	items map[int64]*types.Item
}

// NewGraph creates a graph holding the given items.
func NewGraph(items ...*types.Item) *Graph {
	g := &Graph{items: make(map[int64]*types.Item, len(items))}
	for _, it := range items {
		g.Put(it)
	}
	return g
}

// Put adds or replaces a root item.
func (g *Graph) Put(item *types.Item) {
	if item == nil {
		return
	}
	g.items[item.ID] = item
}

// Get returns the root item with the given id.
func (g *Graph) Get(id int64) (*types.Item, bool) {
	it, ok := g.items[id]
	return it, ok
}

// Load pulls rootIDs and everything they reference (extends edges and
// terminal values, also from nested items) into the graph. Ids the loader
// does not return stay dangling.
func (g *Graph) Load(ctx context.Context, l Loader, rootIDs ...int64) error {
	requested := map[int64]bool{}
	pending := rootIDs
	for len(pending) > 0 {
		var batch []int64
		for _, id := range pending {
			if _, ok := g.items[id]; ok || requested[id] {
				continue
			}
			requested[id] = true
			batch = append(batch, id)
		}
		if len(batch) == 0 {
			return nil
		}
		items, err := l.LoadItems(ctx, batch)
		if err != nil {
			return err
		}
		pending = nil
		for _, it := range items {
			g.Put(it)
			pending = append(pending, References(it)...)
		}
	}
	return nil
}

// References returns the ids of all stored items that item points at, in
// first-seen order without duplicates.
func References(item *types.Item) []int64 {
	var out []int64
	seen := map[int64]bool{}
	Walk(item, func(n *types.Item) {
		for _, ref := range n.Extends {
			if !seen[ref.ID] {
				seen[ref.ID] = true
				out = append(out, ref.ID)
			}
		}
		for _, attr := range n.Attributes {
			for _, v := range attr.Values {
				if v.Terminal != nil && !seen[v.Terminal.ID] {
					seen[v.Terminal.ID] = true
					out = append(out, v.Terminal.ID)
				}
			}
		}
	})
	return out
}

// Walk calls fn for item and, depth-first, for every nested item beneath it.
func Walk(item *types.Item, fn func(*types.Item)) {
	if item == nil {
		return
	}
	fn(item)
	for _, attr := range item.Attributes {
		for _, v := range attr.Values {
			if v.Nested != nil {
				Walk(v.Nested, fn)
			}
		}
	}
}

// FindNested returns the node of root addressed by nestedID. RootNestedID
// addresses the root itself. It returns nil when no node matches.
func FindNested(root *types.Item, nestedID int64) *types.Item {
	if root == nil {
		return nil
	}
	if nestedID == types.RootNestedID {
		return root
	}
	var found *types.Item
	Walk(root, func(n *types.Item) {
		if found == nil && n != root && n.NestedID == nestedID {
			found = n
		}
	})
	return found
}

// NextNestedID allocates a nested id from the root's counter.
func NextNestedID(root *types.Item) int64 {
	if root.NextNestedID <= 0 {
		root.NextNestedID = 1
	}
	id := root.NextNestedID
	root.NextNestedID++
	return id
}

// NumberNested moves root's counter past every nested id in use, then gives
// each nested item still lacking an id one from the counter.
func NumberNested(root *types.Item) {
	Walk(root, func(n *types.Item) {
		if n != root && n.NestedID >= root.NextNestedID {
			root.NextNestedID = n.NestedID + 1
		}
	})
	Walk(root, func(n *types.Item) {
		if n != root && n.NestedID <= 0 {
			n.NestedID = NextNestedID(root)
		}
	})
}

// Clone returns a deep copy of item, so callers can mutate a definition
// without touching a cached or shared one.
func Clone(item *types.Item) *types.Item {
	if item == nil {
		return nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		panic("state: clone: " + err.Error())
	}
	var out types.Item
	if err := json.Unmarshal(data, &out); err != nil {
		panic("state: clone: " + err.Error())
	}
	return &out
}
