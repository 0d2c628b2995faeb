// Package resolve computes combined views of items: effective metadata,
// allowed extensions and attribute values given a multiple-inheritance
// extends graph, including the shadow/merge rule for inherited values.
package resolve

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nathoo/lorekeep/engine/state"
	"github.com/nathoo/lorekeep/types"
)

// ErrCycle matches every CycleError.
var ErrCycle = errors.New("extends cycle")

// CycleError reports an extends or containment cycle. Path lists the root
// ids on the resolution stack, ending with the re-entered one.
type CycleError struct {
	Path []int64
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprint(id)
	}
	return "extends cycle: " + strings.Join(parts, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// NotLoadedError indicates an id missing from the graph.
type NotLoadedError struct {
	ID       int64
	NestedID int64
}

func (e *NotLoadedError) Error() string {
	if e.NestedID != types.RootNestedID {
		return fmt.Sprintf("item %d has no nested item %d", e.ID, e.NestedID)
	}
	return fmt.Sprintf("item %d is not loaded", e.ID)
}

type viewKey struct {
	root, nested int64
}

// Resolver builds views over a loaded graph. Views are memoized per
// Resolver; a Resolver is meant for one operation and is not safe for
// concurrent use.
type Resolver struct {
	graph *state.Graph
	log   *slog.Logger

	views  map[viewKey]*View
	stack  []viewKey
	rating map[*View]bool
}

// New creates a resolver over g. A nil logger means slog.Default().
func New(g *state.Graph, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		graph:  g,
		log:    logger,
		views:  map[viewKey]*View{},
		rating: map[*View]bool{},
	}
}

// Graph returns the graph the resolver reads.
func (r *Resolver) Graph() *state.Graph { return r.graph }

// Resolve returns the combined view of the root item id.
func (r *Resolver) Resolve(id int64) (*View, error) {
	item, ok := r.graph.Get(id)
	if !ok {
		return nil, &NotLoadedError{ID: id, NestedID: types.RootNestedID}
	}
	return r.build(item, id, types.RootNestedID)
}

// ResolveNested returns the view of a node inside root id. RootNestedID
// resolves the root itself.
func (r *Resolver) ResolveNested(id, nestedID int64) (*View, error) {
	root, ok := r.graph.Get(id)
	if !ok {
		return nil, &NotLoadedError{ID: id, NestedID: types.RootNestedID}
	}
	node := state.FindNested(root, nestedID)
	if node == nil {
		return nil, &NotLoadedError{ID: id, NestedID: nestedID}
	}
	return r.build(node, id, nestedID)
}

func (r *Resolver) onStack(k viewKey) bool {
	for _, s := range r.stack {
		if s == k {
			return true
		}
	}
	return false
}

func (r *Resolver) cycle(k viewKey) error {
	path := make([]int64, 0, len(r.stack)+1)
	for _, s := range r.stack {
		if len(path) == 0 || path[len(path)-1] != s.root {
			path = append(path, s.root)
		}
	}
	return &CycleError{Path: append(path, k.root)}
}

// build resolves item, owned by rootID, addressed by nestedID. Parents are
// built first; the item's own values come next, then every parent is merged
// in, last listed first, so earlier parents win single-valued conflicts.
func (r *Resolver) build(item *types.Item, rootID, nestedID int64) (*View, error) {
	k := viewKey{rootID, nestedID}
	if v, ok := r.views[k]; ok {
		return v, nil
	}
	if r.onStack(k) {
		return nil, r.cycle(k)
	}
	r.stack = append(r.stack, k)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	view := &View{Item: item, RootID: rootID, nestedID: nestedID}
	for _, ref := range item.Extends {
		parent, ok := r.graph.Get(ref.ID)
		if !ok {
			continue
		}
		pv, err := r.build(parent, parent.ID, types.RootNestedID)
		if err != nil {
			return nil, err
		}
		view.Parents = append(view.Parents, pv)
	}

	for _, attr := range item.Attributes {
		ra := &Attribute{Name: attr.Name}
		for i, val := range attr.Values {
			v, err := r.value(rootID, nestedID, attr.Name, i, val)
			if err != nil {
				return nil, err
			}
			if v != nil {
				ra.Own = append(ra.Own, v)
			}
		}
		if existing := view.Attribute(attr.Name); existing != nil {
			existing.Own = append(existing.Own, ra.Own...)
			continue
		}
		view.Attributes = append(view.Attributes, ra)
	}

	for i := len(view.Parents) - 1; i >= 0; i-- {
		view = Merge(view, view.Parents[i])
	}

	r.views[k] = view
	return view, nil
}

func (r *Resolver) value(rootID, nestedID int64, attr string, index int, val types.Value) (*Value, error) {
	v := &Value{
		Origin: Origin{RootID: rootID, NestedID: nestedID, Attribute: attr, Index: index},
		r:      r,
	}
	switch {
	case val.Primitive != nil:
		p := *val.Primitive
		v.Primitive = &p
	case val.Terminal != nil:
		v.RefID = val.Terminal.ID
	case val.Nested != nil:
		t, err := r.build(val.Nested, rootID, val.Nested.NestedID)
		if err != nil {
			return nil, err
		}
		v.nested = true
		v.target = t
	default:
		return nil, nil
	}
	return v, nil
}

// nameOf computes the combined name of a stored item straight from the
// graph, without building views, so terminal targets never re-enter the
// resolution stack.
func (r *Resolver) nameOf(id int64, seen map[int64]bool) string {
	item, ok := r.graph.Get(id)
	if !ok || seen[id] {
		return ""
	}
	seen[id] = true
	if item.Name != "" {
		return item.Name
	}
	for _, ref := range item.Extends {
		if n := r.nameOf(ref.ID, seen); n != "" {
			return n
		}
	}
	return ""
}

func (r *Resolver) groupsOf(id int64, seen map[int64]bool) []string {
	item, ok := r.graph.Get(id)
	if !ok || seen[id] {
		return nil
	}
	seen[id] = true
	out := append([]string(nil), item.Groups...)
	for _, ref := range item.Extends {
		out = append(out, r.groupsOf(ref.ID, seen)...)
	}
	return out
}

// Ancestors returns the transitive extends closure of a stored item, in
// first-seen order, without the item itself. Dangling ids are included;
// cycles are cut.
func Ancestors(g *state.Graph, id int64) []int64 {
	var out []int64
	seen := map[int64]bool{id: true}
	var walk func(int64)
	walk = func(cur int64) {
		item, ok := g.Get(cur)
		if !ok {
			return
		}
		for _, ref := range item.Extends {
			if seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true
			out = append(out, ref.ID)
			walk(ref.ID)
		}
	}
	walk(id)
	return out
}
