// Package engine provides the Engine orchestrator that wires storage,
// resolution, formula rating, mutation effects and the type-closure index
// into item operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nathoo/lorekeep/engine/decimal"
	"github.com/nathoo/lorekeep/engine/effects"
	"github.com/nathoo/lorekeep/engine/events"
	"github.com/nathoo/lorekeep/engine/index"
	"github.com/nathoo/lorekeep/engine/resolve"
	"github.com/nathoo/lorekeep/engine/state"
	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/types"
)

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger
	// AsyncReindex moves index propagation off the mutating call.
	AsyncReindex bool
}

// Engine runs item operations against a store.
type Engine struct {
	store  storage.Store
	index  *index.Indexer
	events *events.Dispatcher
	log    *slog.Logger
}

// New creates an engine over store.
func New(store storage.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:  store,
		index:  index.New(store, logger),
		events: events.New(opts.AsyncReindex, logger),
		log:    logger,
	}
	e.events.On(effects.EventExtendsChanged, e.onExtendsChanged)
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() storage.Store { return e.store }

// Wait blocks until background reindexing has drained.
func (e *Engine) Wait() { e.events.Wait() }

func (e *Engine) onExtendsChanged(ctx context.Context, ev types.Event) error {
	id, ok := ev.Data["item"].(int64)
	if !ok {
		return fmt.Errorf("event without item id: %v", ev.Data)
	}
	return e.index.Reindex(ctx, id)
}

// resolver loads root and everything it references into a fresh graph.
func (e *Engine) resolver(ctx context.Context, root *types.Item) (*resolve.Resolver, error) {
	g := state.NewGraph(root)
	if err := g.Load(ctx, e.store, state.References(root)...); err != nil {
		return nil, fmt.Errorf("load graph of item %d: %w", root.ID, err)
	}
	return resolve.New(g, e.log), nil
}

func (e *Engine) view(ctx context.Context, id, nestedID int64) (*resolve.Resolver, *resolve.View, error) {
	item, err := e.store.LoadItem(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	r, err := e.resolver(ctx, item)
	if err != nil {
		return nil, nil, err
	}
	v, err := r.ResolveNested(id, nestedID)
	if err != nil {
		return nil, nil, err
	}
	return r, v, nil
}

// Get returns the combined view of item id.
func (e *Engine) Get(ctx context.Context, id int64) (*resolve.View, error) {
	_, v, err := e.view(ctx, id, types.RootNestedID)
	return v, err
}

// GetNested returns the combined view of a node inside item id.
func (e *Engine) GetNested(ctx context.Context, id, nestedID int64) (*resolve.View, error) {
	_, v, err := e.view(ctx, id, nestedID)
	return v, err
}

// Rate evaluates the combined formula of item id. Formula failures yield
// NaN, not an error.
func (e *Engine) Rate(ctx context.Context, id int64) (decimal.Decimal, error) {
	r, v, err := e.view(ctx, id, types.RootNestedID)
	if err != nil {
		return decimal.NaN, err
	}
	return r.Rate(v), nil
}

// RateText renders the rate of item id for display.
func (e *Engine) RateText(ctx context.Context, id int64) (string, error) {
	r, v, err := e.view(ctx, id, types.RootNestedID)
	if err != nil {
		return "", err
	}
	return r.RateText(v), nil
}

// RateTextNested renders the rate of a node inside item id.
func (e *Engine) RateTextNested(ctx context.Context, id, nestedID int64) (string, error) {
	r, v, err := e.view(ctx, id, nestedID)
	if err != nil {
		return "", err
	}
	return r.RateText(v), nil
}

// IsAbstract reports whether item id still lacks a required value.
func (e *Engine) IsAbstract(ctx context.Context, id int64) (bool, error) {
	v, err := e.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return v.IsAbstract(), nil
}

// List returns the items of settingID matching filter. Zero lists every
// setting.
func (e *Engine) List(ctx context.Context, settingID int64, filter storage.Filter) ([]types.ItemName, error) {
	var settings []int64
	if settingID != 0 {
		settings = []int64{settingID}
	}
	return e.store.ListItems(ctx, settings, filter)
}

// ByAncestors returns the items visible from settingID that descend from any
// of ancestorIDs.
func (e *Engine) ByAncestors(ctx context.Context, settingID int64, ancestorIDs []int64) ([]types.ItemName, error) {
	return e.index.Query(ctx, settingID, ancestorIDs)
}

// Types returns the type items visible from settingID.
func (e *Engine) Types(ctx context.Context, settingID int64) ([]types.ItemName, error) {
	return e.index.Query(ctx, settingID, []int64{types.TypeType})
}

// Reindex refreshes the index memberships of item id and its descendants.
func (e *Engine) Reindex(ctx context.Context, id int64) error {
	return e.index.Reindex(ctx, id)
}

// ReindexAll rebuilds the memberships of every stored item.
func (e *Engine) ReindexAll(ctx context.Context) (int, error) {
	return e.index.ReindexAll(ctx)
}

// AddSetting stores a new or updated setting.
func (e *Engine) AddSetting(ctx context.Context, s *types.Setting) (*types.Setting, error) {
	return e.store.SaveSetting(ctx, s)
}

// Add stores a new item and indexes it. Nested items without an id get one.
func (e *Engine) Add(ctx context.Context, item *types.Item) (*resolve.View, error) {
	if item.ID != 0 {
		return nil, fmt.Errorf("add item: id %d already assigned", item.ID)
	}
	item = state.Clone(item)
	state.NumberNested(item)
	if err := e.checkRefs(ctx, item); err != nil {
		return nil, err
	}

	saved, err := e.store.SaveItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("save item: %w", err)
	}
	if err := e.check(ctx, saved); err != nil {
		if derr := e.store.DeleteItem(ctx, saved.ID); derr != nil {
			e.log.Warn("rollback of rejected item failed", "item", saved.ID, "error", derr)
		}
		return nil, err
	}
	e.log.Info("item added", "item", saved.ID, "name", saved.Name)

	ev := types.Event{Type: effects.EventExtendsChanged, Data: map[string]any{"item": saved.ID}}
	if err := e.events.Dispatch(ctx, []types.Event{ev}); err != nil {
		return nil, err
	}
	return e.Get(ctx, saved.ID)
}

// Remove deletes item id. Items referring to it are left dangling; those
// extending it are reindexed.
func (e *Engine) Remove(ctx context.Context, id int64) error {
	dependents, err := e.index.Dependents(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	e.log.Info("item removed", "item", id, "dependents", len(dependents))

	evs := make([]types.Event, len(dependents))
	for i, d := range dependents {
		evs[i] = types.Event{Type: effects.EventExtendsChanged, Data: map[string]any{"item": d}}
	}
	return e.events.Dispatch(ctx, evs)
}

// checkRefs fails with NotFound when item extends a stored item that does
// not exist.
func (e *Engine) checkRefs(ctx context.Context, item *types.Item) error {
	var ids []int64
	state.Walk(item, func(n *types.Item) {
		for _, ref := range n.Extends {
			ids = append(ids, ref.ID)
		}
	})
	for _, id := range ids {
		if err := e.exists(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) exists(ctx context.Context, id int64) error {
	items, err := e.store.LoadItems(ctx, []int64{id})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return &storage.NotFoundError{Kind: "item", ID: id}
	}
	return nil
}

// check resolves root and every nested node in a trial graph so an extends
// cycle is caught before it is persisted.
func (e *Engine) check(ctx context.Context, root *types.Item) error {
	r, err := e.resolver(ctx, root)
	if err != nil {
		return err
	}
	var nodes []int64
	state.Walk(root, func(n *types.Item) {
		if n != root {
			nodes = append(nodes, n.NestedID)
		}
	})
	if _, err := r.Resolve(root.ID); err != nil {
		return err
	}
	for _, nid := range nodes {
		if _, err := r.ResolveNested(root.ID, nid); err != nil {
			return err
		}
	}
	return nil
}

// mutate applies effs to item id and persists the result. validate, when
// set, sees the mutated definition before it is saved. Events are
// dispatched after the save. A mutation that changes nothing saves nothing.
func (e *Engine) mutate(ctx context.Context, id int64, validate func(*types.Item) error, effs ...types.Effect) ([]types.Event, error) {
	// 1. Load a private copy.
	item, err := e.store.LoadItem(ctx, id)
	if err != nil {
		return nil, err
	}
	next := state.Clone(item)

	// 2. Apply.
	evs := effects.Apply(next, effs)
	if len(evs) == 0 {
		return nil, nil
	}

	// 3. Validate.
	if validate != nil {
		if err := validate(next); err != nil {
			return nil, err
		}
	}

	// 4. Persist, then notify.
	if _, err := e.store.SaveItem(ctx, next); err != nil {
		return nil, fmt.Errorf("save item %d: %w", id, err)
	}
	e.log.Debug("item mutated", "item", id, "effects", len(effs), "events", len(evs))
	if err := e.events.Dispatch(ctx, evs); err != nil {
		return evs, err
	}
	return evs, nil
}

func effect(typ string, nestedID int64, params map[string]any) types.Effect {
	return types.Effect{Type: typ, NestedID: nestedID, Params: params}
}

func (e *Engine) set(ctx context.Context, id, nestedID int64, typ string, params map[string]any) error {
	_, err := e.mutate(ctx, id, nil, effect(typ, nestedID, params))
	return err
}

// SetName renames a node.
func (e *Engine) SetName(ctx context.Context, id, nestedID int64, name string) error {
	return e.set(ctx, id, nestedID, effects.SetName, map[string]any{"name": name})
}

// SetPath sets the folder label of a node.
func (e *Engine) SetPath(ctx context.Context, id, nestedID int64, path string) error {
	return e.set(ctx, id, nestedID, effects.SetPath, map[string]any{"path": path})
}

// SetSetting moves a node to another setting.
func (e *Engine) SetSetting(ctx context.Context, id, nestedID, settingID int64) error {
	if _, err := e.store.LoadSetting(ctx, settingID); err != nil {
		return err
	}
	return e.set(ctx, id, nestedID, effects.SetSetting, map[string]any{"setting": settingID})
}

func (e *Engine) SetFormula(ctx context.Context, id, nestedID int64, formula string) error {
	return e.set(ctx, id, nestedID, effects.SetFormula, map[string]any{"formula": formula})
}

func (e *Engine) SetIsType(ctx context.Context, id, nestedID int64, v bool) error {
	return e.set(ctx, id, nestedID, effects.SetIsType, map[string]any{"value": v})
}

func (e *Engine) SetIsFinal(ctx context.Context, id, nestedID int64, v bool) error {
	return e.set(ctx, id, nestedID, effects.SetIsFinal, map[string]any{"value": v})
}

func (e *Engine) SetDescription(ctx context.Context, id, nestedID int64, description string) error {
	return e.set(ctx, id, nestedID, effects.SetDescription, map[string]any{"description": description})
}

func (e *Engine) SetGroups(ctx context.Context, id, nestedID int64, groups []string) error {
	return e.set(ctx, id, nestedID, effects.SetGroups, map[string]any{"groups": groups})
}

func (e *Engine) SetRank(ctx context.Context, id, nestedID int64, rank int) error {
	return e.set(ctx, id, nestedID, effects.SetRank, map[string]any{"rank": rank})
}

// AddExtends makes a node extend parentID and returns the node re-resolved.
// A parent that would close a cycle is rejected with a CycleError.
func (e *Engine) AddExtends(ctx context.Context, id, nestedID, parentID int64) (*resolve.View, error) {
	if err := e.exists(ctx, parentID); err != nil {
		return nil, err
	}
	_, err := e.mutate(ctx, id, func(next *types.Item) error {
		return e.check(ctx, next)
	}, effect(effects.AddExtends, nestedID, map[string]any{"parent": parentID}))
	if err != nil {
		return nil, err
	}
	return e.refreshed(ctx, id, nestedID)
}

// RemoveExtends drops parentID from a node's parents and returns the node
// re-resolved.
func (e *Engine) RemoveExtends(ctx context.Context, id, nestedID, parentID int64) (*resolve.View, error) {
	if _, err := e.mutate(ctx, id, nil, effect(effects.RemoveExtends, nestedID, map[string]any{"parent": parentID})); err != nil {
		return nil, err
	}
	return e.refreshed(ctx, id, nestedID)
}

// refreshed resolves a node after a mutation. An unknown nested id was a
// no-op, so there is nothing to return.
func (e *Engine) refreshed(ctx context.Context, id, nestedID int64) (*resolve.View, error) {
	v, err := e.GetNested(ctx, id, nestedID)
	var nl *resolve.NotLoadedError
	if errors.As(err, &nl) && nl.NestedID == nestedID && nestedID != types.RootNestedID {
		return nil, nil
	}
	return v, err
}

// AddAllowedExtension offers extID as a suggested extension of a node.
func (e *Engine) AddAllowedExtension(ctx context.Context, id, nestedID, extID int64) error {
	ext, err := e.store.LoadItem(ctx, extID)
	if err != nil {
		return err
	}
	return e.set(ctx, id, nestedID, effects.AddAllowedExtension, map[string]any{
		"extension": types.ItemName{ID: ext.ID, Name: ext.Name},
	})
}

func (e *Engine) RemoveAllowedExtension(ctx context.Context, id, nestedID, extID int64) error {
	return e.set(ctx, id, nestedID, effects.RemoveAllowedExtension, map[string]any{"id": extID})
}

// AddMetadata declares an attribute on a node. A name already declared by
// the node is a no-op.
func (e *Engine) AddMetadata(ctx context.Context, id, nestedID int64, md types.Metadata) error {
	return e.set(ctx, id, nestedID, effects.AddMetadata, map[string]any{"metadata": md})
}

func (e *Engine) RemoveMetadata(ctx context.Context, id, nestedID int64, attribute string) error {
	return e.set(ctx, id, nestedID, effects.RemoveMetadata, map[string]any{"attribute": attribute})
}

// ModifyMetadata replaces the descriptor of attribute; a new name renames
// the attribute's own values too.
func (e *Engine) ModifyMetadata(ctx context.Context, id, nestedID int64, attribute string, md types.Metadata) error {
	return e.set(ctx, id, nestedID, effects.ModifyMetadata, map[string]any{"attribute": attribute, "metadata": md})
}

func (e *Engine) MoveMetadataUp(ctx context.Context, id, nestedID int64, attribute string) error {
	return e.set(ctx, id, nestedID, effects.MoveMetadataUp, map[string]any{"attribute": attribute})
}

func (e *Engine) MoveMetadataDown(ctx context.Context, id, nestedID int64, attribute string) error {
	return e.set(ctx, id, nestedID, effects.MoveMetadataDown, map[string]any{"attribute": attribute})
}

// declared fails with UnknownAttributeError when the node has no values for
// attribute and no own or inherited metadata declaring it.
func (e *Engine) declared(ctx context.Context, id, nestedID int64, attribute string) error {
	v, err := e.GetNested(ctx, id, nestedID)
	var nl *resolve.NotLoadedError
	if errors.As(err, &nl) && nl.NestedID == nestedID && nestedID != types.RootNestedID {
		return nil
	}
	if err != nil {
		return err
	}
	for _, a := range v.Item.Attributes {
		if a.Name == attribute {
			return nil
		}
	}
	if _, ok := v.Descriptor(attribute); ok {
		return nil
	}
	return &UnknownAttributeError{ID: id, NestedID: nestedID, Attribute: attribute}
}

// AddAttributePrimitiveValue appends a scalar to attribute.
func (e *Engine) AddAttributePrimitiveValue(ctx context.Context, id, nestedID int64, attribute, value string) error {
	if err := e.declared(ctx, id, nestedID, attribute); err != nil {
		return err
	}
	return e.set(ctx, id, nestedID, effects.AddPrimitiveValue, map[string]any{"attribute": attribute, "value": value})
}

// AddAttributeTerminalValue appends a reference to stored item targetID.
func (e *Engine) AddAttributeTerminalValue(ctx context.Context, id, nestedID int64, attribute string, targetID int64) error {
	if err := e.exists(ctx, targetID); err != nil {
		return err
	}
	if err := e.declared(ctx, id, nestedID, attribute); err != nil {
		return err
	}
	return e.set(ctx, id, nestedID, effects.AddTerminalValue, map[string]any{"attribute": attribute, "target": targetID})
}

// AddAttributeNestedValue appends a new nested item extending baseID and
// named after it. It returns the new nested id, or 0 when the addressed
// node does not exist.
func (e *Engine) AddAttributeNestedValue(ctx context.Context, id, nestedID int64, attribute string, baseID int64) (int64, error) {
	base, err := e.Get(ctx, baseID)
	if err != nil {
		return 0, err
	}
	if err := e.declared(ctx, id, nestedID, attribute); err != nil {
		return 0, err
	}
	evs, err := e.mutate(ctx, id, func(next *types.Item) error {
		return e.check(ctx, next)
	}, effect(effects.AddNestedValue, nestedID, map[string]any{
		"attribute": attribute, "base": baseID, "name": base.CombinedName(),
	}))
	if err != nil {
		return 0, err
	}
	for _, ev := range evs {
		if ev.Type == effects.EventNestedCreated {
			created, _ := ev.Data["nested"].(int64)
			return created, nil
		}
	}
	return 0, nil
}

// AddAttributeItemValue adds targetID to attribute: as a nested value
// extending it when the target is abstract, otherwise as a reference. It
// returns the nested id created, or 0 for a reference.
func (e *Engine) AddAttributeItemValue(ctx context.Context, id, nestedID int64, attribute string, targetID int64) (int64, error) {
	abstract, err := e.IsAbstract(ctx, targetID)
	if err != nil {
		return 0, err
	}
	if abstract {
		return e.AddAttributeNestedValue(ctx, id, nestedID, attribute, targetID)
	}
	return 0, e.AddAttributeTerminalValue(ctx, id, nestedID, attribute, targetID)
}

// RemoveAttributeValue removes the own value at index of attribute.
func (e *Engine) RemoveAttributeValue(ctx context.Context, id, nestedID int64, attribute string, index int) error {
	return e.set(ctx, id, nestedID, effects.RemoveValue, map[string]any{"attribute": attribute, "index": index})
}

// ModifyAttributePrimitiveValue replaces the scalar at index of attribute.
func (e *Engine) ModifyAttributePrimitiveValue(ctx context.Context, id, nestedID int64, attribute string, index int, value string) error {
	return e.set(ctx, id, nestedID, effects.ModifyPrimitiveValue, map[string]any{
		"attribute": attribute, "index": index, "value": value,
	})
}

func (e *Engine) MoveAttributeValueUp(ctx context.Context, id, nestedID int64, attribute string, index int) error {
	return e.set(ctx, id, nestedID, effects.MoveValueUp, map[string]any{"attribute": attribute, "index": index})
}

func (e *Engine) MoveAttributeValueDown(ctx context.Context, id, nestedID int64, attribute string, index int) error {
	return e.set(ctx, id, nestedID, effects.MoveValueDown, map[string]any{"attribute": attribute, "index": index})
}
