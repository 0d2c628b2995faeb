package engine

import (
	"context"
	"slices"

	"github.com/nathoo/lorekeep/engine/save"
	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/types"
)

// Export collects every stored item with the settings they belong to and
// the settings those depend on. Settings are ordered by id.
func (e *Engine) Export(ctx context.Context) (*save.Dump, error) {
	names, err := e.store.ListItems(ctx, nil, storage.Filter{})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(names))
	for i, n := range names {
		ids[i] = n.ID
	}
	items, err := e.store.LoadItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	var settings []*types.Setting
	for _, it := range items {
		if it.SettingID == 0 || seen[it.SettingID] {
			continue
		}
		closure, err := e.store.DependencyClosure(ctx, it.SettingID)
		if err != nil {
			return nil, err
		}
		for _, sid := range closure {
			if seen[sid] {
				continue
			}
			seen[sid] = true
			s, err := e.store.LoadSetting(ctx, sid)
			if err != nil {
				return nil, err
			}
			settings = append(settings, s)
		}
	}
	slices.SortFunc(settings, func(a, b *types.Setting) int { return int(a.ID - b.ID) })
	return &save.Dump{Version: save.Version, Settings: settings, Items: items}, nil
}
