package loader

import (
	"context"
	"fmt"

	"github.com/nathoo/lorekeep/engine/state"
	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/types"
)

// Imported maps the keys of an imported bundle to the ids they were given.
type Imported struct {
	Settings map[string]int64
	Items    map[string]int64
}

// Import writes b into store as new settings and items. Index memberships
// are not touched; callers reindex afterwards.
func Import(ctx context.Context, store storage.Store, b *Bundle) (*Imported, error) {
	out := &Imported{Settings: map[string]int64{}, Items: map[string]int64{}}

	// 1. Settings, then their dependencies once every id is known.
	for _, s := range b.Settings {
		saved, err := store.SaveSetting(ctx, &types.Setting{Name: s.Name, Description: s.Description})
		if err != nil {
			return nil, fmt.Errorf("save setting %s: %w", s.Key, err)
		}
		out.Settings[s.Key] = saved.ID
	}
	for _, s := range b.Settings {
		if len(s.Depends) == 0 {
			continue
		}
		setting := &types.Setting{ID: out.Settings[s.Key], Name: s.Name, Description: s.Description}
		for _, d := range s.Depends {
			setting.Dependencies = append(setting.Dependencies, out.Settings[d])
		}
		if _, err := store.SaveSetting(ctx, setting); err != nil {
			return nil, fmt.Errorf("save setting %s: %w", s.Key, err)
		}
	}

	// 2. Reserve an id per item so references can be written.
	names := map[string]string{}
	for _, it := range b.Items {
		saved, err := store.SaveItem(ctx, &types.Item{Name: it.Name, SettingID: out.Settings[it.Setting]})
		if err != nil {
			return nil, fmt.Errorf("save item %s: %w", it.Key, err)
		}
		out.Items[it.Key] = saved.ID
		names[it.Key] = it.Name
	}

	// 3. Write the full definitions.
	for i := range b.Items {
		def := &b.Items[i]
		item := toItem(def, out.Items, names)
		item.ID = out.Items[def.Key]
		item.SettingID = out.Settings[def.Setting]
		state.NumberNested(item)
		if _, err := store.SaveItem(ctx, item); err != nil {
			return nil, fmt.Errorf("save item %s: %w", def.Key, err)
		}
	}
	return out, nil
}

func toItem(def *ItemDef, ids map[string]int64, names map[string]string) *types.Item {
	item := &types.Item{
		Name:        def.Name,
		Path:        def.Path,
		Description: def.Description,
		Formula:     def.Formula,
		Groups:      def.Groups,
		Rank:        def.Rank,
		IsType:      def.IsType,
		IsFinal:     def.IsFinal,
	}
	if item.Name == "" && len(def.Extends) > 0 {
		item.Name = names[def.Extends[0]]
	}
	for _, p := range def.Extends {
		item.Extends = append(item.Extends, types.Ref{ID: ids[p]})
	}
	for _, a := range def.Allowed {
		item.AllowedExtensions = append(item.AllowedExtensions, types.ItemName{ID: ids[a], Name: names[a]})
	}
	for _, md := range def.Meta {
		typeID := md.TypeID
		if md.TypeKey != "" {
			typeID = ids[md.TypeKey]
		}
		item.Metadata = append(item.Metadata, types.Metadata{
			AttributeName:  md.Name,
			TypeID:         typeID,
			IsSingle:       md.Single,
			AllowCreate:    md.Create,
			AllowReference: md.Reference,
			IsRequired:     md.Required,
		})
	}
	for _, a := range def.Values {
		attr := types.Attribute{Name: a.Name}
		for _, v := range a.Values {
			switch {
			case v.Primitive != nil:
				p := *v.Primitive
				attr.Values = append(attr.Values, types.Value{Primitive: &p})
			case v.Ref != "":
				attr.Values = append(attr.Values, types.Value{Terminal: &types.Ref{ID: ids[v.Ref]}})
			case v.Nested != nil:
				attr.Values = append(attr.Values, types.Value{Nested: toItem(v.Nested, ids, names)})
			}
		}
		item.Attributes = append(item.Attributes, attr)
	}
	return item
}
