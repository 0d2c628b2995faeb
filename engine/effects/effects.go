// Package effects implements item mutation via the Apply function.
// Every effect type is one atomic field-level operation on a root item or
// one of its nested items. No validation happens here; misses are no-ops.
package effects

import (
	"github.com/nathoo/lorekeep/engine/state"
	"github.com/nathoo/lorekeep/types"
)

// Effect types.
const (
	SetName        = "set_name"
	SetPath        = "set_path"
	SetSetting     = "set_setting"
	SetFormula     = "set_formula"
	SetIsType      = "set_is_type"
	SetIsFinal     = "set_is_final"
	SetDescription = "set_description"
	SetGroups      = "set_groups"
	SetRank        = "set_rank"

	AddExtends             = "add_extends"
	RemoveExtends          = "remove_extends"
	AddAllowedExtension    = "add_allowed_extension"
	RemoveAllowedExtension = "remove_allowed_extension"

	AddMetadata      = "add_metadata"
	RemoveMetadata   = "remove_metadata"
	ModifyMetadata   = "modify_metadata"
	MoveMetadataUp   = "move_metadata_up"
	MoveMetadataDown = "move_metadata_down"

	AddPrimitiveValue    = "add_primitive_value"
	AddTerminalValue     = "add_terminal_value"
	AddNestedValue       = "add_nested_value"
	RemoveValue          = "remove_value"
	ModifyPrimitiveValue = "modify_primitive_value"
	MoveValueUp          = "move_value_up"
	MoveValueDown        = "move_value_down"
)

// Event types.
const (
	// EventExtendsChanged is emitted when a root item's ancestors or setting
	// may have changed, so its index memberships need refreshing.
	EventExtendsChanged = "extends_changed"
	// EventItemChanged is emitted for every other applied effect.
	EventItemChanged = "item_changed"
	// EventNestedCreated carries the nested id allocated by AddNestedValue.
	EventNestedCreated = "nested_created"
)

// Apply applies effects to root in order, mutating it. Effects whose
// nested id addresses no node are skipped. Returns the events emitted.
func Apply(root *types.Item, effects []types.Effect) []types.Event {
	var events []types.Event
	for _, eff := range effects {
		node := state.FindNested(root, eff.NestedID)
		if node == nil {
			continue
		}
		if ev, ok := apply(root, node, eff); ok {
			events = append(events, ev...)
		}
	}
	return events
}

func apply(root, node *types.Item, eff types.Effect) ([]types.Event, bool) {
	p := eff.Params
	changed := types.Event{
		Type: EventItemChanged,
		Data: map[string]any{"item": root.ID, "nested": eff.NestedID, "effect": eff.Type},
	}
	extendsChanged := types.Event{
		Type: EventExtendsChanged,
		Data: map[string]any{"item": root.ID},
	}

	switch eff.Type {
	case SetName:
		node.Name, _ = p["name"].(string)
	case SetPath:
		node.Path, _ = p["path"].(string)
	case SetSetting:
		node.SettingID = toInt64(p["setting"])
		if node == root {
			return []types.Event{changed, extendsChanged}, true
		}
	case SetFormula:
		node.Formula, _ = p["formula"].(string)
	case SetIsType:
		node.IsType, _ = p["value"].(bool)
	case SetIsFinal:
		node.IsFinal, _ = p["value"].(bool)
	case SetDescription:
		node.Description, _ = p["description"].(string)
	case SetGroups:
		groups, _ := p["groups"].([]string)
		node.Groups = append([]string(nil), groups...)
	case SetRank:
		node.Rank = int(toInt64(p["rank"]))

	case AddExtends:
		parent := toInt64(p["parent"])
		for _, ref := range node.Extends {
			if ref.ID == parent {
				return nil, false
			}
		}
		node.Extends = append(node.Extends, types.Ref{ID: parent})
		return []types.Event{changed, extendsChanged}, true
	case RemoveExtends:
		parent := toInt64(p["parent"])
		i := indexOf(len(node.Extends), func(i int) bool { return node.Extends[i].ID == parent })
		if i < 0 {
			return nil, false
		}
		node.Extends = append(node.Extends[:i], node.Extends[i+1:]...)
		return []types.Event{changed, extendsChanged}, true

	case AddAllowedExtension:
		ext, _ := p["extension"].(types.ItemName)
		for _, e := range node.AllowedExtensions {
			if e.ID == ext.ID {
				return nil, false
			}
		}
		node.AllowedExtensions = append(node.AllowedExtensions, ext)
	case RemoveAllowedExtension:
		id := toInt64(p["id"])
		i := indexOf(len(node.AllowedExtensions), func(i int) bool { return node.AllowedExtensions[i].ID == id })
		if i < 0 {
			return nil, false
		}
		node.AllowedExtensions = append(node.AllowedExtensions[:i], node.AllowedExtensions[i+1:]...)

	case AddMetadata:
		md, _ := p["metadata"].(types.Metadata)
		if md.AttributeName == "" || metadataIndex(node, md.AttributeName) >= 0 {
			return nil, false
		}
		node.Metadata = append(node.Metadata, md)
	case RemoveMetadata:
		name, _ := p["attribute"].(string)
		i := metadataIndex(node, name)
		if i < 0 {
			return nil, false
		}
		node.Metadata = append(node.Metadata[:i], node.Metadata[i+1:]...)
		if j := attributeIndex(node, name); j >= 0 {
			node.Attributes = append(node.Attributes[:j], node.Attributes[j+1:]...)
		}
	case ModifyMetadata:
		name, _ := p["attribute"].(string)
		md, _ := p["metadata"].(types.Metadata)
		i := metadataIndex(node, name)
		if i < 0 || md.AttributeName == "" {
			return nil, false
		}
		if md.AttributeName != name && metadataIndex(node, md.AttributeName) >= 0 {
			return nil, false
		}
		node.Metadata[i] = md
		if j := attributeIndex(node, name); j >= 0 {
			node.Attributes[j].Name = md.AttributeName
		}
	case MoveMetadataUp, MoveMetadataDown:
		name, _ := p["attribute"].(string)
		i := metadataIndex(node, name)
		j := i - 1
		if eff.Type == MoveMetadataDown {
			j = i + 1
		}
		if i < 0 || j < 0 || j >= len(node.Metadata) {
			return nil, false
		}
		node.Metadata[i], node.Metadata[j] = node.Metadata[j], node.Metadata[i]

	case AddPrimitiveValue:
		v, _ := p["value"].(string)
		addValue(node, p, types.Value{Primitive: &v})
	case AddTerminalValue:
		addValue(node, p, types.Value{Terminal: &types.Ref{ID: toInt64(p["target"])}})
	case AddNestedValue:
		name, _ := p["name"].(string)
		nested := &types.Item{NestedID: state.NextNestedID(root), Name: name}
		if base := toInt64(p["base"]); base != 0 {
			nested.Extends = []types.Ref{{ID: base}}
		}
		addValue(node, p, types.Value{Nested: nested})
		created := types.Event{
			Type: EventNestedCreated,
			Data: map[string]any{"item": root.ID, "nested": nested.NestedID},
		}
		return []types.Event{changed, created}, true
	case RemoveValue:
		a, i := valueAt(node, p)
		if a == nil {
			return nil, false
		}
		a.Values = append(a.Values[:i], a.Values[i+1:]...)
		if len(a.Values) == 0 {
			j := attributeIndex(node, a.Name)
			node.Attributes = append(node.Attributes[:j], node.Attributes[j+1:]...)
		}
	case ModifyPrimitiveValue:
		a, i := valueAt(node, p)
		if a == nil || a.Values[i].Primitive == nil {
			return nil, false
		}
		v, _ := p["value"].(string)
		a.Values[i].Primitive = &v
	case MoveValueUp, MoveValueDown:
		a, i := valueAt(node, p)
		if a == nil {
			return nil, false
		}
		j := i - 1
		if eff.Type == MoveValueDown {
			j = i + 1
		}
		if j < 0 || j >= len(a.Values) {
			return nil, false
		}
		a.Values[i], a.Values[j] = a.Values[j], a.Values[i]

	default:
		return nil, false
	}
	return []types.Event{changed}, true
}

// addValue appends v to the named attribute, creating the Attribute when
// the node has none yet.
func addValue(node *types.Item, p map[string]any, v types.Value) {
	name, _ := p["attribute"].(string)
	if j := attributeIndex(node, name); j >= 0 {
		node.Attributes[j].Values = append(node.Attributes[j].Values, v)
		return
	}
	node.Attributes = append(node.Attributes, types.Attribute{Name: name, Values: []types.Value{v}})
}

// valueAt returns the attribute named by p["attribute"] and the index in
// p["index"], or nil when either is out of range.
func valueAt(node *types.Item, p map[string]any) (*types.Attribute, int) {
	name, _ := p["attribute"].(string)
	j := attributeIndex(node, name)
	if j < 0 {
		return nil, 0
	}
	a := &node.Attributes[j]
	i := int(toInt64(p["index"]))
	if i < 0 || i >= len(a.Values) {
		return nil, 0
	}
	return a, i
}

func metadataIndex(node *types.Item, name string) int {
	return indexOf(len(node.Metadata), func(i int) bool { return node.Metadata[i].AttributeName == name })
}

func attributeIndex(node *types.Item, name string) int {
	return indexOf(len(node.Attributes), func(i int) bool { return node.Attributes[i].Name == name })
}

func indexOf(n int, match func(int) bool) int {
	for i := 0; i < n; i++ {
		if match(i) {
			return i
		}
	}
	return -1
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
