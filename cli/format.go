package cli

import (
	"fmt"
	"strings"

	"github.com/nathoo/lorekeep/engine/resolve"
	"github.com/nathoo/lorekeep/types"
)

var typeNames = map[int64]string{
	types.TypeNothing:  "Nothing",
	types.TypeString:   "String",
	types.TypePositive: "Positive",
	types.TypeInt:      "Int",
	types.TypeDecimal:  "Decimal",
	types.TypeBoolean:  "Boolean",
	types.TypeType:     "Type",
}

func typeName(id int64) string {
	if n, ok := typeNames[id]; ok {
		return n
	}
	return fmt.Sprintf("#%d", id)
}

// label names a view as "Name #id", or "Name #id/n" for a nested node.
func label(v *resolve.View) string {
	if v.IsRoot() {
		return fmt.Sprintf("%s #%d", v.CombinedName(), v.ID())
	}
	return fmt.Sprintf("%s #%d/%d", v.CombinedName(), v.ID(), v.NestedID())
}

func renderNames(names []types.ItemName) []string {
	if len(names) == 0 {
		return []string{"(none)"}
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("  %s #%d", n.Name, n.ID)
	}
	return out
}

// renderView lays out a combined view. Own values are numbered from 1 for
// the value commands; inherited values are marked with '^'.
func renderView(v *resolve.View, rate string, trace bool) []string {
	it := v.Item
	out := []string{label(v)}
	if v.IsRoot() {
		out = append(out, fmt.Sprintf("  setting: #%d", it.SettingID))
	}
	if it.Path != "" {
		out = append(out, "  path: "+it.Path)
	}
	if it.Description != "" {
		out = append(out, "  description: "+it.Description)
	}
	var flags []string
	if it.IsType {
		flags = append(flags, "type")
	}
	if it.IsFinal {
		flags = append(flags, "final")
	}
	if v.IsAbstract() {
		flags = append(flags, "abstract")
	}
	if len(flags) > 0 {
		out = append(out, "  flags: "+strings.Join(flags, ", "))
	}
	if len(v.Parents) > 0 {
		open := map[int64]bool{}
		for _, n := range v.NonFinalExtends() {
			open[n.ID] = true
		}
		parents := make([]string, len(v.Parents))
		for i, p := range v.Parents {
			parents[i] = label(p)
			if !open[p.ID()] {
				parents[i] += " (final)"
			}
		}
		out = append(out, "  extends: "+strings.Join(parents, ", "))
	}
	if groups := v.CombinedGroups(); len(groups) > 0 {
		out = append(out, "  groups: "+strings.Join(groups, ", "))
	}
	if allowed := v.CombinedAllowedExtensions(); len(allowed) > 1 {
		names := make([]string, 0, len(allowed)-1)
		for _, a := range allowed[1:] {
			names = append(names, a.Name)
		}
		out = append(out, "  allows: "+strings.Join(names, ", "))
	}
	if f := v.CombinedFormula(); f != "" {
		out = append(out, "  formula: "+f)
	}
	out = append(out, "  rate: "+rate)

	if meta := v.CombinedMetadata(); len(meta) > 0 {
		out = append(out, "  meta:")
		for _, md := range meta {
			out = append(out, "    "+renderMeta(md))
		}
	}
	for _, a := range v.Attributes {
		if len(a.Own) == 0 && len(a.Inherited) == 0 {
			continue
		}
		out = append(out, fmt.Sprintf("  %s:", a.Name))
		for i, val := range a.Own {
			out = append(out, fmt.Sprintf("    %d. %s", i+1, renderValue(val, trace)))
		}
		for _, val := range a.Inherited {
			out = append(out, "    ^ "+renderValue(val, trace))
		}
	}
	return out
}

func renderMeta(md types.Metadata) string {
	parts := []string{md.AttributeName, typeName(md.TypeID)}
	if md.IsSingle {
		parts = append(parts, "single")
	}
	if md.IsRequired {
		parts = append(parts, "required")
	}
	if md.AllowCreate {
		parts = append(parts, "create")
	}
	if md.AllowReference {
		parts = append(parts, "reference")
	}
	return strings.Join(parts, " ")
}

func renderValue(val *resolve.Value, trace bool) string {
	var s string
	switch {
	case val.IsPrimitive():
		s = *val.Primitive
	case val.IsNested():
		var n int64
		if t := val.Target(); t != nil {
			n = t.NestedID()
		}
		s = fmt.Sprintf("%s [nested #%d] = %s", val.Name(), n, val.Rate())
	default:
		s = fmt.Sprintf("%s #%d = %s", val.Name(), val.RefID, val.Rate())
	}
	if trace {
		o := val.Origin
		s += fmt.Sprintf("  (from #%d/%d %s[%d])", o.RootID, o.NestedID, o.Attribute, o.Index)
	}
	return s
}
