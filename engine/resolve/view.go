package resolve

import (
	"slices"

	"github.com/nathoo/lorekeep/types"
)

// TypeMarker is the fixed first entry of every combined allowed-extensions
// list.
var TypeMarker = types.ItemName{ID: types.TypeType, Name: "Type"}

// Origin identifies where a value was stored: the owning root, the node
// inside it, the attribute and the position. Inherited copies keep the
// origin of the stored value.
type Origin struct {
	RootID    int64
	NestedID  int64
	Attribute string
	Index     int
}

// Value is one resolved attribute value.
type Value struct {
	Primitive *string
	RefID     int64 // terminal target id; 0 when the value is not terminal
	Origin    Origin

	nested   bool
	target   *View
	absorbed []*Value // shadowed values merged into the target on first use
	r        *Resolver
}

// IsPrimitive reports whether v holds a scalar.
func (v *Value) IsPrimitive() bool { return v.Primitive != nil }

// IsTerminal reports whether v references a stored item.
func (v *Value) IsTerminal() bool { return v.RefID != 0 && !v.nested }

// IsNested reports whether v is an inline nested item.
func (v *Value) IsNested() bool { return v.nested }

// Target returns the view of the item v points at, or nil for primitives,
// dangling references and references that cannot be resolved. A terminal
// target is resolved on first use, after the owner's build, and absorbs the
// inherited values this value shadows at that point.
func (v *Value) Target() *View {
	if v.Primitive != nil {
		return nil
	}
	if v.target == nil {
		if v.r == nil {
			return nil
		}
		t, err := v.r.Resolve(v.RefID)
		if err != nil {
			return nil
		}
		v.target = t
	}
	if len(v.absorbed) > 0 {
		base, pending := v.target, v.absorbed
		v.absorbed = nil
		for _, in := range pending {
			if it := in.Target(); it != nil && it != base {
				v.target = Merge(v.target, it)
			}
		}
	}
	return v.target
}

// Name returns the combined name of the target item, or "" for primitives.
func (v *Value) Name() string {
	switch {
	case v.target != nil:
		return v.target.CombinedName()
	case v.RefID != 0 && v.r != nil:
		return v.r.nameOf(v.RefID, map[int64]bool{})
	}
	return ""
}

// Groups returns the combined groups of the target item.
func (v *Value) Groups() []string {
	switch {
	case v.target != nil:
		return v.target.CombinedGroups()
	case v.RefID != 0 && v.r != nil:
		return v.r.groupsOf(v.RefID, map[int64]bool{})
	}
	return nil
}

func (v *Value) withTarget(t *View) *Value {
	c := *v
	c.target = t
	return &c
}

func (v *Value) withAbsorbed(in *Value) *Value {
	c := *v
	c.absorbed = append(slices.Clone(v.absorbed), in)
	return &c
}

// Attribute is the resolved state of one attribute name: the values the
// item stores itself and the ones it inherits.
type Attribute struct {
	Name      string
	Own       []*Value
	Inherited []*Value
}

// All returns own values followed by inherited ones.
func (a *Attribute) All() []*Value {
	out := make([]*Value, 0, len(a.Own)+len(a.Inherited))
	out = append(out, a.Own...)
	return append(out, a.Inherited...)
}

func (a *Attribute) clone() *Attribute {
	return &Attribute{
		Name:      a.Name,
		Own:       slices.Clone(a.Own),
		Inherited: slices.Clone(a.Inherited),
	}
}

// View is the resolved, immutable picture of an item: its definition, its
// resolved parents and its combined attributes. Dangling parents are absent.
type View struct {
	Item       *types.Item
	RootID     int64
	Parents    []*View
	Attributes []*Attribute

	nestedID int64
}

// ID returns the stored item id (the root id for nested views).
func (v *View) ID() int64 { return v.RootID }

// NestedID returns the nested id, or RootNestedID for a root view.
func (v *View) NestedID() int64 { return v.nestedID }

// IsRoot reports whether the view is of a stored item rather than a nested
// one.
func (v *View) IsRoot() bool { return v.NestedID() == types.RootNestedID }

func (v *View) clone() *View {
	c := *v
	c.Attributes = make([]*Attribute, len(v.Attributes))
	for i, a := range v.Attributes {
		c.Attributes[i] = a.clone()
	}
	return &c
}

// Attribute returns the resolved attribute with the given name.
func (v *View) Attribute(name string) *Attribute {
	for _, a := range v.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// CombinedName is the own name, else the first non-blank combined name of
// the parents, depth-first in extends order.
func (v *View) CombinedName() string {
	if v.Item.Name != "" {
		return v.Item.Name
	}
	for _, p := range v.Parents {
		if n := p.CombinedName(); n != "" {
			return n
		}
	}
	return ""
}

// CombinedFormula is the own formula, else the first non-blank combined
// formula of the parents.
func (v *View) CombinedFormula() string {
	if v.Item.Formula != "" {
		return v.Item.Formula
	}
	for _, p := range v.Parents {
		if f := p.CombinedFormula(); f != "" {
			return f
		}
	}
	return ""
}

// CombinedGroups is the union of own groups and every ancestor's groups.
func (v *View) CombinedGroups() []string {
	var out []string
	seen := map[string]bool{}
	var walk func(*View)
	walk = func(n *View) {
		for _, g := range n.Item.Groups {
			if g != "" && !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
		for _, p := range n.Parents {
			walk(p)
		}
	}
	walk(v)
	return out
}

// AncestorNames returns the combined names of every ancestor.
func (v *View) AncestorNames() []string {
	var out []string
	for _, p := range v.Parents {
		if n := p.CombinedName(); n != "" {
			out = append(out, n)
		}
		out = append(out, p.AncestorNames()...)
	}
	return out
}

// CombinedAllowedExtensions is the Type marker, then own allowed extensions,
// then every ancestor's, de-duplicated by id.
func (v *View) CombinedAllowedExtensions() []types.ItemName {
	out := []types.ItemName{TypeMarker}
	seen := map[int64]bool{TypeMarker.ID: true}
	add := func(list []types.ItemName) {
		for _, e := range list {
			if !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e)
			}
		}
	}
	add(v.Item.AllowedExtensions)
	for _, p := range v.Parents {
		add(p.CombinedAllowedExtensions())
	}
	return out
}

// AncestorMetadata is the combined metadata of the parents, de-duplicated by
// attribute name with the first occurrence winning.
func (v *View) AncestorMetadata() []types.Metadata {
	var out []types.Metadata
	seen := map[string]bool{}
	for _, p := range v.Parents {
		for _, md := range p.CombinedMetadata() {
			if !seen[md.AttributeName] {
				seen[md.AttributeName] = true
				out = append(out, md)
			}
		}
	}
	return out
}

// CombinedMetadata is the inherited metadata not redeclared by the item,
// followed by the item's own metadata.
func (v *View) CombinedMetadata() []types.Metadata {
	own := map[string]bool{}
	for _, md := range v.Item.Metadata {
		own[md.AttributeName] = true
	}
	var out []types.Metadata
	for _, md := range v.AncestorMetadata() {
		if !own[md.AttributeName] {
			out = append(out, md)
		}
	}
	return append(out, v.Item.Metadata...)
}

// Descriptor returns the metadata governing name: the item's own
// declaration, else the first one found among the ancestors.
func (v *View) Descriptor(name string) (types.Metadata, bool) {
	for _, md := range v.Item.Metadata {
		if md.AttributeName == name {
			return md, true
		}
	}
	for _, md := range v.AncestorMetadata() {
		if md.AttributeName == name {
			return md, true
		}
	}
	return types.Metadata{}, false
}

// Values returns the combined values of an attribute: own values followed
// by inherited ones, or just the first one when the attribute is
// single-valued.
func (v *View) Values(name string) []*Value {
	a := v.Attribute(name)
	if a == nil {
		return nil
	}
	all := a.All()
	if md, ok := v.Descriptor(name); ok && md.IsSingle && len(all) > 1 {
		return all[:1]
	}
	return all
}

// AllValues returns the combined values of every attribute, flattened in
// attribute order.
func (v *View) AllValues() []*Value {
	var out []*Value
	for _, a := range v.Attributes {
		out = append(out, v.Values(a.Name)...)
	}
	return out
}

// IsAbstract reports whether a required attribute has no value anywhere in
// the combined view.
func (v *View) IsAbstract() bool {
	for _, md := range v.CombinedMetadata() {
		if md.IsRequired && len(v.Values(md.AttributeName)) == 0 {
			return true
		}
	}
	return false
}

// NonFinalExtends returns the parents that may still be extended.
func (v *View) NonFinalExtends() []types.ItemName {
	var out []types.ItemName
	for _, p := range v.Parents {
		if !p.Item.IsFinal {
			out = append(out, types.ItemName{ID: p.RootID, Name: p.CombinedName()})
		}
	}
	return out
}
