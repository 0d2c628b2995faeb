package resolve

// Shadows reports whether an own value hides an inherited one: both point at
// items, and those items share a non-blank combined name or a group,
// compared without case.
func Shadows(own, inherited *Value) bool {
	if own.IsPrimitive() || inherited.IsPrimitive() {
		return false
	}
	if sameName(own.Name(), inherited.Name()) {
		return true
	}
	groups := map[string]bool{}
	for _, g := range own.Groups() {
		groups[foldCase(g)] = true
	}
	for _, g := range inherited.Groups() {
		if groups[foldCase(g)] {
			return true
		}
	}
	return false
}

// Merge returns a new view of acc with other's combined values inherited
// into it. It covers every attribute in acc's combined metadata:
//
//   - an attribute acc has no values for takes other's values as inherited;
//   - a single-valued attribute replaces its inherited value, never its own;
//   - a multi-valued attribute appends other's values unless already present
//     (same origin) or shadowed by an own value.
//
// When an own value shadows an incoming one, the own value's target absorbs
// the incoming target through a recursive Merge. acc and other are not
// modified.
func Merge(acc, other *View) *View {
	out := acc.clone()
	for _, md := range acc.CombinedMetadata() {
		incoming := other.Values(md.AttributeName)
		if len(incoming) == 0 {
			continue
		}
		single := md.IsSingle
		if d, ok := acc.Descriptor(md.AttributeName); ok {
			single = d.IsSingle
		}

		a := out.Attribute(md.AttributeName)
		if a == nil {
			a = &Attribute{Name: md.AttributeName}
			if single {
				a.Inherited = incoming[:1]
			} else {
				a.Inherited = append([]*Value(nil), incoming...)
			}
			out.Attributes = append(out.Attributes, a)
			continue
		}

		if single {
			if len(a.Own) > 0 {
				if Shadows(a.Own[0], incoming[0]) {
					a.Own[0] = absorb(a.Own[0], incoming[0])
				}
				continue
			}
			a.Inherited = []*Value{incoming[0]}
			continue
		}

		for _, in := range incoming {
			if hasOrigin(a, in.Origin) {
				continue
			}
			if i := shadowing(a.Own, in); i >= 0 {
				a.Own[i] = absorb(a.Own[i], in)
				continue
			}
			a.Inherited = append(a.Inherited, in)
		}
	}
	return out
}

// absorb returns a copy of own whose target has inherited's target merged
// into it. A terminal target may still be under construction (it can extend
// the owner), so its merge is deferred to Target. Nested values without
// resolvable targets are returned unchanged.
func absorb(own, inherited *Value) *Value {
	if own.IsTerminal() {
		return own.withAbsorbed(inherited)
	}
	ot, it := own.Target(), inherited.Target()
	if ot == nil || it == nil || ot == it {
		return own
	}
	return own.withTarget(Merge(ot, it))
}

func shadowing(own []*Value, in *Value) int {
	for i, o := range own {
		if Shadows(o, in) {
			return i
		}
	}
	return -1
}

func hasOrigin(a *Attribute, o Origin) bool {
	for _, v := range a.Own {
		if v.Origin == o {
			return true
		}
	}
	for _, v := range a.Inherited {
		if v.Origin == o {
			return true
		}
	}
	return false
}
