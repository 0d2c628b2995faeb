package resolve

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/nathoo/lorekeep/engine/decimal"
	"github.com/nathoo/lorekeep/engine/formula"
)

// foldCase folds s for caseless matching. Casers are stateful, so each call
// gets its own.
func foldCase(s string) string { return cases.Fold().String(s) }

func sameName(a, b string) bool {
	return a != "" && foldCase(a) == foldCase(b)
}

// Lookup returns the formula variable lookup of v:
//
//   - "_" yields every combined value of every attribute;
//   - "&name" yields the values whose target matches name by its combined
//     name, an ancestor's name or a group, searching inside non-matching
//     targets recursively;
//   - any other identifier names an attribute, case-insensitively. A
//     declared attribute without values yields NaN; an unknown identifier
//     yields None tagged with the identifier, so it reads as a unit.
func (r *Resolver) Lookup(v *View) formula.Lookup {
	return func(name string) []decimal.Decimal {
		switch {
		case name == "_":
			return r.rates(v.AllValues())
		case strings.HasPrefix(name, "&"):
			return r.rates(r.collect(v, name[1:], map[*View]bool{}))
		}
		for _, md := range v.CombinedMetadata() {
			if sameName(md.AttributeName, name) {
				if vals := r.rates(v.Values(md.AttributeName)); len(vals) > 0 {
					return vals
				}
				return []decimal.Decimal{decimal.NaN}
			}
		}
		for _, a := range v.Attributes {
			if sameName(a.Name, name) {
				return r.rates(v.Values(a.Name))
			}
		}
		return []decimal.Decimal{decimal.None(name)}
	}
}

// collect gathers the combined values of v whose targets match name.
// Targets that do not match are searched in turn.
func (r *Resolver) collect(v *View, name string, seen map[*View]bool) []*Value {
	if seen[v] {
		return nil
	}
	seen[v] = true
	var out []*Value
	for _, val := range v.AllValues() {
		t := val.Target()
		if t == nil {
			continue
		}
		if matches(t, name) {
			out = append(out, val)
			continue
		}
		out = append(out, r.collect(t, name, seen)...)
	}
	return out
}

func matches(v *View, name string) bool {
	if sameName(v.CombinedName(), name) {
		return true
	}
	for _, n := range v.AncestorNames() {
		if sameName(n, name) {
			return true
		}
	}
	for _, g := range v.CombinedGroups() {
		if sameName(g, name) {
			return true
		}
	}
	return false
}

func (r *Resolver) rates(values []*Value) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		out = append(out, r.ValueRate(v))
	}
	return out
}

// ValueRate is the numeric reading of a value: the rate of its target, or
// the parsed scalar. A scalar that does not parse reads as None.
func (r *Resolver) ValueRate(v *Value) decimal.Decimal {
	if v.Primitive != nil {
		d, ok := decimal.Parse(*v.Primitive)
		if !ok {
			return decimal.None("")
		}
		return d
	}
	t := v.Target()
	if t == nil {
		return decimal.NaN
	}
	return r.Rate(t)
}

// Rate is the numeric reading of v within the resolver that produced it.
func (v *Value) Rate() decimal.Decimal {
	if v.r == nil {
		if v.Primitive != nil {
			if d, ok := decimal.Parse(*v.Primitive); ok {
				return d
			}
			return decimal.None("")
		}
		return decimal.NaN
	}
	return v.r.ValueRate(v)
}

// Rate evaluates the combined formula of v in its own context. Any failure,
// including a rate that depends on itself, yields NaN.
func (r *Resolver) Rate(v *View) (rate decimal.Decimal) {
	if r.rating[v] {
		return decimal.NaN
	}
	r.rating[v] = true
	defer delete(r.rating, v)

	src := v.CombinedFormula()
	defer func() {
		if p := recover(); p != nil {
			r.log.Debug("formula panicked", "item", v.RootID, "nested", v.NestedID(), "formula", src, "panic", fmt.Sprint(p))
			rate = decimal.NaN
		}
	}()

	d, err := formula.Eval(src, r.Lookup(v))
	if err != nil {
		r.log.Debug("formula failed", "item", v.RootID, "nested", v.NestedID(), "formula", src, "error", err)
		return decimal.NaN
	}
	return d
}

// RateText renders the rate for display. A NaN rate shows the formula text
// instead, so a broken formula stays visible.
func (r *Resolver) RateText(v *View) string {
	d := r.Rate(v)
	if d.IsNaN() {
		if src := v.CombinedFormula(); src != "" {
			return src
		}
	}
	return d.String()
}
