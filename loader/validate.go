package loader

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nathoo/lorekeep/engine/formula"
)

// ValidationError collects all validation errors and warnings.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed with %d error(s):\n  %s",
		len(e.Errors), strings.Join(e.Errors, "\n  "))
}

// Warnings returns the non-fatal findings for b. Load rejects a bundle only
// on errors.
func Warnings(b *Bundle) []string {
	ve := check(b)
	return ve.Warnings
}

// validate checks the bundle for referential integrity and consistency.
func validate(b *Bundle) error {
	ve := check(b)
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func check(b *Bundle) *ValidationError {
	ve := &ValidationError{}
	errorf := func(format string, args ...any) {
		ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
	}

	// Settings: at least one, unique keys, known dependencies.
	if len(b.Settings) == 0 {
		errorf("no Setting{} definition found")
	}
	settings := map[string]bool{}
	for _, s := range b.Settings {
		if settings[s.Key] {
			errorf("duplicate setting key %q", s.Key)
		}
		settings[s.Key] = true
	}
	for _, s := range b.Settings {
		for _, d := range s.Depends {
			if !settings[d] {
				errorf("setting %q depends on undefined setting %q", s.Key, d)
			}
		}
	}

	// Items: unique keys inside a known setting.
	items := map[string]*ItemDef{}
	for i := range b.Items {
		it := &b.Items[i]
		if it.Setting == "" {
			errorf("item %q is declared before any Setting", it.Key)
		}
		if _, dup := items[it.Key]; dup {
			errorf("duplicate item key %q", it.Key)
		}
		items[it.Key] = it
	}

	for i := range b.Items {
		root := &b.Items[i]
		walkDefs(root, func(it *ItemDef, where string) {
			label := root.Key + where
			for _, p := range it.Extends {
				if _, ok := items[p]; !ok {
					errorf("item %q extends undefined item %q", label, p)
				}
			}
			for _, a := range it.Allowed {
				if _, ok := items[a]; !ok {
					errorf("item %q allows undefined item %q", label, a)
				}
			}
			seen := map[string]bool{}
			for _, md := range it.Meta {
				if md.Name == "" {
					errorf("item %q has a Meta without a name", label)
				}
				if seen[md.Name] {
					errorf("item %q declares attribute %q twice", label, md.Name)
				}
				seen[md.Name] = true
				if md.TypeKey != "" {
					if _, ok := items[md.TypeKey]; !ok {
						errorf("item %q attribute %q has undefined type %q", label, md.Name, md.TypeKey)
					}
				}
			}
			declared := declaredMeta(it, items)
			for _, a := range it.Values {
				md, ok := declared[a.Name]
				if !ok {
					errorf("item %q sets undeclared attribute %q", label, a.Name)
					continue
				}
				if md.Single && len(a.Values) > 1 {
					errorf("item %q sets %d values on single attribute %q", label, len(a.Values), a.Name)
				}
				for _, v := range a.Values {
					if v.Ref != "" {
						if _, ok := items[v.Ref]; !ok {
							errorf("item %q attribute %q references undefined item %q", label, a.Name, v.Ref)
						}
					}
				}
			}
			if it.Formula != "" {
				if _, err := formula.Parse(it.Formula); err != nil {
					ve.Warnings = append(ve.Warnings, fmt.Sprintf("item %q formula: %v", label, err))
				}
			}
		})
	}

	for _, cycle := range extendsCycles(b.Items, items) {
		errorf("extends cycle: %s", strings.Join(cycle, " -> "))
	}
	return ve
}

// walkDefs calls fn for root and every nested definition beneath it, with a
// path suffix locating the nested one.
func walkDefs(root *ItemDef, fn func(it *ItemDef, where string)) {
	var walk func(it *ItemDef, where string)
	walk = func(it *ItemDef, where string) {
		fn(it, where)
		for _, a := range it.Values {
			for i, v := range a.Values {
				if v.Nested != nil {
					walk(v.Nested, fmt.Sprintf("%s.%s[%d]", where, a.Name, i+1))
				}
			}
		}
	}
	walk(root, "")
}

// declaredMeta returns the metadata visible to it: its own, then inherited
// through extends. Unknown parents and cycles are skipped; they are
// reported elsewhere.
func declaredMeta(it *ItemDef, items map[string]*ItemDef) map[string]MetaDef {
	out := map[string]MetaDef{}
	seen := map[string]bool{}
	var walk func(d *ItemDef)
	walk = func(d *ItemDef) {
		for _, md := range d.Meta {
			if _, ok := out[md.Name]; !ok {
				out[md.Name] = md
			}
		}
		for _, p := range d.Extends {
			if seen[p] {
				continue
			}
			seen[p] = true
			if parent, ok := items[p]; ok {
				walk(parent)
			}
		}
	}
	walk(it)
	return out
}

// extendsCycles finds extends cycles among root items, and nested items
// extending the root that contains them or one of its descendants.
func extendsCycles(defs []ItemDef, items map[string]*ItemDef) [][]string {
	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	var cycles [][]string
	var stack []string

	var visit func(key string)
	visit = func(key string) {
		color[key] = grey
		stack = append(stack, key)
		for _, p := range items[key].Extends {
			if _, ok := items[p]; !ok {
				continue
			}
			switch color[p] {
			case white:
				visit(p)
			case grey:
				start := indexOf(stack, p)
				cycle := append(append([]string(nil), stack[start:]...), p)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[key] = black
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if color[k] == white {
			visit(k)
		}
	}

	for i := range defs {
		root := &defs[i]
		walkDefs(root, func(it *ItemDef, where string) {
			if it == root {
				return
			}
			for _, p := range it.Extends {
				if p == root.Key || indexOf(ancestorKeys(p, items), root.Key) >= 0 {
					cycles = append(cycles, []string{root.Key, root.Key + where, p})
				}
			}
		})
	}
	return cycles
}

func ancestorKeys(key string, items map[string]*ItemDef) []string {
	var out []string
	seen := map[string]bool{key: true}
	queue := []string{key}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		it, ok := items[cur]
		if !ok {
			continue
		}
		for _, p := range it.Extends {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
				queue = append(queue, p)
			}
		}
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
