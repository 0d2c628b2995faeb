// Package loader loads Lua setting definitions into item definitions.
// The Lua VM is discarded after loading; nothing of Lua survives import.
package loader

import (
	"fmt"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// Bundle is a compiled set of definitions. Items and settings refer to each
// other by key until they are imported.
type Bundle struct {
	Settings []SettingDef
	Items    []ItemDef
}

// SettingDef declares a setting.
type SettingDef struct {
	Key         string
	Name        string
	Description string
	Depends     []string
	File        string
}

// ItemDef declares a root item, or a nested one when Key is empty.
type ItemDef struct {
	Key         string
	Setting     string
	Name        string
	Path        string
	Description string
	Formula     string
	Groups      []string
	Rank        int
	IsType      bool
	IsFinal     bool
	Extends     []string
	Allowed     []string
	Meta        []MetaDef
	Values      []AttrDef
	File        string
}

// MetaDef declares an attribute. The value type is either a builtin type id
// or the key of an item.
type MetaDef struct {
	Name      string
	TypeID    int64
	TypeKey   string
	Single    bool
	Create    bool
	Reference bool
	Required  bool
}

// AttrDef holds the values given for one attribute.
type AttrDef struct {
	Name   string
	Values []ValueDef
}

// ValueDef is exactly one of a scalar, a reference by key, or a nested item.
type ValueDef struct {
	Primitive *string
	Ref       string
	Nested    *ItemDef
}

// rawSetting holds a setting table before compilation.
type rawSetting struct {
	key   string
	table *lua.LTable
	file  string
}

// rawItem holds an item table before compilation.
type rawItem struct {
	key     string
	setting string
	table   *lua.LTable
	file    string
}

// getString returns a string field from a Lua table, or "" if missing.
func getString(tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return ""
}

// getBool returns a bool field from a Lua table, or the default if missing.
func getBool(tbl *lua.LTable, key string, def bool) bool {
	v := tbl.RawGetString(key)
	if b, ok := v.(lua.LBool); ok {
		return bool(b)
	}
	return def
}

// getInt returns an int field from a Lua table, or 0 if missing.
func getInt(tbl *lua.LTable, key string) int {
	if n, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		return int(n)
	}
	return 0
}

// getTable returns a table field from a Lua table, or nil if missing.
func getTable(tbl *lua.LTable, key string) *lua.LTable {
	if t, ok := tbl.RawGetString(key).(*lua.LTable); ok {
		return t
	}
	return nil
}

// getStrings returns the string elements of an array field. A single
// string is read as a one-element list.
func getStrings(tbl *lua.LTable, key string) []string {
	switch v := tbl.RawGetString(key).(type) {
	case lua.LString:
		return []string{string(v)}
	case *lua.LTable:
		var out []string
		for i := 1; i <= v.MaxN(); i++ {
			if s, ok := v.RawGetInt(i).(lua.LString); ok {
				out = append(out, string(s))
			}
		}
		return out
	}
	return nil
}

// scalar renders a Lua scalar as a primitive value.
func scalar(v lua.LValue) (string, bool) {
	switch val := v.(type) {
	case lua.LString:
		return string(val), true
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10), true
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	case lua.LBool:
		return strconv.FormatBool(bool(val)), true
	}
	return "", false
}

// compile converts all collected Lua data into a Bundle.
func compile(coll *collector) (*Bundle, error) {
	b := &Bundle{}
	for _, raw := range coll.settings {
		b.Settings = append(b.Settings, SettingDef{
			Key:         raw.key,
			Name:        orDefault(getString(raw.table, "name"), raw.key),
			Description: getString(raw.table, "description"),
			Depends:     getStrings(raw.table, "depends"),
			File:        raw.file,
		})
	}
	for _, raw := range coll.items {
		item, err := compileItem(raw.table, raw.key)
		if err != nil {
			return nil, fmt.Errorf("compiling item %s: %w", raw.key, err)
		}
		item.Setting = raw.setting
		item.File = raw.file
		b.Items = append(b.Items, *item)
	}
	return b, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func compileItem(tbl *lua.LTable, key string) (*ItemDef, error) {
	item := &ItemDef{
		Key:         key,
		Name:        orDefault(getString(tbl, "name"), key),
		Path:        getString(tbl, "path"),
		Description: getString(tbl, "description"),
		Formula:     getString(tbl, "formula"),
		Groups:      getStrings(tbl, "groups"),
		Rank:        getInt(tbl, "rank"),
		IsType:      getBool(tbl, "type", false),
		IsFinal:     getBool(tbl, "final", false),
		Extends:     getStrings(tbl, "extends"),
		Allowed:     getStrings(tbl, "allowed"),
	}

	if meta := getTable(tbl, "meta"); meta != nil {
		for i := 1; i <= meta.MaxN(); i++ {
			md, err := compileMeta(meta.RawGetInt(i))
			if err != nil {
				return nil, fmt.Errorf("meta[%d]: %w", i, err)
			}
			item.Meta = append(item.Meta, md)
		}
	}

	if values := getTable(tbl, "values"); values != nil {
		attrs, err := compileValues(values, item.Meta)
		if err != nil {
			return nil, err
		}
		item.Values = attrs
	}
	return item, nil
}

func compileMeta(v lua.LValue) (MetaDef, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok || tbl.RawGetString(metaKey) != lua.LTrue {
		return MetaDef{}, fmt.Errorf("expected Meta(...), got %s", v.Type())
	}
	md := MetaDef{
		Name:      getString(tbl, "name"),
		Single:    getBool(tbl, "single", false),
		Create:    getBool(tbl, "create", false),
		Reference: getBool(tbl, "reference", false),
		Required:  getBool(tbl, "required", false),
	}
	switch typ := tbl.RawGetString("type").(type) {
	case lua.LNumber:
		md.TypeID = int64(typ)
	case lua.LString:
		md.TypeKey = string(typ)
	}
	return md, nil
}

// compileValues reads the values table. Attributes follow the order of the
// item's own metadata, then the remaining names alphabetically, since Lua
// does not keep table order.
func compileValues(tbl *lua.LTable, meta []MetaDef) ([]AttrDef, error) {
	rank := map[string]int{}
	for i, md := range meta {
		rank[md.Name] = i
	}
	var names []string
	byName := map[string]lua.LValue{}
	var bad error
	tbl.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			bad = fmt.Errorf("values keys must be attribute names, got %s", k.Type())
			return
		}
		names = append(names, string(name))
		byName[string(name)] = v
	})
	if bad != nil {
		return nil, bad
	}
	sort.Slice(names, func(i, j int) bool {
		ri, iok := rank[names[i]]
		rj, jok := rank[names[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return names[i] < names[j]
	})

	var out []AttrDef
	for _, name := range names {
		vals, err := compileAttr(byName[name])
		if err != nil {
			return nil, fmt.Errorf("values.%s: %w", name, err)
		}
		out = append(out, AttrDef{Name: name, Values: vals})
	}
	return out, nil
}

// compileAttr reads one attribute: a scalar, a Ref, a Nested, or a list of
// those.
func compileAttr(v lua.LValue) ([]ValueDef, error) {
	if one, ok, err := compileValue(v); ok || err != nil {
		if err != nil {
			return nil, err
		}
		return []ValueDef{one}, nil
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("unsupported value %s", v.Type())
	}
	var out []ValueDef
	for i := 1; i <= tbl.MaxN(); i++ {
		one, ok, err := compileValue(tbl.RawGetInt(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		if !ok {
			return nil, fmt.Errorf("[%d]: unsupported value %s", i, tbl.RawGetInt(i).Type())
		}
		out = append(out, one)
	}
	return out, nil
}

// compileValue reads a single value. ok is false for a plain list table.
func compileValue(v lua.LValue) (ValueDef, bool, error) {
	if s, ok := scalar(v); ok {
		return ValueDef{Primitive: &s}, true, nil
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return ValueDef{}, false, nil
	}
	if ref, ok := tbl.RawGetString(refKey).(lua.LString); ok {
		return ValueDef{Ref: string(ref)}, true, nil
	}
	if base, ok := tbl.RawGetString(nestedKey).(lua.LString); ok {
		def := getTable(tbl, "def")
		if def == nil {
			return ValueDef{}, true, fmt.Errorf("nested value without a definition table")
		}
		nested, err := compileItem(def, "")
		if err != nil {
			return ValueDef{}, true, fmt.Errorf("nested: %w", err)
		}
		if base != "" {
			nested.Extends = append([]string{string(base)}, nested.Extends...)
		}
		return ValueDef{Nested: nested}, true, nil
	}
	return ValueDef{}, false, nil
}

// sortedLuaFiles returns .lua files with setting.lua first and the rest
// sorted alphabetically.
func sortedLuaFiles(files []string) []string {
	var settingFile string
	var others []string
	for _, f := range files {
		if f == "setting.lua" {
			settingFile = f
		} else {
			others = append(others, f)
		}
	}
	sort.Strings(others)
	if settingFile != "" {
		return append([]string{settingFile}, others...)
	}
	return others
}
