package loader

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/nathoo/lorekeep/types"
)

// Marker keys identifying helper tables.
const (
	metaKey   = "__meta"
	refKey    = "__ref"
	nestedKey = "__nested"
)

// builtinTypes are exposed as globals so Meta can name them unquoted.
var builtinTypes = map[string]int64{
	"Nothing":  types.TypeNothing,
	"String":   types.TypeString,
	"Positive": types.TypePositive,
	"Int":      types.TypeInt,
	"Decimal":  types.TypeDecimal,
	"Boolean":  types.TypeBoolean,
	"Type":     types.TypeType,
}

// registerAPI registers all Lua constructors and helpers as globals.
func registerAPI(L *lua.LState, coll *collector) {
	registerConstructors(L, coll)
	registerHelpers(L)
	for name, id := range builtinTypes {
		L.SetGlobal(name, lua.LNumber(id))
	}
}

func registerConstructors(L *lua.LState, coll *collector) {
	// Setting { key = "...", name = "...", depends = {...} }
	// Items declared afterwards belong to it.
	L.SetGlobal("Setting", L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		key := getString(tbl, "key")
		if key == "" {
			key = getString(tbl, "name")
		}
		if key == "" {
			L.ArgError(1, "Setting needs a key or a name")
			return 0
		}
		coll.settings = append(coll.settings, rawSetting{key: key, table: tbl, file: coll.file})
		coll.current = key
		return 0
	}))

	// Item "key" { ... } is curried: Item("key") returns a function that takes a table.
	L.SetGlobal("Item", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		L.Push(L.NewFunction(func(L *lua.LState) int {
			tbl := L.CheckTable(1)
			coll.items = append(coll.items, rawItem{key: key, setting: coll.current, table: tbl, file: coll.file})
			return 0
		}))
		return 1
	}))
}

func registerHelpers(L *lua.LState) {
	// Meta("name", Int | "itemKey", { single = true, required = true, create = true, reference = true })
	L.SetGlobal("Meta", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		tbl := L.NewTable()
		tbl.RawSetString(metaKey, lua.LTrue)
		tbl.RawSetString("name", lua.LString(name))
		switch typ := L.Get(2).(type) {
		case lua.LNumber, lua.LString:
			tbl.RawSetString("type", typ)
		case *lua.LNilType:
			tbl.RawSetString("type", lua.LNumber(types.TypeString))
		default:
			L.ArgError(2, "type must be a builtin type or an item key")
			return 0
		}
		if opts, ok := L.Get(3).(*lua.LTable); ok {
			opts.ForEach(func(k, v lua.LValue) { tbl.RawSet(k, v) })
		}
		L.Push(tbl)
		return 1
	}))

	// Ref "itemKey" is a reference value.
	L.SetGlobal("Ref", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		tbl := L.NewTable()
		tbl.RawSetString(refKey, lua.LString(key))
		L.Push(tbl)
		return 1
	}))

	// Nested "baseKey" { ... }: an inline item extending base.
	// Nested { ... }: an inline item with no base.
	L.SetGlobal("Nested", L.NewFunction(func(L *lua.LState) int {
		if def, ok := L.Get(1).(*lua.LTable); ok {
			L.Push(nestedTable(L, "", def))
			return 1
		}
		base := L.CheckString(1)
		L.Push(L.NewFunction(func(L *lua.LState) int {
			L.Push(nestedTable(L, base, L.CheckTable(1)))
			return 1
		}))
		return 1
	}))
}

func nestedTable(L *lua.LState, base string, def *lua.LTable) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString(nestedKey, lua.LString(base))
	tbl.RawSetString("def", def)
	return tbl
}
