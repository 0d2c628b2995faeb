package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// collector accumulates Lua definitions during file execution.
type collector struct {
	settings []rawSetting
	items    []rawItem
	// current is the key of the setting that subsequent items join.
	current string
	file    string
}

// Load reads path, a .lua file or a directory of them, compiles the
// definitions and validates references. The Lua VM is discarded after
// loading.
func Load(path string) (*Bundle, error) {
	files, err := luaFiles(path)
	if err != nil {
		return nil, err
	}

	// Create sandboxed VM.
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibs(L)
	sandbox(L)

	coll := &collector{}
	registerAPI(L, coll)

	// Execute each file. The active setting carries over between files.
	for _, f := range files {
		coll.file = filepath.Base(f)
		if err := L.DoFile(f); err != nil {
			return nil, fmt.Errorf("executing %s: %w", coll.file, err)
		}
	}

	b, err := compile(coll)
	if err != nil {
		return nil, fmt.Errorf("compiling definitions: %w", err)
	}
	if err := validate(b); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadString runs a single chunk of definitions. It is the in-memory
// counterpart of Load.
func LoadString(src string) (*Bundle, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibs(L)
	sandbox(L)

	coll := &collector{file: "<string>"}
	registerAPI(L, coll)
	if err := L.DoString(src); err != nil {
		return nil, fmt.Errorf("executing definitions: %w", err)
	}
	b, err := compile(coll)
	if err != nil {
		return nil, fmt.Errorf("compiling definitions: %w", err)
	}
	if err := validate(b); err != nil {
		return nil, err
	}
	return b, nil
}

func luaFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions directory %s: %w", path, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".lua") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no .lua files found in %s", path)
	}
	names = sortedLuaFiles(names)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(path, n)
	}
	return out, nil
}

// openSafeLibs opens only the safe subset of Lua standard libraries.
func openSafeLibs(L *lua.LState) {
	// Base library (print, type, tostring, tonumber, pairs, ipairs, etc.)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// sandbox removes globals that reach outside the definition files.
func sandbox(L *lua.LState) {
	dangerous := []string{
		"dofile", "loadfile", "load", "loadstring",
		"rawset", "rawget", "rawequal",
		"collectgarbage",
	}
	for _, name := range dangerous {
		L.SetGlobal(name, lua.LNil)
	}

	// Definitions must load the same way every time.
	if mathTbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		mathTbl.RawSetString("random", lua.LNil)
		mathTbl.RawSetString("randomseed", lua.LNil)
	}
}
