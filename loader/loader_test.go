package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathoo/lorekeep/engine"
	"github.com/nathoo/lorekeep/storage/memory"
	"github.com/nathoo/lorekeep/types"
)

func findItem(b *Bundle, key string) *ItemDef {
	for i := range b.Items {
		if b.Items[i].Key == key {
			return &b.Items[i]
		}
	}
	return nil
}

func TestLoad_Armoury(t *testing.T) {
	b, err := Load("testdata/armoury")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(b.Settings) != 2 {
		t.Fatalf("expected 2 settings, got %d", len(b.Settings))
	}
	if b.Settings[0].Key != "core" || b.Settings[1].Key != "world" {
		t.Errorf("settings = %q, %q; want core, world", b.Settings[0].Key, b.Settings[1].Key)
	}
	if got := b.Settings[1].Depends; len(got) != 1 || got[0] != "core" {
		t.Errorf("world depends = %v, want [core]", got)
	}

	weapon := findItem(b, "weapon")
	if weapon == nil {
		t.Fatal("item 'weapon' not found")
	}
	if weapon.Setting != "core" || !weapon.IsType || weapon.Formula != "damage * 2" {
		t.Errorf("weapon = %+v", weapon)
	}

	sword := findItem(b, "sword")
	if sword.Setting != "world" {
		t.Errorf("sword setting = %q, want world", sword.Setting)
	}
	if len(sword.Extends) != 1 || sword.Extends[0] != "weapon" {
		t.Errorf("sword extends = %v, want [weapon]", sword.Extends)
	}
	if len(sword.Values) != 2 || sword.Values[0].Name != "damage" || *sword.Values[1].Values[0].Primitive != "3.5" {
		t.Errorf("sword values = %+v", sword.Values)
	}

	knight := findItem(b, "knight")
	gear := knight.Values[1]
	if gear.Name != "gear" || len(gear.Values) != 2 {
		t.Fatalf("knight gear = %+v", gear)
	}
	if gear.Values[0].Ref != "sword" {
		t.Errorf("gear[0] = %+v, want Ref sword", gear.Values[0])
	}
	if n := gear.Values[1].Nested; n == nil || n.Extends[0] != "weapon" {
		t.Errorf("gear[1] = %+v, want nested weapon", gear.Values[1])
	}
}

func TestLoad_SingleFile(t *testing.T) {
	b, err := Load("testdata/armoury/setting.lua")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(b.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(b.Items))
	}
}

func TestLoad_EmptyDir(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "no .lua files") {
		t.Errorf("err = %v, want no .lua files", err)
	}
}

func TestLoad_LuaError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.lua"), []byte("Setting {"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "bad.lua") {
		t.Errorf("err = %v, want it to name bad.lua", err)
	}
}

func TestLoad_Sandboxed(t *testing.T) {
	for _, src := range []string{
		`dofile("x.lua")`,
		`os.exit(1)`,
		`io.write("x")`,
		`math.randomseed(1)`,
	} {
		if _, err := LoadString(src); err == nil {
			t.Errorf("LoadString(%q) succeeded, want error", src)
		}
	}
}

func TestImport_RatesThroughEngine(t *testing.T) {
	ctx := context.Background()
	b, err := Load("testdata/armoury")
	require.NoError(t, err)

	store := memory.New()
	ids, err := Import(ctx, store, b)
	require.NoError(t, err)
	require.Len(t, ids.Items, 4)

	world, err := store.LoadSetting(ctx, ids.Settings["world"])
	require.NoError(t, err)
	assert.Equal(t, []int64{ids.Settings["core"]}, world.Dependencies)

	e := engine.New(store, engine.Options{})
	n, err := e.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	rate, err := e.RateText(ctx, ids.Items["sword"])
	require.NoError(t, err)
	assert.Equal(t, "10", rate)

	rate, err = e.RateText(ctx, ids.Items["knight"])
	require.NoError(t, err)
	assert.Equal(t, "18", rate)

	knight, err := e.Get(ctx, ids.Items["knight"])
	require.NoError(t, err)
	assert.Equal(t, "people", knight.Item.Path)
	gear := knight.Values("gear")
	require.Len(t, gear, 2)
	assert.Equal(t, "Weapon", gear[1].Name(), "nested value takes its base's name")
	assert.Equal(t, int64(1), gear[1].Target().NestedID())

	weapons, err := e.ByAncestors(ctx, ids.Settings["world"], []int64{ids.Items["weapon"]})
	require.NoError(t, err)
	assert.Equal(t, []types.ItemName{{ID: ids.Items["sword"], Name: "Sword"}}, weapons)

	typeNames, err := e.Types(ctx, ids.Settings["world"])
	require.NoError(t, err)
	assert.Len(t, typeNames, 2)

	abstract, err := e.IsAbstract(ctx, ids.Items["weapon"])
	require.NoError(t, err)
	assert.True(t, abstract)
}
