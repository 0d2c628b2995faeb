package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathoo/lorekeep/engine/resolve"
	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/storage/memory"
	"github.com/nathoo/lorekeep/types"
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	e       *Engine
	setting int64
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx := context.Background()
	e := New(memory.New(), opts)
	s, err := e.AddSetting(ctx, &types.Setting{Name: "core"})
	require.NoError(t, err)
	return &harness{t: t, ctx: ctx, e: e, setting: s.ID}
}

func (h *harness) add(item *types.Item) int64 {
	h.t.Helper()
	if item.SettingID == 0 {
		item.SettingID = h.setting
	}
	v, err := h.e.Add(h.ctx, item)
	require.NoError(h.t, err)
	return v.ID()
}

func (h *harness) names(ancestors ...int64) []string {
	h.t.Helper()
	h.e.Wait()
	got, err := h.e.ByAncestors(h.ctx, h.setting, ancestors)
	require.NoError(h.t, err)
	out := []string{}
	for _, n := range got {
		out = append(out, n.Name)
	}
	return out
}

func str(s string) *string { return &s }

func TestAddAndRate(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.add(&types.Item{
		Name:     "Ogre",
		Metadata: []types.Metadata{
			{AttributeName: "strength", TypeID: types.TypeInt, IsSingle: true},
			{AttributeName: "luck", TypeID: types.TypeInt, IsSingle: true},
		},
		Attributes: []types.Attribute{
			{Name: "strength", Values: []types.Value{{Primitive: str("6")}}},
		},
		Formula: "strength * 2 GOLD",
	})

	rate, err := h.e.Rate(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "12 GOLD", rate.String())

	require.NoError(t, h.e.SetFormula(h.ctx, id, types.RootNestedID, "strength / luck"))
	text, err := h.e.RateText(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "strength / luck", text)
}

func TestUnknownRoot(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.e.Get(h.ctx, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, h.e.SetName(h.ctx, 404, types.RootNestedID, "x"), storage.ErrNotFound)
	_, err = h.e.AddExtends(h.ctx, 404, types.RootNestedID, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, h.e.Remove(h.ctx, 404), storage.ErrNotFound)
}

func TestIndexConsistency(t *testing.T) {
	for _, async := range []bool{false, true} {
		h := newHarness(t, Options{AsyncReindex: async})
		a := h.add(&types.Item{Name: "Weapon"})
		b := h.add(&types.Item{Name: "Blade"})
		c := h.add(&types.Item{Name: "Sword"})

		_, err := h.e.AddExtends(h.ctx, b, types.RootNestedID, a)
		require.NoError(t, err)
		assert.Equal(t, []string{"Blade"}, h.names(a), "async=%v", async)

		_, err = h.e.AddExtends(h.ctx, c, types.RootNestedID, b)
		require.NoError(t, err)
		assert.Equal(t, []string{"Blade", "Sword"}, h.names(a), "async=%v", async)

		_, err = h.e.RemoveExtends(h.ctx, b, types.RootNestedID, a)
		require.NoError(t, err)
		assert.Empty(t, h.names(a), "async=%v", async)
		assert.Equal(t, []string{"Sword"}, h.names(b), "async=%v", async)
	}
}

func TestAddExtendsReturnsRefreshedView(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.add(&types.Item{
		Name:       "Weapon",
		Metadata:   []types.Metadata{{AttributeName: "damage", TypeID: types.TypeInt, IsSingle: true}},
		Attributes: []types.Attribute{{Name: "damage", Values: []types.Value{{Primitive: str("3")}}}},
	})
	b := h.add(&types.Item{Name: "Club"})

	v, err := h.e.AddExtends(h.ctx, b, types.RootNestedID, a)
	require.NoError(t, err)
	require.Len(t, v.Values("damage"), 1)
	assert.Equal(t, "3", *v.Values("damage")[0].Primitive)

	v, err = h.e.RemoveExtends(h.ctx, b, types.RootNestedID, a)
	require.NoError(t, err)
	assert.Empty(t, v.Values("damage"))
}

func TestAddExtendsRejectsCycle(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.add(&types.Item{Name: "A"})
	b := h.add(&types.Item{Name: "B", Extends: []types.Ref{{ID: a}}})

	_, err := h.e.AddExtends(h.ctx, a, types.RootNestedID, b)
	assert.ErrorIs(t, err, resolve.ErrCycle)

	_, err = h.e.AddExtends(h.ctx, a, types.RootNestedID, a)
	assert.ErrorIs(t, err, resolve.ErrCycle)

	v, err := h.e.Get(h.ctx, a)
	require.NoError(t, err)
	assert.Empty(t, v.Item.Extends, "rejected extends must not be saved")
}

func TestAddExtendsRejectsNestedCycle(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.add(&types.Item{
		Name:     "Bag",
		Metadata: []types.Metadata{{AttributeName: "holds", TypeID: types.TypeNothing, AllowCreate: true}},
	})
	base := h.add(&types.Item{Name: "Pouch"})
	nested, err := h.e.AddAttributeNestedValue(h.ctx, a, types.RootNestedID, "holds", base)
	require.NoError(t, err)

	_, err = h.e.AddExtends(h.ctx, a, nested, a)
	assert.ErrorIs(t, err, resolve.ErrCycle)
}

func TestAddExtendsUnknownParent(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.add(&types.Item{Name: "A"})
	_, err := h.e.AddExtends(h.ctx, a, types.RootNestedID, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAddValueRequiresDeclaredAttribute(t *testing.T) {
	h := newHarness(t, Options{})
	parent := h.add(&types.Item{
		Name:     "Creature",
		Metadata: []types.Metadata{{AttributeName: "hp", TypeID: types.TypeInt, IsSingle: true}},
	})
	child := h.add(&types.Item{Name: "Goblin", Extends: []types.Ref{{ID: parent}}})

	err := h.e.AddAttributePrimitiveValue(h.ctx, child, types.RootNestedID, "mana", "3")
	var unknown *UnknownAttributeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "mana", unknown.Attribute)

	require.NoError(t, h.e.AddAttributePrimitiveValue(h.ctx, child, types.RootNestedID, "hp", "7"))
	v, err := h.e.Get(h.ctx, child)
	require.NoError(t, err)
	require.Len(t, v.Values("hp"), 1)
	assert.Equal(t, "7", *v.Values("hp")[0].Primitive)
}

func TestIsAbstract(t *testing.T) {
	h := newHarness(t, Options{})
	creature := h.add(&types.Item{
		Name:     "Creature",
		Metadata: []types.Metadata{{AttributeName: "hp", TypeID: types.TypeInt, IsSingle: true, IsRequired: true}},
	})
	beast := h.add(&types.Item{Name: "Beast", Extends: []types.Ref{{ID: creature}}})
	wolf := h.add(&types.Item{Name: "Wolf", Extends: []types.Ref{{ID: beast}}})

	abstract, err := h.e.IsAbstract(h.ctx, wolf)
	require.NoError(t, err)
	assert.True(t, abstract)

	require.NoError(t, h.e.AddAttributePrimitiveValue(h.ctx, beast, types.RootNestedID, "hp", "10"))
	abstract, err = h.e.IsAbstract(h.ctx, wolf)
	require.NoError(t, err)
	assert.False(t, abstract)
}

func TestAddAttributeItemValue(t *testing.T) {
	h := newHarness(t, Options{})
	sword := h.add(&types.Item{
		Name:     "Sword",
		Metadata: []types.Metadata{{AttributeName: "damage", TypeID: types.TypeInt, IsSingle: true, IsRequired: true}},
	})
	dagger := h.add(&types.Item{
		Name:       "Dagger",
		Attributes: []types.Attribute{{Name: "damage", Values: []types.Value{{Primitive: str("2")}}}},
	})
	knight := h.add(&types.Item{
		Name:     "Knight",
		Metadata: []types.Metadata{{AttributeName: "gear", TypeID: sword, AllowCreate: true, AllowReference: true}},
	})

	nested, err := h.e.AddAttributeItemValue(h.ctx, knight, types.RootNestedID, "gear", sword)
	require.NoError(t, err)
	assert.NotZero(t, nested, "abstract target should be wrapped")

	ref, err := h.e.AddAttributeItemValue(h.ctx, knight, types.RootNestedID, "gear", dagger)
	require.NoError(t, err)
	assert.Zero(t, ref)

	v, err := h.e.Get(h.ctx, knight)
	require.NoError(t, err)
	gear := v.Values("gear")
	require.Len(t, gear, 2)
	assert.True(t, gear[0].IsNested())
	assert.Equal(t, "Sword", gear[0].Name())
	assert.True(t, gear[1].IsTerminal())
	assert.Equal(t, dagger, gear[1].RefID)

	require.NoError(t, h.e.AddAttributePrimitiveValue(h.ctx, knight, nested, "damage", "9"))
	nv, err := h.e.GetNested(h.ctx, knight, nested)
	require.NoError(t, err)
	require.Len(t, nv.Values("damage"), 1)
	assert.Equal(t, "9", *nv.Values("damage")[0].Primitive)
}

func TestUnknownNestedIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.add(&types.Item{Name: "A"})
	b := h.add(&types.Item{Name: "B"})

	require.NoError(t, h.e.SetName(h.ctx, a, 42, "ghost"))
	v, err := h.e.AddExtends(h.ctx, a, 42, b)
	require.NoError(t, err)
	assert.Nil(t, v)

	root, err := h.e.Get(h.ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "A", root.Item.Name)
}

func TestMetadataAndValueEditing(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.add(&types.Item{Name: "Scroll"})

	require.NoError(t, h.e.AddMetadata(h.ctx, id, types.RootNestedID, types.Metadata{AttributeName: "words", TypeID: types.TypeString}))
	require.NoError(t, h.e.AddMetadata(h.ctx, id, types.RootNestedID, types.Metadata{AttributeName: "ink", TypeID: types.TypeString}))
	for _, w := range []string{"a", "b", "c"} {
		require.NoError(t, h.e.AddAttributePrimitiveValue(h.ctx, id, types.RootNestedID, "words", w))
	}
	require.NoError(t, h.e.MoveAttributeValueUp(h.ctx, id, types.RootNestedID, "words", 2))
	require.NoError(t, h.e.ModifyAttributePrimitiveValue(h.ctx, id, types.RootNestedID, "words", 0, "A"))
	require.NoError(t, h.e.RemoveAttributeValue(h.ctx, id, types.RootNestedID, "words", 2))
	require.NoError(t, h.e.MoveMetadataDown(h.ctx, id, types.RootNestedID, "words"))

	v, err := h.e.Get(h.ctx, id)
	require.NoError(t, err)
	var words []string
	for _, w := range v.Values("words") {
		words = append(words, *w.Primitive)
	}
	assert.Equal(t, []string{"A", "c"}, words)
	assert.Equal(t, "ink", v.Item.Metadata[0].AttributeName)

	require.NoError(t, h.e.ModifyMetadata(h.ctx, id, types.RootNestedID, "words",
		types.Metadata{AttributeName: "runes", TypeID: types.TypeString}))
	require.NoError(t, h.e.RemoveMetadata(h.ctx, id, types.RootNestedID, "ink"))
	v, err = h.e.Get(h.ctx, id)
	require.NoError(t, err)
	assert.Len(t, v.Values("runes"), 2)
	assert.Len(t, v.Item.Metadata, 1)
}

func TestSettersAndAllowedExtensions(t *testing.T) {
	h := newHarness(t, Options{})
	horse := h.add(&types.Item{Name: "Horse"})
	id := h.add(&types.Item{Name: "Stable"})
	other, err := h.e.AddSetting(h.ctx, &types.Setting{Name: "other"})
	require.NoError(t, err)

	require.NoError(t, h.e.SetPath(h.ctx, id, types.RootNestedID, "places"))
	require.NoError(t, h.e.SetDescription(h.ctx, id, types.RootNestedID, "smells"))
	require.NoError(t, h.e.SetGroups(h.ctx, id, types.RootNestedID, []string{"building"}))
	require.NoError(t, h.e.SetIsType(h.ctx, id, types.RootNestedID, true))
	require.NoError(t, h.e.SetIsFinal(h.ctx, id, types.RootNestedID, true))
	require.NoError(t, h.e.SetRank(h.ctx, id, types.RootNestedID, 2))
	require.NoError(t, h.e.AddAllowedExtension(h.ctx, id, types.RootNestedID, horse))
	require.NoError(t, h.e.SetSetting(h.ctx, id, types.RootNestedID, other.ID))
	assert.ErrorIs(t, h.e.SetSetting(h.ctx, id, types.RootNestedID, 999), storage.ErrNotFound)

	v, err := h.e.Get(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "places", v.Item.Path)
	assert.Equal(t, "smells", v.Item.Description)
	assert.Equal(t, []string{"building"}, v.Item.Groups)
	assert.True(t, v.Item.IsType)
	assert.True(t, v.Item.IsFinal)
	assert.Equal(t, 2, v.Item.Rank)
	assert.Equal(t, other.ID, v.Item.SettingID)
	assert.Equal(t, []types.ItemName{resolve.TypeMarker, {ID: horse, Name: "Horse"}}, v.CombinedAllowedExtensions())

	require.NoError(t, h.e.RemoveAllowedExtension(h.ctx, id, types.RootNestedID, horse))
	v, err = h.e.Get(h.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, v.Item.AllowedExtensions)
}

func TestTypesAndList(t *testing.T) {
	h := newHarness(t, Options{})
	h.add(&types.Item{Name: "Weapon", IsType: true})
	h.add(&types.Item{Name: "Armour", IsType: true})
	h.add(&types.Item{Name: "Rusty nail"})

	got, err := h.e.Types(h.ctx, h.setting)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Armour", got[0].Name)

	all, err := h.e.List(h.ctx, h.setting, storage.Filter{Query: "NAIL"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Rusty nail", all[0].Name)
}

func TestRemoveReindexesDependents(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.add(&types.Item{Name: "Weapon"})
	b := h.add(&types.Item{Name: "Blade", Extends: []types.Ref{{ID: a}}})
	h.add(&types.Item{Name: "Sword", Extends: []types.Ref{{ID: b}}})
	require.Equal(t, []string{"Blade", "Sword"}, h.names(a))

	require.NoError(t, h.e.Remove(h.ctx, b))
	assert.Empty(t, h.names(a))

	_, err := h.e.Get(h.ctx, b)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAddRejectsUnknownParentAndPresetID(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.e.Add(h.ctx, &types.Item{Name: "Orphan", Extends: []types.Ref{{ID: 77}}})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = h.e.Add(h.ctx, &types.Item{ID: 5, Name: "Preset"})
	assert.Error(t, err)
}

func TestAddNumbersNestedItems(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.add(&types.Item{
		Name: "Chest",
		Attributes: []types.Attribute{{Name: "loot", Values: []types.Value{
			{Nested: &types.Item{Name: "Coin"}},
			{Nested: &types.Item{Name: "Gem"}},
		}}},
	})
	v, err := h.e.GetNested(h.ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, "Gem", v.CombinedName())
}

func TestExport(t *testing.T) {
	h := newHarness(t, Options{})
	world, err := h.e.AddSetting(h.ctx, &types.Setting{Name: "world", Dependencies: []int64{h.setting}})
	require.NoError(t, err)
	base := h.add(&types.Item{Name: "Weapon", IsType: true})
	h.add(&types.Item{Name: "Sword", SettingID: world.ID, Extends: []types.Ref{{ID: base}}})

	dump, err := h.e.Export(h.ctx)
	require.NoError(t, err)
	require.Len(t, dump.Settings, 2)
	assert.Equal(t, h.setting, dump.Settings[0].ID)
	assert.Equal(t, world.ID, dump.Settings[1].ID)

	var names []string
	for _, it := range dump.Items {
		names = append(names, it.Name)
	}
	assert.ElementsMatch(t, []string{"Weapon", "Sword"}, names)
}
