// Package storetest is a conformance suite run against every storage.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/types"
)

// Run exercises a fresh store returned by open for every case.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"ItemRoundTrip", testItemRoundTrip},
		{"LoadItemsOmitsMissing", testLoadItemsOmitsMissing},
		{"DeleteItem", testDeleteItem},
		{"ListItems", testListItems},
		{"Settings", testSettings},
		{"Buckets", testBuckets},
		{"CanceledContext", testCanceledContext},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			c.fn(t, s)
		})
	}
}

func str(s string) *string { return &s }

func sampleItem(name string, setting int64) *types.Item {
	return &types.Item{
		Name:      name,
		SettingID: setting,
		Groups:    []string{"blade"},
		Metadata: []types.Metadata{
			{AttributeName: "damage", TypeID: types.TypeInt, IsSingle: true},
		},
		Attributes: []types.Attribute{
			{Name: "damage", Values: []types.Value{{Primitive: str("4")}}},
			{Name: "rune", Values: []types.Value{{Nested: &types.Item{NestedID: 1, Name: "Fire"}}}},
		},
		Formula:      "damage",
		NextNestedID: 2,
	}
}

func testItemRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	saved, err := s.SaveItem(ctx, sampleItem("Sword", 1))
	require.NoError(t, err)
	require.NotZero(t, saved.ID)

	got, err := s.LoadItem(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sword", got.Name)
	assert.Equal(t, int64(1), got.SettingID)
	assert.Equal(t, "damage", got.Formula)
	assert.Equal(t, int64(2), got.NextNestedID)
	require.Len(t, got.Attributes, 2)
	assert.Equal(t, "4", *got.Attributes[0].Values[0].Primitive)
	assert.Equal(t, "Fire", got.Attributes[1].Values[0].Nested.Name)

	got.Name = "Long Sword"
	updated, err := s.SaveItem(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)

	again, err := s.LoadItem(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Long Sword", again.Name)

	other, err := s.SaveItem(ctx, sampleItem("Axe", 1))
	require.NoError(t, err)
	assert.NotEqual(t, saved.ID, other.ID)

	_, err = s.LoadItem(ctx, 9999)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func testLoadItemsOmitsMissing(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a, err := s.SaveItem(ctx, sampleItem("A", 1))
	require.NoError(t, err)
	b, err := s.SaveItem(ctx, sampleItem("B", 1))
	require.NoError(t, err)

	got, err := s.LoadItems(ctx, []int64{a.ID, 9999, b.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	ids := []int64{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, ids)
}

func testDeleteItem(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a, err := s.SaveItem(ctx, sampleItem("A", 1))
	require.NoError(t, err)
	require.NoError(t, s.AddToBucket(ctx, storage.Bucket{AncestorID: 50, SettingID: 1}, a.ID))

	require.NoError(t, s.DeleteItem(ctx, a.ID))
	_, err = s.LoadItem(ctx, a.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	buckets, err := s.BucketsContaining(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, buckets)

	err = s.DeleteItem(ctx, a.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testListItems(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for _, it := range []*types.Item{
		{Name: "Orc", SettingID: 1, Path: "monsters"},
		{Name: "Goblin", SettingID: 1, Path: "monsters"},
		{Name: "Creature", SettingID: 1, IsType: true},
		{Name: "Dragon", SettingID: 2, Path: "monsters", IsType: true},
	} {
		_, err := s.SaveItem(ctx, it)
		require.NoError(t, err)
	}

	names := func(list []types.ItemName) []string {
		out := make([]string, len(list))
		for i, n := range list {
			out[i] = n.Name
		}
		return out
	}

	all, err := s.ListItems(ctx, nil, storage.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Creature", "Dragon", "Goblin", "Orc"}, names(all))

	one, err := s.ListItems(ctx, []int64{1}, storage.Filter{Path: "monsters"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Goblin", "Orc"}, names(one))

	q, err := s.ListItems(ctx, []int64{1, 2}, storage.Filter{Query: "R"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Creature", "Dragon", "Orc"}, names(q))

	typesOnly, err := s.ListTypes(ctx, []int64{2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dragon"}, names(typesOnly))
}

func testSettings(t *testing.T, s storage.Store) {
	ctx := context.Background()
	core, err := s.SaveSetting(ctx, &types.Setting{Name: "Core"})
	require.NoError(t, err)
	magic, err := s.SaveSetting(ctx, &types.Setting{Name: "Magic", Dependencies: []int64{core.ID}})
	require.NoError(t, err)
	campaign, err := s.SaveSetting(ctx, &types.Setting{Name: "Campaign", Dependencies: []int64{magic.ID, core.ID, 404}})
	require.NoError(t, err)

	got, err := s.LoadSetting(ctx, magic.ID)
	require.NoError(t, err)
	assert.Equal(t, "Magic", got.Name)
	assert.Equal(t, []int64{core.ID}, got.Dependencies)

	closure, err := s.DependencyClosure(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{campaign.ID, magic.ID, core.ID}, closure)

	// A dependency cycle terminates.
	core.Dependencies = []int64{campaign.ID}
	_, err = s.SaveSetting(ctx, core)
	require.NoError(t, err)
	closure, err = s.DependencyClosure(ctx, core.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{core.ID, campaign.ID, magic.ID}, closure)

	_, err = s.LoadSetting(ctx, 9999)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testBuckets(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b1 := storage.Bucket{AncestorID: 10, SettingID: 1}
	b2 := storage.Bucket{AncestorID: 10, SettingID: 2}
	b3 := storage.Bucket{AncestorID: 11, SettingID: 1}

	require.NoError(t, s.AddToBucket(ctx, b1, 100))
	require.NoError(t, s.AddToBucket(ctx, b1, 100))
	require.NoError(t, s.AddToBucket(ctx, b1, 101))
	require.NoError(t, s.AddToBucket(ctx, b2, 102))
	require.NoError(t, s.AddToBucket(ctx, b3, 100))

	buckets, err := s.IndexBuckets(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []storage.Bucket{b1, b2}, buckets)

	containing, err := s.BucketsContaining(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []storage.Bucket{b1, b3}, containing)

	ids, err := s.QueryBuckets(ctx, []int64{10, 11}, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101}, ids)

	ids, err = s.QueryBuckets(ctx, []int64{10}, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101, 102}, ids)

	require.NoError(t, s.RemoveFromBucket(ctx, b1, 100))
	require.NoError(t, s.RemoveFromBucket(ctx, b1, 100))
	containing, err = s.BucketsContaining(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []storage.Bucket{b3}, containing)
}

func testCanceledContext(t *testing.T, s storage.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.LoadItem(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.SaveItem(ctx, sampleItem("X", 1))
	assert.ErrorIs(t, err, context.Canceled)
}
