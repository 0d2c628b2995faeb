package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/storage/storetest"
	"github.com/nathoo/lorekeep/types"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return New() })
}

func TestStore_CopiesItems(t *testing.T) {
	ctx := context.Background()
	s := New()
	in := &types.Item{Name: "Orc", Groups: []string{"green"}}
	saved, err := s.SaveItem(ctx, in)
	require.NoError(t, err)

	in.Groups[0] = "changed"
	saved.Name = "changed"
	got, err := s.LoadItem(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Orc", got.Name)
	assert.Equal(t, []string{"green"}, got.Groups)
}

func TestData_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.SaveItem(ctx, &types.Item{Name: "A", SettingID: 1})
	require.NoError(t, err)
	_, err = s.SaveSetting(ctx, &types.Setting{Name: "Core"})
	require.NoError(t, err)
	require.NoError(t, s.AddToBucket(ctx, storage.Bucket{AncestorID: 5, SettingID: 1}, a.ID))

	restored := FromData(s.Data())
	got, err := restored.LoadItem(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	ids, err := restored.QueryBuckets(ctx, []int64{5}, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, ids)

	next, err := restored.SaveItem(ctx, &types.Item{Name: "B"})
	require.NoError(t, err)
	assert.Greater(t, next.ID, a.ID)
}
