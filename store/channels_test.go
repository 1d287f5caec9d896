package store_test

import (
	"context"
	"testing"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"github.com/Skynet2005/MobileGame-sub001/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureWorld_Single(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := store.NewChannelRepo(db)

	a, err := repo.EnsureWorld(ctx, "world")
	require.NoError(t, err)
	b, err := repo.EnsureWorld(ctx, "global")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "world", b.Name)

	var n int64
	require.NoError(t, db.Model(&model.Channel{}).Where("type = ?", model.ChannelWorld).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestEnsureAlliance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := store.NewChannelRepo(db)
	ally := testutil.CreateAlliance(t, db, "Northwind", "NW")

	ch, err := repo.EnsureAlliance(ctx, ally.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChannelAlliance, ch.Type)
	assert.True(t, ch.Private)
	require.NotNil(t, ch.AllianceID)
	assert.Equal(t, ally.ID, *ch.AllianceID)

	again, err := repo.EnsureAlliance(ctx, ally.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, again.ID)
}

func TestEnsurePrivate_SymmetricAndMembers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := store.NewChannelRepo(db)

	ch, err := repo.EnsurePrivate(ctx, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, "dm:3:7", ch.Name)
	assert.Equal(t, model.ChannelPrivate, ch.Type)

	same, err := repo.EnsurePrivate(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, same.ID)

	members, err := repo.Members(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, members)

	_, err = repo.EnsurePrivate(ctx, 3, 3)
	assert.ErrorIs(t, err, apperr.ErrSelfRelation)
}

func TestMembership_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := store.NewChannelRepo(db)
	world, err := repo.EnsureWorld(ctx, "world")
	require.NoError(t, err)

	require.NoError(t, repo.AddMember(ctx, world.ID, 5))
	require.NoError(t, repo.AddMember(ctx, world.ID, 5))
	members, err := repo.Members(ctx, world.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, members)

	ok, err := repo.IsMember(ctx, world.ID, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.RemoveMember(ctx, world.ID, 5))
	ok, err = repo.IsMember(ctx, world.ID, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, repo.AddMember(ctx, 404, 5), apperr.ErrChannelNotFound)
}

func TestLookupAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := store.NewChannelRepo(db)
	world, err := repo.EnsureWorld(ctx, "world")
	require.NoError(t, err)
	dm, err := repo.EnsurePrivate(ctx, 1, 2)
	require.NoError(t, err)

	byName, err := repo.GetByName(ctx, "dm:1:2")
	require.NoError(t, err)
	assert.Equal(t, dm.ID, byName.ID)

	_, err = repo.Get(ctx, 12345)
	assert.ErrorIs(t, err, apperr.ErrChannelNotFound)
	_, err = repo.GetByName(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrChannelNotFound)

	list, err := repo.ListForCharacter(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, world.ID, list[0].ID)
	assert.Equal(t, dm.ID, list[1].ID)

	list, err = repo.ListForCharacter(ctx, 9)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
