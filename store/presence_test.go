package store_test

import (
	"context"
	"testing"

	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"github.com/Skynet2005/MobileGame-sub001/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPresence_SetOnline(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	ctx := context.Background()
	alice := testutil.CreateCharacter(t, db, "alice", nil)
	p := store.NewPresence(store.NewCharacterRepo(db), c, zap.NewNop())

	require.NoError(t, p.SetOnline(ctx, alice.ID, true))
	online, err := p.Online(ctx)
	require.NoError(t, err)
	assert.True(t, online[alice.ID])

	var row model.Character
	require.NoError(t, db.First(&row, alice.ID).Error)
	assert.True(t, row.Online)
	assert.NotNil(t, row.LastSeenAt)

	require.NoError(t, p.SetOnline(ctx, alice.ID, false))
	online, err = p.Online(ctx)
	require.NoError(t, err)
	assert.False(t, online[alice.ID])
	require.NoError(t, db.First(&row, alice.ID).Error)
	assert.False(t, row.Online)
}

func TestPresence_Reconcile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	ctx := context.Background()
	p := store.NewPresence(store.NewCharacterRepo(db), c, zap.NewNop())

	require.NoError(t, c.SAdd(ctx, store.PresenceKey, "1", "2"))

	added, removed, err := p.Reconcile(ctx, []int64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	online, err := p.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{2: true, 3: true}, online)
}
