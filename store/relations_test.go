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
	"gorm.io/gorm"
)

func setupPair(t *testing.T) (*gorm.DB, *store.RelationRepo, int64, int64) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	a := testutil.CreateCharacter(t, db, "alice", nil)
	b := testutil.CreateCharacter(t, db, "bob", nil)
	return db, store.NewRelationRepo(db), a.ID, b.ID
}

func TestFriendRequest_AcceptCreatesBothRows(t *testing.T) {
	_, repo, a, b := setupPair(t)
	ctx := context.Background()

	req, err := repo.CreateRequest(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, req.Status)

	_, err = repo.ResolveRequest(ctx, req.ID, a, true)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized, "only the receiver may respond")

	resolved, err := repo.ResolveRequest(ctx, req.ID, b, true)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, resolved.Status)
	assert.NotNil(t, resolved.RespondedAt)

	for _, pair := range [][2]int64{{a, b}, {b, a}} {
		ok, err := repo.AreFriends(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, ok)
	}

	_, err = repo.ResolveRequest(ctx, req.ID, b, false)
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)

	_, err = repo.CreateRequest(ctx, b, a)
	assert.ErrorIs(t, err, apperr.ErrAlreadyFriends)
}

func TestFriendRequest_RejectOnlyUpdatesStatus(t *testing.T) {
	_, repo, a, b := setupPair(t)
	ctx := context.Background()

	req, err := repo.CreateRequest(ctx, a, b)
	require.NoError(t, err)
	resolved, err := repo.ResolveRequest(ctx, req.ID, b, false)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, resolved.Status)

	ok, err := repo.AreFriends(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, ok)

	// A rejected request does not prevent a new one.
	_, err = repo.CreateRequest(ctx, b, a)
	assert.NoError(t, err)
}

func TestFriendRequest_Conflicts(t *testing.T) {
	_, repo, a, b := setupPair(t)
	ctx := context.Background()

	_, err := repo.CreateRequest(ctx, a, b)
	require.NoError(t, err)

	_, err = repo.CreateRequest(ctx, a, b)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPending)
	_, err = repo.CreateRequest(ctx, b, a)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPending, "pending in either direction")

	_, err = repo.CreateRequest(ctx, a, a)
	assert.ErrorIs(t, err, apperr.ErrSelfRelation)
	_, err = repo.CreateRequest(ctx, a, 999)
	assert.ErrorIs(t, err, apperr.ErrCharacterNotFound)

	pending, err := repo.PendingFor(ctx, b)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = repo.ResolveRequest(ctx, 4040, b, true)
	assert.ErrorIs(t, err, apperr.ErrRequestNotFound)
}

func TestBlock_AtomicCleanup(t *testing.T) {
	db, repo, a, b := setupPair(t)
	ctx := context.Background()
	carol := testutil.CreateCharacter(t, db, "carol", nil)

	// a and b are friends; carol has a pending request to b.
	req, err := repo.CreateRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = repo.ResolveRequest(ctx, req.ID, b, true)
	require.NoError(t, err)
	pending, err := repo.CreateRequest(ctx, carol.ID, b)
	require.NoError(t, err)

	_, err = repo.Block(ctx, b, a)
	require.NoError(t, err)
	ok, err := repo.AreFriends(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.AreFriends(ctx, b, a)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Block(ctx, b, carol.ID)
	require.NoError(t, err)
	got, err := repo.GetRequest(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, got.Status)

	_, err = repo.Block(ctx, b, a)
	assert.ErrorIs(t, err, apperr.ErrAlreadyBlocked)

	blocked, err := repo.IsBlockedEither(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, blocked)

	_, err = repo.CreateRequest(ctx, a, b)
	assert.ErrorIs(t, err, apperr.ErrBlocked)
}

func TestUnblock(t *testing.T) {
	_, repo, a, b := setupPair(t)
	ctx := context.Background()

	entry, err := repo.Block(ctx, a, b)
	require.NoError(t, err)

	_, err = repo.Unblock(ctx, entry.ID, b)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	list, err := repo.Blacklist(ctx, a)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.Unblock(ctx, entry.ID, a)
	require.NoError(t, err)
	blocked, err := repo.IsBlockedEither(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, blocked)

	_, err = repo.Unblock(ctx, entry.ID, a)
	assert.ErrorIs(t, err, apperr.ErrEntryNotFound)
}

func TestUnfriend(t *testing.T) {
	_, repo, a, b := setupPair(t)
	ctx := context.Background()

	assert.ErrorIs(t, repo.Unfriend(ctx, a, b), apperr.ErrNotFriends)

	req, err := repo.CreateRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = repo.ResolveRequest(ctx, req.ID, b, true)
	require.NoError(t, err)

	friends, err := repo.Friends(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, friends)

	require.NoError(t, repo.Unfriend(ctx, b, a))
	friends, err = repo.Friends(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, friends)
}
