package model_test

import (
	"testing"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	ally := &model.Alliance{Name: "Northwind", Tag: "NW"}
	require.NoError(t, db.Create(ally).Error)

	char := &model.Character{Name: "Hero", AllianceID: &ally.ID}
	require.NoError(t, db.Create(char).Error)
	assert.Greater(t, char.ID, int64(0))

	var found model.Character
	require.NoError(t, db.First(&found, char.ID).Error)
	assert.Equal(t, "Hero", found.Name)
	require.NotNil(t, found.AllianceID)
	assert.Equal(t, ally.ID, *found.AllianceID)

	ch := &model.Channel{Name: "world", Type: model.ChannelWorld}
	require.NoError(t, db.Create(ch).Error)
	require.NoError(t, db.Create(&model.ChannelMember{ChannelID: ch.ID, CharID: char.ID}).Error)
	require.NoError(t, db.Create(&model.Message{
		ChannelID: ch.ID, SenderID: char.ID, Content: "hi", CreatedAt: time.Now(),
	}).Error)

	al := &model.AuditLog{TraceID: "trace-001", Action: "block", CreatedAt: time.Now()}
	require.NoError(t, db.Create(al).Error)
}

func TestUniqueConstraints(t *testing.T) {
	db := testutil.SetupTestDB(t)

	require.NoError(t, db.Create(&model.Channel{Name: "world", Type: model.ChannelWorld}).Error)
	assert.Error(t, db.Create(&model.Channel{Name: "world", Type: model.ChannelWorld}).Error)

	key := "1:2"
	require.NoError(t, db.Create(&model.FriendRequest{SenderID: 1, ReceiverID: 2, Status: model.RequestPending, PendingKey: &key}).Error)
	dup := "1:2"
	assert.Error(t, db.Create(&model.FriendRequest{SenderID: 2, ReceiverID: 1, Status: model.RequestPending, PendingKey: &dup}).Error)

	// Resolved requests carry no key and do not collide.
	require.NoError(t, db.Create(&model.FriendRequest{SenderID: 1, ReceiverID: 2, Status: model.RequestRejected}).Error)
	require.NoError(t, db.Create(&model.FriendRequest{SenderID: 1, ReceiverID: 2, Status: model.RequestRejected}).Error)

	require.NoError(t, db.Create(&model.BlacklistEntry{BlockerID: 1, BlockedID: 2}).Error)
	assert.Error(t, db.Create(&model.BlacklistEntry{BlockerID: 1, BlockedID: 2}).Error)
}
