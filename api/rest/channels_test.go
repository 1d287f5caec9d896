package rest_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/Skynet2005/MobileGame-sub001/gateway/chat"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannels_ListIncludesWorldAndAlliance(t *testing.T) {
	s := newServer(t)
	a := testutil.CreateAlliance(t, s.db, "Northwind", "NW")
	alice := testutil.CreateCharacter(t, s.db, "alice", &a.ID)
	s.connect(t, alice)

	w := s.do(t, http.MethodGet, "/api/channels", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Channels []model.Channel `json:"channels"`
	}
	decodeBody(t, w, &resp)
	require.Len(t, resp.Channels, 2)
	assert.Equal(t, model.ChannelWorld, resp.Channels[0].Type)
	assert.Equal(t, model.ChannelAlliance, resp.Channels[1].Type)
}

func TestChannels_MessagesPaging(t *testing.T) {
	s := newServer(t)
	alice := testutil.CreateCharacter(t, s.db, "alice", nil)
	sess, _ := s.connect(t, alice)

	ctx := context.Background()
	world, err := s.chat.World(ctx)
	require.NoError(t, err)
	for _, text := range []string{"a", "b", "c", "d"} {
		_, err := s.chat.SendMessage(ctx, sess, chat.ChannelRef{ID: world.ID}, text)
		require.NoError(t, err)
	}

	w := s.do(t, http.MethodGet, path("/api/channels/%d/messages?limit=3", world.ID), alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page chat.HistoryData
	decodeBody(t, w, &page)
	require.Len(t, page.Messages, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, "b", page.Messages[0].Content)
	assert.Equal(t, "d", page.Messages[2].Content)

	w = s.do(t, http.MethodGet, path("/api/channels/%d/messages?limit=3&before=%d", world.ID, page.Messages[0].ID), alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &page)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "a", page.Messages[0].Content)
	assert.False(t, page.HasMore)
}

func TestChannels_MessagesRequireMembership(t *testing.T) {
	s := newServer(t)
	a := testutil.CreateAlliance(t, s.db, "Northwind", "NW")
	alice := testutil.CreateCharacter(t, s.db, "alice", &a.ID)
	eve := testutil.CreateCharacter(t, s.db, "eve", nil)
	s.connect(t, alice)

	w := s.do(t, http.MethodGet, "/api/channels", alice.ID, nil)
	var resp struct {
		Channels []model.Channel `json:"channels"`
	}
	decodeBody(t, w, &resp)
	require.Len(t, resp.Channels, 2)
	allianceID := resp.Channels[1].ID

	w = s.do(t, http.MethodGet, path("/api/channels/%d/messages", allianceID), eve.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/channels/424242/messages", alice.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/channels/nope/messages", alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
