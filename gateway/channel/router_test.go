package channel_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/gateway/channel"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDir map[int64]*model.Channel

func (d fakeDir) Get(_ context.Context, id int64) (*model.Channel, error) {
	if ch, ok := d[id]; ok {
		return ch, nil
	}
	return nil, apperr.ErrChannelNotFound
}

func newRouter() *channel.Router {
	return channel.NewRouter(fakeDir{
		1: {ID: 1, Name: "world", Type: model.ChannelWorld},
		2: {ID: 2, Name: "alliance:1", Type: model.ChannelAlliance, Private: true},
	}, zap.NewNop())
}

func newSession(charID int64) (*player.Session, *testutil.FakeSink) {
	sink := testutil.NewFakeSink()
	return player.NewSession(charID, fmt.Sprintf("c%d", charID), sink, player.SessionConfig{}, zap.NewNop()), sink
}

func TestJoin_UnknownChannel(t *testing.T) {
	r := newRouter()
	s, _ := newSession(1)
	defer s.Close()

	_, err := r.Join(context.Background(), 99, s)
	assert.ErrorIs(t, err, apperr.ErrChannelNotFound)
	assert.Empty(t, s.Channels())
}

func TestJoin_Idempotent(t *testing.T) {
	r := newRouter()
	ctx := context.Background()
	s, _ := newSession(1)
	defer s.Close()

	added, err := r.Join(ctx, 1, s)
	require.NoError(t, err)
	assert.True(t, added)
	once := r.MembersOf(1)

	added, err = r.Join(ctx, 1, s)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, once, r.MembersOf(1))
	assert.Equal(t, []int64{1}, s.Channels())
}

func TestLeave(t *testing.T) {
	r := newRouter()
	ctx := context.Background()
	s, _ := newSession(1)
	defer s.Close()

	_, err := r.Join(ctx, 1, s)
	require.NoError(t, err)
	_, err = r.Join(ctx, 2, s)
	require.NoError(t, err)

	assert.True(t, r.Leave(1, s))
	assert.False(t, r.Leave(1, s))
	assert.Empty(t, r.MembersOf(1))
	assert.Equal(t, []int64{2}, s.Channels())

	assert.Equal(t, []int64{2}, r.LeaveAll(1))
	assert.Empty(t, s.Channels())
	assert.Empty(t, r.Stats())
}

func TestLeaveSession_KeepsReplacement(t *testing.T) {
	r := newRouter()
	ctx := context.Background()
	old, _ := newSession(1)
	fresh, _ := newSession(1)
	defer fresh.Close()

	_, err := r.Join(ctx, 1, old)
	require.NoError(t, err)
	_, err = r.Join(ctx, 1, fresh)
	require.NoError(t, err)
	old.Close()

	assert.Empty(t, r.LeaveSession(old))
	assert.Same(t, fresh, r.Session(1, 1))
}

func TestLeave_SupersededSessionKeepsReplacement(t *testing.T) {
	r := newRouter()
	ctx := context.Background()
	old, _ := newSession(1)
	fresh, _ := newSession(1)
	defer fresh.Close()

	_, err := r.Join(ctx, 1, old)
	require.NoError(t, err)
	_, err = r.Join(ctx, 1, fresh)
	require.NoError(t, err)
	old.Close()

	assert.False(t, r.Leave(1, old))
	assert.Equal(t, []int64{1}, r.MembersOf(1))
	assert.Same(t, fresh, r.Session(1, 1))
	assert.True(t, fresh.InChannel(1))

	assert.True(t, r.Leave(1, fresh))
	assert.Empty(t, r.MembersOf(1))
}

func TestBroadcast_FIFOAcrossSubscribers(t *testing.T) {
	r := newRouter()
	ctx := context.Background()
	var sinks []*testutil.FakeSink
	for id := int64(1); id <= 4; id++ {
		s, sink := newSession(id)
		defer s.Close()
		_, err := r.Join(ctx, 1, s)
		require.NoError(t, err)
		sinks = append(sinks, sink)
	}

	// Concurrent producers; every subscriber must observe one identical order.
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				data, _ := player.EncodeEvent("message", fmt.Sprintf("%d-%d", p, i))
				r.Broadcast(1, data)
			}
		}(p)
	}
	wg.Wait()

	var reference []string
	for i, sink := range sinks {
		frames := sink.WaitFor(t, "message", 100)
		var order []string
		for _, fr := range frames {
			order = append(order, string(fr.Data))
		}
		if i == 0 {
			reference = order
			continue
		}
		assert.Equal(t, reference, order)
	}
}

func TestBroadcast_FailedSubscriberDropped(t *testing.T) {
	r := newRouter()
	ctx := context.Background()
	good, goodSink := newSession(1)
	defer good.Close()
	bad, _ := newSession(2)

	_, err := r.Join(ctx, 1, good)
	require.NoError(t, err)
	_, err = r.Join(ctx, 1, bad)
	require.NoError(t, err)
	bad.Close()

	data, _ := player.EncodeEvent("message", "hi")
	assert.Equal(t, 1, r.Broadcast(1, data))
	goodSink.WaitFor(t, "message", 1)
	assert.Equal(t, []int64{1}, r.MembersOf(1))
}

func TestBroadcastExcept(t *testing.T) {
	r := newRouter()
	ctx := context.Background()
	a, aSink := newSession(1)
	b, bSink := newSession(2)
	defer a.Close()
	defer b.Close()
	_, _ = r.Join(ctx, 1, a)
	_, _ = r.Join(ctx, 1, b)

	data, _ := player.EncodeEvent("typing", map[string]int64{"characterId": 1})
	assert.Equal(t, 1, r.BroadcastExcept(1, data, 1))
	bSink.WaitFor(t, "typing", 1)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, aSink.OfType("typing"))
}
