package player_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"github.com/Skynet2005/MobileGame-sub001/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSession(charID int64, cfg player.SessionConfig) (*player.Session, *testutil.FakeSink) {
	sink := testutil.NewFakeSink()
	return player.NewSession(charID, "hero", sink, cfg, zap.NewNop()), sink
}

func TestSession_SendOrder(t *testing.T) {
	s, sink := newSession(1, player.SessionConfig{})
	defer s.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, s.SendEvent("message", map[string]int{"n": i}))
	}
	frames := sink.WaitFor(t, "message", 20)
	for i, fr := range frames {
		var d struct{ N int }
		testutil.Decode(t, fr, &d)
		assert.Equal(t, i, d.N)
	}
}

func TestSession_SendAfterCloseIsNoop(t *testing.T) {
	s, sink := newSession(1, player.SessionConfig{})
	s.Close()
	sink.WaitClosed(t)

	assert.ErrorIs(t, s.Send([]byte(`{}`)), player.ErrClosed)
	assert.True(t, s.IsClosed())
	assert.Equal(t, player.StateClosing, s.State())
	s.MarkClosed()
	assert.Equal(t, player.StateClosed, s.State())
	assert.False(t, s.MarkOpen(), "closed is terminal")
}

func TestSession_CloseFlushesQueued(t *testing.T) {
	s, sink := newSession(1, player.SessionConfig{})
	require.NoError(t, s.SendEvent("system", "bye"))
	s.Close()
	<-s.Wait()
	assert.Len(t, sink.OfType("system"), 1)
	assert.True(t, sink.Closed())
}

func TestSession_WriteFailureReportsTimeout(t *testing.T) {
	s, sink := newSession(1, player.SessionConfig{WriteTimeout: 20 * time.Millisecond})
	sink.Stall()
	require.NoError(t, s.Send([]byte(`{"type":"message"}`)))

	select {
	case <-s.Wait():
	case <-time.After(2 * time.Second):
		t.Fatal("stalled sink did not fail the session")
	}
	assert.True(t, s.IsClosed())
}

func TestSession_QueueFullFails(t *testing.T) {
	s, sink := newSession(1, player.SessionConfig{SendBuffer: 1, WriteTimeout: time.Second})
	sink.Stall()
	var lastErr error
	for i := 0; i < 10 && lastErr == nil; i++ {
		lastErr = s.Send([]byte(`{}`))
	}
	require.Error(t, lastErr)
	assert.True(t, errors.Is(lastErr, apperr.ErrSinkTimeout) || errors.Is(lastErr, player.ErrClosed))
	assert.True(t, s.IsClosed())
}

func TestSession_HeartbeatTimeout(t *testing.T) {
	s, _ := newSession(1, player.SessionConfig{HeartbeatTimeout: 30 * time.Millisecond})
	require.True(t, s.MarkOpen())
	assert.Equal(t, player.StateOpen, s.State())

	select {
	case <-s.Wait():
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat timer did not close the session")
	}
	assert.Equal(t, player.StateClosing, s.State())
}

func TestSession_TouchKeepsAlive(t *testing.T) {
	s, _ := newSession(1, player.SessionConfig{HeartbeatTimeout: 80 * time.Millisecond})
	defer s.Close()
	before := s.LastHeartbeat()
	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		s.Touch()
	}
	assert.False(t, s.IsClosed())
	assert.True(t, s.LastHeartbeat().After(before))
}

func TestSession_ChannelsAndTyping(t *testing.T) {
	s, _ := newSession(1, player.SessionConfig{})
	defer s.Close()

	assert.True(t, s.TrackChannel(10))
	assert.False(t, s.TrackChannel(10))
	assert.True(t, s.InChannel(10))

	now := time.Now()
	assert.True(t, s.SetTyping(10, true, now))
	assert.False(t, s.SetTyping(10, true, now), "refresh is not a change")
	assert.True(t, s.IsTyping(10))

	assert.Empty(t, s.ExpireTyping(now.Add(time.Second), 5*time.Second))
	assert.Equal(t, []int64{10}, s.ExpireTyping(now.Add(6*time.Second), 5*time.Second))
	assert.False(t, s.IsTyping(10))

	s.SetTyping(10, true, now)
	assert.True(t, s.UntrackChannel(10))
	assert.False(t, s.IsTyping(10), "leaving clears typing")
	assert.False(t, s.UntrackChannel(10))
	assert.Empty(t, s.Channels())
}

func TestSession_SendError(t *testing.T) {
	s, sink := newSession(1, player.SessionConfig{})
	defer s.Close()

	s.SendError("message", apperr.ErrBlocked)
	fr := sink.WaitFor(t, "error", 1)[0]
	var d player.ErrorData
	testutil.Decode(t, fr, &d)
	assert.Equal(t, "Blocked", d.Kind)
	assert.Equal(t, "blocked", d.Reason)
	assert.Equal(t, "message", d.Frame)
}
