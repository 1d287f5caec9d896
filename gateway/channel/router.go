// Package channel fans events out to the live subscribers of a channel.
package channel

import (
	"context"
	"sort"
	"sync"

	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"go.uber.org/zap"
)

// Directory confirms channel existence.
type Directory interface {
	Get(ctx context.Context, id int64) (*model.Channel, error)
}

// room serializes fan-out for one channel so every subscriber sees the same
// order.
type room struct {
	mu      sync.Mutex
	members map[int64]*player.Session // charID → session
}

// Router maps channel id → subscribed sessions.
type Router struct {
	mu     sync.RWMutex
	rooms  map[int64]*room
	dir    Directory
	logger *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(dir Directory, logger *zap.Logger) *Router {
	return &Router{
		rooms:  make(map[int64]*room),
		dir:    dir,
		logger: logger,
	}
}

// Join subscribes s to channelID. It fails with ChannelNotFound for unknown
// channels and is a no-op when already subscribed. added reports whether the
// subscription is new.
func (r *Router) Join(ctx context.Context, channelID int64, s *player.Session) (added bool, err error) {
	if _, err := r.dir.Get(ctx, channelID); err != nil {
		return false, err
	}
	if s.IsClosed() {
		return false, player.ErrClosed
	}

	r.mu.Lock()
	rm, ok := r.rooms[channelID]
	if !ok {
		rm = &room{members: make(map[int64]*player.Session)}
		r.rooms[channelID] = rm
	}
	rm.mu.Lock()
	cur := rm.members[s.CharID]
	rm.members[s.CharID] = s
	rm.mu.Unlock()
	r.mu.Unlock()

	s.TrackChannel(channelID)
	return cur != s, nil
}

// Leave unsubscribes s from channelID. An entry held by a newer session of
// the same character is left alone.
func (r *Router) Leave(channelID int64, s *player.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[channelID]
	if !ok {
		return false
	}
	rm.mu.Lock()
	ok = rm.members[s.CharID] == s
	if ok {
		delete(rm.members, s.CharID)
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	if empty {
		delete(r.rooms, channelID)
	}
	if ok {
		s.UntrackChannel(channelID)
	}
	return ok
}

// LeaveSession removes s from every channel it is subscribed to. Entries that
// already belong to a newer session of the same character are left alone.
func (r *Router) LeaveSession(s *player.Session) []int64 {
	var left []int64
	r.mu.Lock()
	for _, id := range s.Channels() {
		rm, ok := r.rooms[id]
		if !ok {
			continue
		}
		rm.mu.Lock()
		if rm.members[s.CharID] == s {
			delete(rm.members, s.CharID)
			left = append(left, id)
		}
		empty := len(rm.members) == 0
		rm.mu.Unlock()
		if empty {
			delete(r.rooms, id)
		}
	}
	r.mu.Unlock()
	for _, id := range s.Channels() {
		s.UntrackChannel(id)
	}
	return left
}

// LeaveAll removes charID from every channel.
func (r *Router) LeaveAll(charID int64) []int64 {
	var left []int64
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rm := range r.rooms {
		rm.mu.Lock()
		if s, ok := rm.members[charID]; ok {
			delete(rm.members, charID)
			s.UntrackChannel(id)
			left = append(left, id)
		}
		empty := len(rm.members) == 0
		rm.mu.Unlock()
		if empty {
			delete(r.rooms, id)
		}
	}
	return left
}

// Broadcast enqueues data to every subscriber of channelID and returns the
// number of sessions it reached. A subscriber whose queue rejects the frame is
// removed; delivery to the rest continues.
func (r *Router) Broadcast(channelID int64, data []byte) int {
	return r.broadcast(channelID, data, 0)
}

// BroadcastExcept is Broadcast skipping one character.
func (r *Router) BroadcastExcept(channelID int64, data []byte, exceptCharID int64) int {
	return r.broadcast(channelID, data, exceptCharID)
}

func (r *Router) broadcast(channelID int64, data []byte, except int64) int {
	var failed []*player.Session
	n := 0

	r.mu.RLock()
	rm, ok := r.rooms[channelID]
	if ok {
		rm.mu.Lock()
		for id, s := range rm.members {
			if id == except {
				continue
			}
			if err := s.Send(data); err != nil {
				failed = append(failed, s)
				continue
			}
			n++
		}
		rm.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, s := range failed {
		r.logger.Warn("dropping subscriber after failed delivery",
			zap.Int64("channel_id", channelID),
			zap.Int64("char_id", s.CharID))
		r.LeaveSession(s)
	}
	return n
}

// MembersOf returns the sorted character ids subscribed to channelID.
func (r *Router) MembersOf(channelID int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[channelID]
	if !ok {
		return []int64{}
	}
	rm.mu.Lock()
	out := make([]int64, 0, len(rm.members))
	for id := range rm.members {
		out = append(out, id)
	}
	rm.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Session returns charID's session if it is subscribed to channelID.
func (r *Router) Session(channelID, charID int64) *player.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[channelID]
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.members[charID]
}

// Stats returns subscriber counts per active channel.
func (r *Router) Stats() map[int64]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]int, len(r.rooms))
	for id, rm := range r.rooms {
		rm.mu.Lock()
		out[id] = len(rm.members)
		rm.mu.Unlock()
	}
	return out
}
