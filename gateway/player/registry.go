package player

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionLeaver drops a session from every channel it is subscribed to.
type SessionLeaver interface {
	LeaveSession(s *Session) []int64
}

// PresenceWriter persists the online flag of a character.
type PresenceWriter interface {
	SetOnline(ctx context.Context, charID int64, online bool) error
}

type presenceUpdate struct {
	charID int64
	online bool
}

const presenceQueue = 1024

// Registry maintains at most one live Session per character.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session // charID → session

	leaver   SessionLeaver
	presence PresenceWriter

	lmu       sync.RWMutex
	listeners []func(*Session)

	updates   chan presenceUpdate
	stopOnce  sync.Once
	stopCh    chan struct{}
	presentWG sync.WaitGroup

	logger *zap.Logger
}

// NewRegistry creates a Registry. presence may be nil.
func NewRegistry(leaver SessionLeaver, presence PresenceWriter, logger *zap.Logger) *Registry {
	r := &Registry{
		sessions: make(map[int64]*Session),
		leaver:   leaver,
		presence: presence,
		updates:  make(chan presenceUpdate, presenceQueue),
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
	r.presentWG.Add(1)
	go r.presenceLoop()
	return r
}

// OnUnregister adds a listener invoked as a session leaves the registry,
// before its channel subscriptions are dropped.
func (r *Registry) OnUnregister(fn func(*Session)) {
	r.lmu.Lock()
	r.listeners = append(r.listeners, fn)
	r.lmu.Unlock()
}

// Register installs s for its character. A previous live session for the
// same character is closed and removed from its channels first.
func (r *Registry) Register(s *Session) {
	s.setOnFailure(r.handleFailure)

	r.mu.Lock()
	old := r.sessions[s.CharID]
	r.sessions[s.CharID] = s
	r.mu.Unlock()

	if old != nil && old != s {
		old.Close()
		r.release(old)
		r.logger.Info("duplicate session displaced", zap.Int64("char_id", s.CharID))
	}
	r.queuePresence(s.CharID, true)
	r.logger.Info("player session registered",
		zap.Int64("char_id", s.CharID),
		zap.String("trace_id", s.TraceID))
}

// Unregister removes whatever session is live for charID.
func (r *Registry) Unregister(charID int64) {
	r.mu.Lock()
	s := r.sessions[charID]
	delete(r.sessions, charID)
	r.mu.Unlock()
	if s == nil {
		return
	}
	r.finish(s)
}

// UnregisterSession removes s only if it is still the live session for its
// character; a superseded session never evicts its replacement.
func (r *Registry) UnregisterSession(s *Session) bool {
	r.mu.Lock()
	if r.sessions[s.CharID] != s {
		r.mu.Unlock()
		s.Close()
		return false
	}
	delete(r.sessions, s.CharID)
	r.mu.Unlock()
	r.finish(s)
	return true
}

func (r *Registry) finish(s *Session) {
	s.Close()
	r.release(s)
	r.queuePresence(s.CharID, false)
	r.logger.Info("player session unregistered", zap.Int64("char_id", s.CharID))
}

func (r *Registry) release(s *Session) {
	r.lmu.RLock()
	ls := append([]func(*Session){}, r.listeners...)
	r.lmu.RUnlock()
	for _, fn := range ls {
		fn(s)
	}
	if r.leaver != nil {
		r.leaver.LeaveSession(s)
	}
}

func (r *Registry) handleFailure(s *Session, err error) {
	r.UnregisterSession(s)
}

// Get returns the live session for a charID, or nil.
func (r *Registry) Get(charID int64) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[charID]
}

// IsOnline reports whether a character is currently connected.
func (r *Registry) IsOnline(charID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[charID]
	return ok
}

// Count returns the number of currently connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot slice of all current sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// OnlineIDs returns the character ids of all live sessions.
func (r *Registry) OnlineIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// BroadcastAll sends pre-encoded data to every live session regardless of
// channel membership.
func (r *Registry) BroadcastAll(data []byte) int {
	n := 0
	for _, s := range r.All() {
		if s.Send(data) == nil {
			n++
		}
	}
	return n
}

// CloseAll closes every session and waits for their writers to exit or ctx
// to end.
func (r *Registry) CloseAll(ctx context.Context) error {
	sessions := r.All()
	r.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		r.UnregisterSession(s)
	}
	for _, s := range sessions {
		select {
		case <-s.Wait():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop ends the presence writer after draining queued updates.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.presentWG.Wait()
}

func (r *Registry) queuePresence(charID int64, online bool) {
	if r.presence == nil {
		return
	}
	select {
	case r.updates <- presenceUpdate{charID: charID, online: online}:
	default:
		r.logger.Warn("presence queue full, update dropped",
			zap.Int64("char_id", charID), zap.Bool("online", online))
	}
}

// presenceLoop applies presence updates in order so a quick reconnect never
// ends up persisted as offline.
func (r *Registry) presenceLoop() {
	defer r.presentWG.Done()
	for {
		select {
		case u := <-r.updates:
			r.writePresence(u)
		case <-r.stopCh:
			for {
				select {
				case u := <-r.updates:
					r.writePresence(u)
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) writePresence(u presenceUpdate) {
	// A stale offline update for a character that reconnected meanwhile is
	// skipped.
	if !u.online && r.IsOnline(u.charID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.presence.SetOnline(ctx, u.charID, u.online); err != nil {
		r.logger.Warn("persist presence failed",
			zap.Int64("char_id", u.charID),
			zap.Bool("online", u.online),
			zap.Error(err))
	}
}

// SendTo delivers an event to charID if online and reports whether it was
// enqueued.
func (r *Registry) SendTo(charID int64, typ string, data interface{}) bool {
	s := r.Get(charID)
	if s == nil {
		return false
	}
	return s.SendEvent(typ, data) == nil
}
