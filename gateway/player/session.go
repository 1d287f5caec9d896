package player

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"go.uber.org/zap"
)

// ErrClosed is returned by Send on a session that has been closed or
// superseded.
var ErrClosed = errors.New("player: session closed")

// State is the connection lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Sink is the outbound half of a client connection.
type Sink interface {
	WriteFrame(data []byte, deadline time.Time) error
	Close() error
}

// Pinger is implemented by sinks that support transport-level keepalives.
type Pinger interface {
	WritePing(deadline time.Time) error
}

// Event is the server → client envelope.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EncodeEvent marshals an event envelope.
func EncodeEvent(typ string, data interface{}) ([]byte, error) {
	return json.Marshal(&Event{Type: typ, Data: data})
}

// SessionConfig tunes a session's outbound queue and timers.
type SessionConfig struct {
	SendBuffer       int
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration // 0 disables the liveness timer
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Session is one live connection of a character.
type Session struct {
	CharID  int64
	TraceID string
	// LastSeq is owned by the read goroutine.
	LastSeq uint64

	sink    Sink
	cfg     SessionConfig
	queue   chan []byte
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	failOnce  sync.Once
	state     atomic.Int32
	lastBeat  atomic.Int64

	mu         sync.Mutex
	name       string
	allianceID *int64
	channels   map[int64]struct{}
	typing     map[int64]time.Time
	heartbeat  *time.Timer
	onFailure  func(*Session, error)

	logger *zap.Logger
}

// NewSession creates a Session in the Connecting state and starts its write
// goroutine.
func NewSession(charID int64, name string, sink Sink, cfg SessionConfig, logger *zap.Logger) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		CharID:   charID,
		sink:     sink,
		cfg:      cfg,
		queue:    make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		name:     name,
		channels: make(map[int64]struct{}),
		typing:   make(map[int64]time.Time),
		logger:   logger,
	}
	s.lastBeat.Store(time.Now().UnixNano())
	if cfg.HeartbeatTimeout > 0 {
		s.heartbeat = time.AfterFunc(cfg.HeartbeatTimeout, func() {
			s.fail(apperr.New(apperr.KindTimeout, "heartbeat_timeout"))
		})
	}
	go s.writePump()
	return s
}

// writePump drains the queue into the sink. A failed or timed-out write fails
// the session. On close it flushes what is already queued.
func (s *Session) writePump() {
	var tick <-chan time.Time
	pinger, canPing := s.sink.(Pinger)
	if canPing && s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer close(s.stopped)
	defer func() { _ = s.sink.Close() }()

	for {
		select {
		case data := <-s.queue:
			if err := s.sink.WriteFrame(data, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.fail(apperr.Wrap(apperr.KindTimeout, apperr.ErrSinkTimeout.Reason, err))
				return
			}
		case <-tick:
			if err := pinger.WritePing(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.fail(apperr.Wrap(apperr.KindTimeout, apperr.ErrSinkTimeout.Reason, err))
				return
			}
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *Session) flush() {
	for {
		select {
		case data := <-s.queue:
			if err := s.sink.WriteFrame(data, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send enqueues pre-encoded data without blocking. A full queue fails the
// session; a closed session drops the frame.
func (s *Session) Send(data []byte) error {
	if s.IsClosed() {
		return ErrClosed
	}
	select {
	case s.queue <- data:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		err := apperr.Wrap(apperr.KindTimeout, apperr.ErrSinkTimeout.Reason, errors.New("send queue full"))
		s.fail(err)
		return err
	}
}

// SendEvent encodes and enqueues an event.
func (s *Session) SendEvent(typ string, data interface{}) error {
	b, err := EncodeEvent(typ, data)
	if err != nil {
		return err
	}
	return s.Send(b)
}

// SendError reports err to this session as an error event.
func (s *Session) SendError(frame string, err error) {
	_ = s.SendEvent("error", ErrorData{
		Kind:   string(apperr.KindOf(err)),
		Reason: apperr.ReasonOf(err),
		Frame:  frame,
	})
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Frame  string `json:"frame,omitempty"`
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		if !s.IsClosed() {
			s.logger.Warn("session failed",
				zap.Int64("char_id", s.CharID),
				zap.String("trace_id", s.TraceID),
				zap.Error(err))
		}
		s.mu.Lock()
		cb := s.onFailure
		s.mu.Unlock()
		s.Close()
		if cb != nil {
			go cb(s, err)
		}
	})
}

func (s *Session) setOnFailure(fn func(*Session, error)) {
	s.mu.Lock()
	s.onFailure = fn
	s.mu.Unlock()
}

// Close stops the session. Queued frames are flushed best-effort before the
// sink is closed. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.transition(StateClosing)
		s.mu.Lock()
		if s.heartbeat != nil {
			s.heartbeat.Stop()
		}
		s.mu.Unlock()
		close(s.done)
	})
}

// Wait blocks until the write goroutine has exited and the sink is closed.
func (s *Session) Wait() <-chan struct{} { return s.stopped }

// IsClosed returns true if the session has been closed.
func (s *Session) IsClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ---- lifecycle ----

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// MarkOpen moves Connecting → Open. It fails if the session was already
// closed during the handshake.
func (s *Session) MarkOpen() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// MarkClosed moves the session to the terminal state.
func (s *Session) MarkClosed() {
	s.Close()
	s.state.Store(int32(StateClosed))
}

func (s *Session) transition(to State) {
	for {
		cur := s.state.Load()
		if State(cur) >= to {
			return
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

// Touch records a liveness signal and re-arms the heartbeat timer.
func (s *Session) Touch() {
	s.lastBeat.Store(time.Now().UnixNano())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeat != nil && !s.IsClosed() {
		s.heartbeat.Reset(s.cfg.HeartbeatTimeout)
	}
}

// LastHeartbeat returns the time of the last liveness signal.
func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastBeat.Load())
}

// ---- identity ----

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) AllianceID() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allianceID
}

func (s *Session) SetAllianceID(id *int64) {
	s.mu.Lock()
	s.allianceID = id
	s.mu.Unlock()
}

// ---- channel subscriptions ----

// TrackChannel records a subscription; false if already present.
func (s *Session) TrackChannel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; ok {
		return false
	}
	s.channels[id] = struct{}{}
	return true
}

// UntrackChannel drops a subscription and its typing flag; false if absent.
func (s *Session) UntrackChannel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return false
	}
	delete(s.channels, id)
	delete(s.typing, id)
	return true
}

func (s *Session) InChannel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[id]
	return ok
}

// Channels returns a snapshot of subscribed channel ids.
func (s *Session) Channels() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.channels))
	for id := range s.channels {
		out = append(out, id)
	}
	return out
}

// ---- typing ----

// SetTyping updates the typing flag for a channel and reports whether it
// changed. Starting again while already typing refreshes the timestamp.
func (s *Session) SetTyping(channelID int64, on bool, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, was := s.typing[channelID]
	if on {
		s.typing[channelID] = now
		return !was
	}
	delete(s.typing, channelID)
	return was
}

// IsTyping reports the typing flag for a channel.
func (s *Session) IsTyping(channelID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.typing[channelID]
	return ok
}

// ExpireTyping clears flags older than ttl and returns their channel ids.
func (s *Session) ExpireTyping(now time.Time, ttl time.Duration) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id, since := range s.typing {
		if now.Sub(since) >= ttl {
			delete(s.typing, id)
			out = append(out, id)
		}
	}
	return out
}

// ClearTyping clears every typing flag and returns the affected channels.
func (s *Session) ClearTyping() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.typing))
	for id := range s.typing {
		out = append(out, id)
	}
	s.typing = make(map[int64]time.Time)
	return out
}
