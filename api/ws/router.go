package ws

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"github.com/Skynet2005/MobileGame-sub001/metrics"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandlerFunc processes one decoded frame. raw is the whole frame. A non-nil
// result is returned to the client as an ack event.
type HandlerFunc func(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error)

// Frame is the envelope every client frame shares. Type-specific fields sit
// next to these and are decoded by the handler.
type Frame struct {
	Type        string `json:"type"`
	Seq         uint64 `json:"seq,omitempty"`
	CharacterID int64  `json:"characterId,omitempty"`
}

// AckData is the payload of an ack event.
type AckData struct {
	Frame  string      `json:"frame"`
	Seq    uint64      `json:"seq,omitempty"`
	Result interface{} `json:"result"`
}

const EventAck = "ack"

// Router dispatches incoming frames to registered handlers.
type Router struct {
	handlers map[string]HandlerFunc
	limiter  *mw.KeyedLimiter
	logger   *zap.Logger
}

// NewRouter creates a new Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// On registers a HandlerFunc for the given frame type.
func (r *Router) On(frameType string, fn HandlerFunc) {
	r.handlers[frameType] = fn
}

// Limit caps the inbound frame rate per character.
func (r *Router) Limit(l *mw.KeyedLimiter) { r.limiter = l }

// Forget drops per-character dispatch state.
func (r *Router) Forget(charID int64) {
	if r.limiter != nil {
		r.limiter.Forget(charID)
	}
}

// Dispatch decodes raw bytes, validates seq and ownership, and invokes the
// handler for the frame type. Recoverable and internal errors are reported to
// the session as error events; the connection stays open.
func (r *Router) Dispatch(s *player.Session, raw []byte) {
	if s.State() != player.StateOpen {
		return
	}

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
		metrics.IncFrame("invalid", "rejected")
		r.logger.Warn("malformed frame", zap.Int64("char_id", s.CharID), zap.Error(err))
		s.SendError("", apperr.ErrInvalidFrame)
		return
	}

	// Monotonic seq check (anti-replay). Seq == 0 means no seq tracking.
	if f.Seq != 0 && f.Seq <= s.LastSeq {
		metrics.IncFrame(f.Type, "replayed")
		r.logger.Warn("replayed or out-of-order frame",
			zap.Int64("char_id", s.CharID),
			zap.Uint64("seq", f.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		s.SendError(f.Type, apperr.ErrReplayed)
		return
	}
	if f.Seq != 0 {
		s.LastSeq = f.Seq
	}

	fn, ok := r.handlers[f.Type]
	if !ok {
		metrics.IncFrame("unknown", "rejected")
		r.logger.Debug("unhandled frame type",
			zap.String("type", f.Type),
			zap.Int64("char_id", s.CharID))
		s.SendError(f.Type, apperr.ErrInvalidFrame)
		return
	}
	if f.CharacterID != 0 && f.CharacterID != s.CharID {
		metrics.IncFrame(f.Type, "unauthorized")
		s.SendError(f.Type, apperr.ErrUnauthorized)
		return
	}
	if r.limiter != nil && !r.limiter.Allow(s.CharID) {
		metrics.IncFrame(f.Type, "rate_limited")
		s.SendError(f.Type, apperr.ErrRateLimited)
		return
	}

	traceID := uuid.NewString()
	ctx := mw.WithTraceID(context.Background(), traceID)
	r.invoke(ctx, s, f, fn, raw, traceID)
}

func (r *Router) invoke(ctx context.Context, s *player.Session, f Frame, fn HandlerFunc, raw []byte, traceID string) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncFrame(f.Type, "panic")
			r.logger.Error("panic in frame handler",
				zap.String("type", f.Type),
				zap.Int64("char_id", s.CharID),
				zap.Any("recover", rec),
				zap.String("stack", string(debug.Stack())))
			s.SendError(f.Type, apperr.Internal(nil))
		}
	}()

	result, err := fn(ctx, s, raw)
	if err != nil {
		metrics.IncFrame(f.Type, "error")
		if apperr.Recoverable(err) {
			r.logger.Debug("frame rejected",
				zap.String("type", f.Type),
				zap.Int64("char_id", s.CharID),
				zap.String("trace_id", traceID),
				zap.Error(err))
		} else {
			r.logger.Error("handler error",
				zap.String("type", f.Type),
				zap.Int64("char_id", s.CharID),
				zap.String("trace_id", traceID),
				zap.Error(err))
		}
		if apperr.KindOf(err) != apperr.KindTimeout {
			s.SendError(f.Type, err)
		}
		return
	}
	metrics.IncFrame(f.Type, "ok")
	if result != nil {
		_ = s.SendEvent(EventAck, AckData{Frame: f.Type, Seq: f.Seq, Result: result})
	}
}
