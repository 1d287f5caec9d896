package chat

import (
	"context"
	"encoding/json"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"go.uber.org/zap"
)

// AllianceTopic is the pub/sub channel on which the alliance service
// announces membership changes.
const AllianceTopic = "alliance:membership"

const (
	AllianceJoined = "joined"
	AllianceLeft   = "left"
)

// AllianceEvent is a membership change published on AllianceTopic.
type AllianceEvent struct {
	CharacterID int64  `json:"characterId"`
	AllianceID  int64  `json:"allianceId"`
	Action      string `json:"action"`
}

// SubscribeAlliances starts consuming AllianceTopic until ctx is done or
// Stop is called.
func (h *Handler) SubscribeAlliances(ctx context.Context) error {
	if h.PubSub == nil {
		return nil
	}
	msgs, cancel, err := h.PubSub.Subscribe(ctx, AllianceTopic)
	if err != nil {
		return err
	}
	h.subMu.Lock()
	h.subCancel = cancel
	h.subMu.Unlock()

	go func() {
		for m := range msgs {
			var ev AllianceEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				h.logger.Warn("bad alliance event", zap.String("payload", m.Payload), zap.Error(err))
				continue
			}
			if err := h.HandleAllianceEvent(ctx, ev); err != nil {
				h.logger.Warn("alliance event failed",
					zap.Int64("char_id", ev.CharacterID),
					zap.Int64("alliance_id", ev.AllianceID),
					zap.String("action", ev.Action),
					zap.Error(err))
			}
		}
	}()
	return nil
}

// HandleAllianceEvent updates durable channel membership and, if the
// character is online, its live subscription.
func (h *Handler) HandleAllianceEvent(ctx context.Context, ev AllianceEvent) error {
	if ev.CharacterID == 0 || ev.AllianceID == 0 {
		return apperr.ErrInvalidFrame
	}
	if ev.Action != AllianceJoined && ev.Action != AllianceLeft {
		return apperr.ErrInvalidFrame
	}
	h.Characters.Invalidate(ctx, ev.CharacterID)

	ch, err := h.Channels.EnsureAlliance(ctx, ev.AllianceID)
	if err != nil {
		return err
	}
	s := h.Registry.Get(ev.CharacterID)

	switch ev.Action {
	case AllianceJoined:
		if err := h.Channels.AddMember(ctx, ch.ID, ev.CharacterID); err != nil {
			return err
		}
		if s == nil {
			return nil
		}
		aid := ev.AllianceID
		s.SetAllianceID(&aid)
		return h.join(ctx, s, ch)

	case AllianceLeft:
		if err := h.Channels.RemoveMember(ctx, ch.ID, ev.CharacterID); err != nil {
			return err
		}
		if s == nil {
			return nil
		}
		if cur := s.AllianceID(); cur != nil && *cur == ev.AllianceID {
			s.SetAllianceID(nil)
		}
		h.leave(s, ch.ID)
		return nil
	}
	return apperr.ErrInvalidFrame
}
