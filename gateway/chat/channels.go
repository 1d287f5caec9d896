package chat

import (
	"context"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/events"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/plugin/hook"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"go.uber.org/zap"
)

// ChannelInfo describes a channel in joined/left events.
type ChannelInfo struct {
	ID   int64             `json:"channelId"`
	Name string            `json:"name"`
	Type model.ChannelType `json:"type"`
}

func infoOf(ch *model.Channel) ChannelInfo {
	return ChannelInfo{ID: ch.ID, Name: ch.Name, Type: ch.Type}
}

// HistoryData is the payload of a history event.
type HistoryData struct {
	ChannelID int64           `json:"channelId"`
	Messages  []model.Message `json:"messages"`
	HasMore   bool            `json:"hasMore"`
}

// LeftData is the payload of a left event.
type LeftData struct {
	ChannelID int64 `json:"channelId"`
}

// ConnectedEvent is published when a session opens or closes.
type ConnectedEvent struct {
	CharacterID int64  `json:"characterId"`
	Name        string `json:"name"`
}

// Connect subscribes a freshly opened session to the world channel and to its
// alliance channel, sending history for each.
func (h *Handler) Connect(ctx context.Context, s *player.Session) error {
	world, err := h.World(ctx)
	if err != nil {
		return err
	}
	if err := h.join(ctx, s, world); err != nil {
		return err
	}
	if aid := s.AllianceID(); aid != nil {
		ch, err := h.Channels.EnsureAlliance(ctx, *aid)
		if err != nil {
			return err
		}
		if err := h.Channels.AddMember(ctx, ch.ID, s.CharID); err != nil {
			return err
		}
		if err := h.join(ctx, s, ch); err != nil {
			return err
		}
	}
	_, _ = h.trigger(ctx, hook.OnConnect, s.CharID)
	h.notifyFriends(ctx, s, true)
	h.emit(events.KeyConnect, s.TraceID, ConnectedEvent{CharacterID: s.CharID, Name: s.Name()})
	return nil
}

// PresenceData is pushed to online friends when a character connects or
// disconnects.
type PresenceData struct {
	CharacterID int64  `json:"characterId"`
	Name        string `json:"name"`
	Online      bool   `json:"online"`
}

func (h *Handler) notifyFriends(ctx context.Context, s *player.Session, online bool) {
	if h.Relations == nil {
		return
	}
	friends, err := h.Relations.Friends(ctx, s.CharID)
	if err != nil {
		h.logger.Warn("load friends failed", zap.Int64("char_id", s.CharID), zap.Error(err))
		return
	}
	data := PresenceData{CharacterID: s.CharID, Name: s.Name(), Online: online}
	for _, id := range friends {
		h.Registry.SendTo(id, EventPresence, data)
	}
}

// disconnected runs while s leaves the registry, before its subscriptions are
// dropped.
func (h *Handler) disconnected(s *player.Session) {
	for _, id := range s.ClearTyping() {
		h.broadcastTyping(id, s, false)
	}
	ctx := mw.WithTraceID(context.Background(), s.TraceID)
	_, _ = h.trigger(ctx, hook.OnDisconnect, s.CharID)
	if h.Registry.Get(s.CharID) == nil {
		h.notifyFriends(ctx, s, false)
	}
	h.emit(events.KeyDisconnect, s.TraceID, ConnectedEvent{CharacterID: s.CharID, Name: s.Name()})
}

// JoinChannel subscribes s to the referenced channel and replies with joined
// and history events. Joining twice leaves a single subscription.
func (h *Handler) JoinChannel(ctx context.Context, s *player.Session, ref ChannelRef) (*model.Channel, error) {
	if ref.empty() {
		return nil, apperr.ErrChannelNotFound
	}
	ch, err := h.Resolve(ctx, s.CharID, ref)
	if err != nil {
		return nil, err
	}
	ok, err := h.canRead(ctx, s.CharID, ch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrNotMember
	}
	if ch.Type == model.ChannelAlliance {
		if err := h.Channels.AddMember(ctx, ch.ID, s.CharID); err != nil {
			return nil, err
		}
	}
	if err := h.join(ctx, s, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (h *Handler) join(ctx context.Context, s *player.Session, ch *model.Channel) error {
	if _, err := h.Router.Join(ctx, ch.ID, s); err != nil {
		return err
	}
	_ = s.SendEvent(EventJoined, infoOf(ch))
	return h.sendHistory(ctx, s, ch.ID, h.cfg.HistoryLimit, 0)
}

// LeaveChannel unsubscribes s. Leaving a channel it is not in is a no-op.
// Durable membership is kept.
func (h *Handler) LeaveChannel(ctx context.Context, s *player.Session, ref ChannelRef) error {
	ch, err := h.existing(ctx, s.CharID, ref)
	if err != nil {
		return err
	}
	h.leave(s, ch.ID)
	return nil
}

func (h *Handler) leave(s *player.Session, channelID int64) {
	if s.IsTyping(channelID) {
		s.SetTyping(channelID, false, h.now())
		h.broadcastTyping(channelID, s, false)
	}
	if h.Router.Leave(channelID, s) {
		_ = s.SendEvent(EventLeft, LeftData{ChannelID: channelID})
	}
}

// History sends up to limit messages older than beforeID (0 for the newest).
func (h *Handler) History(ctx context.Context, s *player.Session, ref ChannelRef, limit int, beforeID int64) error {
	ch, err := h.existing(ctx, s.CharID, ref)
	if err != nil {
		return err
	}
	ok, err := h.canRead(ctx, s.CharID, ch)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotMember
	}
	return h.sendHistory(ctx, s, ch.ID, limit, beforeID)
}

// ReadHistory returns a page of channelID's history for charID, oldest first,
// and whether older messages remain.
func (h *Handler) ReadHistory(ctx context.Context, charID, channelID int64, limit int, beforeID int64) ([]model.Message, bool, error) {
	ch, err := h.Channels.Get(ctx, channelID)
	if err != nil {
		return nil, false, err
	}
	ok, err := h.canRead(ctx, charID, ch)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, apperr.ErrNotMember
	}
	return h.page(ctx, channelID, limit, beforeID)
}

// ChannelsFor lists the channels charID can read: the world channel plus every
// channel it is a durable member of.
func (h *Handler) ChannelsFor(ctx context.Context, charID int64) ([]model.Channel, error) {
	world, err := h.World(ctx)
	if err != nil {
		return nil, err
	}
	member, err := h.Channels.ListForCharacter(ctx, charID)
	if err != nil {
		return nil, err
	}
	out := []model.Channel{*world}
	for _, ch := range member {
		if ch.ID != world.ID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (h *Handler) page(ctx context.Context, channelID int64, limit int, beforeID int64) ([]model.Message, bool, error) {
	if limit <= 0 || limit > h.cfg.HistoryLimit {
		limit = h.cfg.HistoryLimit
	}
	if limit <= 0 {
		return []model.Message{}, false, nil
	}
	msgs, err := h.Messages.Recent(ctx, channelID, limit+1, beforeID)
	if err != nil {
		return nil, false, err
	}
	more := len(msgs) > limit
	if more {
		msgs = msgs[1:]
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, more, nil
}

func (h *Handler) sendHistory(ctx context.Context, s *player.Session, channelID int64, limit int, beforeID int64) error {
	if h.cfg.HistoryLimit <= 0 {
		return nil
	}
	msgs, more, err := h.page(ctx, channelID, limit, beforeID)
	if err != nil {
		return err
	}
	return s.SendEvent(EventHistory, HistoryData{ChannelID: channelID, Messages: msgs, HasMore: more})
}

// existing resolves ref without creating a direct channel.
func (h *Handler) existing(ctx context.Context, senderID int64, ref ChannelRef) (*model.Channel, error) {
	if ref.TargetID != 0 {
		return h.Channels.GetByName(ctx, store.PrivateChannelName(senderID, ref.TargetID))
	}
	if ref.empty() {
		return nil, apperr.ErrChannelNotFound
	}
	return h.Resolve(ctx, senderID, ref)
}

// subscribeMembers makes sure every online member of a direct channel is
// subscribed before a broadcast. Newly added sessions get the history that
// precedes beforeID.
func (h *Handler) subscribeMembers(ctx context.Context, ch *model.Channel, beforeID int64) {
	members, err := h.Channels.Members(ctx, ch.ID)
	if err != nil {
		h.logger.Warn("load channel members failed", zap.Int64("channel_id", ch.ID), zap.Error(err))
		return
	}
	for _, id := range members {
		sess := h.Registry.Get(id)
		if sess == nil || sess.InChannel(ch.ID) {
			continue
		}
		added, err := h.Router.Join(ctx, ch.ID, sess)
		if err != nil {
			continue
		}
		if !added {
			continue
		}
		_ = sess.SendEvent(EventJoined, infoOf(ch))
		if err := h.sendHistory(ctx, sess, ch.ID, h.cfg.HistoryLimit, beforeID); err != nil {
			h.logger.Warn("send history failed",
				zap.Int64("channel_id", ch.ID),
				zap.Int64("char_id", sess.CharID),
				zap.Error(err))
		}
	}
}
