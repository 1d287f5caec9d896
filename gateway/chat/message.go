package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/audit"
	"github.com/Skynet2005/MobileGame-sub001/events"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"github.com/Skynet2005/MobileGame-sub001/metrics"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/plugin/hook"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"go.uber.org/zap"
)

// TypingData is the payload of a typing event.
type TypingData struct {
	ChannelID   int64  `json:"channelId"`
	CharacterID int64  `json:"characterId"`
	Name        string `json:"name"`
	Typing      bool   `json:"typing"`
}

// NameUpdatedData is the payload of a name-updated event.
type NameUpdatedData struct {
	CharacterID int64  `json:"characterId"`
	NewName     string `json:"newName"`
}

// SystemData is the payload of a system announcement.
type SystemData struct {
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

func (h *Handler) now() time.Time { return time.Now() }

func cooldownKey(id int64) string { return "chat:cooldown:" + strconv.FormatInt(id, 10) }

// SendMessage runs a message through the gate, persists it and broadcasts the
// stored record to the channel. Blank content is ignored and returns nil, nil.
func (h *Handler) SendMessage(ctx context.Context, s *player.Session, ref ChannelRef, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	if h.cfg.MaxMessageLen > 0 && utf8.RuneCountInString(content) > h.cfg.MaxMessageLen {
		return nil, apperr.ErrMessageTooLong
	}
	if ref.empty() {
		return nil, apperr.ErrChannelNotFound
	}

	ch, err := h.Resolve(ctx, s.CharID, ref)
	if err != nil {
		return nil, err
	}
	dec, err := h.Gate.CanMessage(ctx, s.CharID, ch)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, dec.Reason
	}
	if err := h.cooldown(ctx, s.CharID); err != nil {
		return nil, err
	}

	draft := &hook.MessageDraft{ChannelID: ch.ID, SenderID: s.CharID, Content: content}
	if _, err := h.trigger(ctx, hook.BeforeMessagePersist, draft); errors.Is(err, hook.ErrInterrupt) {
		denied := apperr.ErrFiltered
		if reason := hook.ReasonOf(err); reason != "" {
			denied = apperr.New(apperr.KindBlocked, reason)
		}
		metrics.IncModerationDenial(denied.Reason)
		return nil, denied
	}

	profile, err := h.Characters.Profile(ctx, s.CharID)
	if err != nil {
		if errors.Is(err, apperr.ErrCharacterNotFound) {
			return nil, apperr.ErrSenderNotFound
		}
		return nil, err
	}
	msg, err := h.persistAndBroadcast(ctx, ch, s.CharID, draft.Content, profile.Snapshot())
	if err != nil {
		return nil, err
	}

	if s.IsTyping(ch.ID) {
		s.SetTyping(ch.ID, false, h.now())
		h.broadcastTyping(ch.ID, s, false)
	}
	_, _ = h.trigger(ctx, hook.AfterMessagePersist, msg)
	metrics.IncMessagePersisted(string(ch.Type))
	h.emit(events.KeyChatMessage, mw.TraceIDFromCtx(ctx), msg)
	return msg, nil
}

// persistAndBroadcast holds the channel's sequence lock across append and
// fan-out so broadcast order matches history order. Online members of a
// direct channel are subscribed only once the message is stored.
func (h *Handler) persistAndBroadcast(ctx context.Context, ch *model.Channel, senderID int64, content string, snap store.Snapshot) (*model.Message, error) {
	channelID := ch.ID
	mu := h.sequence(channelID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := h.Messages.Append(ctx, channelID, senderID, content, snap)
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Internal(err)
		}
		h.logger.Error("persist message failed",
			zap.Int64("channel_id", channelID),
			zap.Int64("sender_id", senderID),
			zap.Error(err))
		return nil, err
	}
	if ch.Type == model.ChannelPrivate {
		h.subscribeMembers(ctx, ch, msg.ID)
	}
	data, err := player.EncodeEvent(EventMessage, msg)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	n := h.Router.Broadcast(channelID, data)
	h.logger.Debug("message broadcast",
		zap.Int64("channel_id", channelID),
		zap.Int64("message_id", msg.ID),
		zap.Int("recipients", n))
	return msg, nil
}

func (h *Handler) cooldown(ctx context.Context, charID int64) error {
	if h.cfg.MessageCooldown <= 0 || h.Cache == nil {
		return nil
	}
	ok, err := h.Cache.SetNX(ctx, cooldownKey(charID), "1", h.cfg.MessageCooldown)
	if err != nil {
		h.logger.Warn("cooldown check failed", zap.Int64("char_id", charID), zap.Error(err))
		return nil
	}
	if !ok {
		return apperr.ErrRateLimited
	}
	return nil
}

// Typing toggles the sender's typing flag in a subscribed channel and tells
// the other subscribers when it changes.
func (h *Handler) Typing(ctx context.Context, s *player.Session, ref ChannelRef, on bool) error {
	ch, err := h.existing(ctx, s.CharID, ref)
	if err != nil {
		return err
	}
	if !s.InChannel(ch.ID) {
		return apperr.ErrNotMember
	}
	if ch.Type == model.ChannelPrivate {
		dec, err := h.Gate.CanMessage(ctx, s.CharID, ch)
		if err != nil {
			return err
		}
		if !dec.Allowed {
			return dec.Reason
		}
	}
	if s.SetTyping(ch.ID, on, h.now()) {
		h.broadcastTyping(ch.ID, s, on)
	}
	return nil
}

// ExpireTyping clears typing flags older than the configured TTL and returns
// how many were cleared.
func (h *Handler) ExpireTyping(now time.Time) int {
	ttl := h.cfg.TypingTTL
	if ttl <= 0 {
		return 0
	}
	n := 0
	for _, s := range h.Registry.All() {
		for _, id := range s.ExpireTyping(now, ttl) {
			h.broadcastTyping(id, s, false)
			n++
		}
	}
	return n
}

func (h *Handler) broadcastTyping(channelID int64, s *player.Session, on bool) {
	data, err := player.EncodeEvent(EventTyping, TypingData{
		ChannelID:   channelID,
		CharacterID: s.CharID,
		Name:        s.Name(),
		Typing:      on,
	})
	if err != nil {
		return
	}
	h.Router.BroadcastExcept(channelID, data, s.CharID)
}

// UpdateName renames the character and announces the new name to every live
// connection. Stored messages keep the name they were sent with.
func (h *Handler) UpdateName(ctx context.Context, s *player.Session, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || (h.cfg.MaxNameLen > 0 && utf8.RuneCountInString(name) > h.cfg.MaxNameLen) {
		return apperr.ErrInvalidName
	}
	err := h.Characters.Rename(ctx, s.CharID, name)
	h.recordRename(ctx, s, name, err)
	if err != nil {
		return err
	}
	s.SetName(name)
	data, err := player.EncodeEvent(EventNameUpdated, NameUpdatedData{CharacterID: s.CharID, NewName: name})
	if err != nil {
		return apperr.Internal(err)
	}
	h.Registry.BroadcastAll(data)
	return nil
}

func (h *Handler) recordRename(ctx context.Context, s *player.Session, name string, err error) {
	id := s.CharID
	e := audit.Entry{
		TraceID: mw.TraceIDFromCtx(ctx),
		CharID:  &id,
		Action:  audit.ActionRename,
		Detail:  map[string]string{"from": s.Name(), "to": name},
	}
	if err != nil {
		e.Error = err.Error()
	}
	h.audit(e)
}

// Announce sends a system event to every live connection and returns how many
// sessions accepted it.
func (h *Handler) Announce(content string) (int, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, apperr.ErrInvalidFrame
	}
	data, err := player.EncodeEvent(EventSystem, SystemData{Content: content, SentAt: h.now().UTC()})
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return h.Registry.BroadcastAll(data), nil
}
