package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/gateway/chat"
	"github.com/Skynet2005/MobileGame-sub001/gateway/moderation"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"go.uber.org/zap"
)

// ChannelID accepts either a numeric channel id or a channel name.
type ChannelID struct {
	chat.ChannelRef
}

func (c *ChannelID) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		c.ChannelRef = chat.ChannelRef{ID: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	c.ChannelRef = chat.ParseChannelRef(s)
	return nil
}

type channelFrame struct {
	ChannelID ChannelID `json:"channelId"`
	TargetID  int64     `json:"targetId"`
}

func (f channelFrame) ref() chat.ChannelRef {
	r := f.ChannelID.ChannelRef
	if f.TargetID != 0 {
		r = chat.ChannelRef{TargetID: f.TargetID}
	}
	return r
}

type messageFrame struct {
	channelFrame
	Content string `json:"content"`
}

type historyFrame struct {
	channelFrame
	Limit  int   `json:"limit"`
	Before int64 `json:"before"`
}

type targetFrame struct {
	TargetID int64 `json:"targetId"`
}

type respondFrame struct {
	RequestID int64 `json:"requestId"`
	Accept    bool  `json:"accept"`
}

type unblockFrame struct {
	EntryID int64 `json:"entryId"`
}

type nameFrame struct {
	Name string `json:"name"`
}

// PongData answers a ping frame.
type PongData struct {
	ServerTime time.Time `json:"serverTime"`
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.ErrInvalidFrame.Kind, apperr.ErrInvalidFrame.Reason, err)
	}
	return nil
}

// FrameHandlers binds client frame types to the chat service and the
// moderation gate.
type FrameHandlers struct {
	chat   *chat.Handler
	gate   *moderation.Gate
	logger *zap.Logger
}

// NewFrameHandlers creates FrameHandlers.
func NewFrameHandlers(chatH *chat.Handler, gate *moderation.Gate, logger *zap.Logger) *FrameHandlers {
	return &FrameHandlers{chat: chatH, gate: gate, logger: logger}
}

// RegisterHandlers registers every frame type on r.
func (fh *FrameHandlers) RegisterHandlers(r *Router) {
	r.On("ping", fh.handlePing)
	r.On("join_channel", fh.handleJoin)
	r.On("leave_channel", fh.handleLeave)
	r.On("message", fh.handleMessage)
	r.On("typing_start", fh.handleTyping(true))
	r.On("typing_stop", fh.handleTyping(false))
	r.On("history", fh.handleHistory)
	r.On("name_update", fh.handleNameUpdate)
	r.On("friend_request", fh.handleFriendRequest)
	r.On("friend_respond", fh.handleFriendRespond)
	r.On("unfriend", fh.handleUnfriend)
	r.On("block", fh.handleBlock)
	r.On("unblock", fh.handleUnblock)
}

func (fh *FrameHandlers) handlePing(_ context.Context, s *player.Session, _ json.RawMessage) (interface{}, error) {
	return nil, s.SendEvent("pong", PongData{ServerTime: time.Now().UTC()})
}

func (fh *FrameHandlers) handleJoin(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f channelFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	_, err := fh.chat.JoinChannel(ctx, s, f.ref())
	return nil, err
}

func (fh *FrameHandlers) handleLeave(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f channelFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	return nil, fh.chat.LeaveChannel(ctx, s, f.ref())
}

func (fh *FrameHandlers) handleMessage(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f messageFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	_, err := fh.chat.SendMessage(ctx, s, f.ref(), f.Content)
	return nil, err
}

func (fh *FrameHandlers) handleTyping(on bool) HandlerFunc {
	return func(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
		var f channelFrame
		if err := decode(raw, &f); err != nil {
			return nil, err
		}
		return nil, fh.chat.Typing(ctx, s, f.ref(), on)
	}
}

func (fh *FrameHandlers) handleHistory(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f historyFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	return nil, fh.chat.History(ctx, s, f.ref(), f.Limit, f.Before)
}

func (fh *FrameHandlers) handleNameUpdate(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f nameFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	return nil, fh.chat.UpdateName(ctx, s, f.Name)
}

func (fh *FrameHandlers) handleFriendRequest(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f targetFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	req, err := fh.gate.RequestFriend(ctx, s.CharID, f.TargetID)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (fh *FrameHandlers) handleFriendRespond(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f respondFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	req, err := fh.gate.RespondFriend(ctx, f.RequestID, s.CharID, f.Accept)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (fh *FrameHandlers) handleUnfriend(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f targetFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	if err := fh.gate.Unfriend(ctx, s.CharID, f.TargetID); err != nil {
		return nil, err
	}
	return f, nil
}

func (fh *FrameHandlers) handleBlock(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f targetFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	entry, err := fh.gate.Block(ctx, s.CharID, f.TargetID)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (fh *FrameHandlers) handleUnblock(ctx context.Context, s *player.Session, raw json.RawMessage) (interface{}, error) {
	var f unblockFrame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	entry, err := fh.gate.Unblock(ctx, f.EntryID, s.CharID)
	if err != nil {
		return nil, err
	}
	return entry, nil
}
