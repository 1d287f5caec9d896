// Package moderation enforces blacklist and friend-eligibility rules before a
// message or social action completes.
package moderation

import (
	"context"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/audit"
	"github.com/Skynet2005/MobileGame-sub001/metrics"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"go.uber.org/zap"
)

// Decision is the outcome of CanMessage. Reason is set when denied.
type Decision struct {
	Allowed bool
	Reason  error
}

var allow = Decision{Allowed: true}

func deny(reason error) Decision {
	metrics.IncModerationDenial(apperr.ReasonOf(reason))
	return Decision{Reason: reason}
}

// Auditor records social actions.
type Auditor interface {
	Log(entry audit.Entry)
}

// Notifier pushes an event to a character if it is online.
type Notifier interface {
	SendTo(charID int64, typ string, data interface{}) bool
}

// Gate consults the relationship store for messaging and social actions.
type Gate struct {
	relations store.RelationStore
	channels  store.ChannelStore
	chars     store.CharacterStore
	auditor   Auditor
	notify    Notifier
	logger    *zap.Logger
}

// NewGate creates a Gate. auditor and notify may be nil.
func NewGate(rel store.RelationStore, ch store.ChannelStore, chars store.CharacterStore, auditor Auditor, notify Notifier, logger *zap.Logger) *Gate {
	return &Gate{relations: rel, channels: ch, chars: chars, auditor: auditor, notify: notify, logger: logger}
}

// CanMessage decides whether senderID may post to ch. Blocks only affect
// private channels; group channels require membership but ignore blocks. The
// returned error is reserved for store failures.
func (g *Gate) CanMessage(ctx context.Context, senderID int64, ch *model.Channel) (Decision, error) {
	switch ch.Type {
	case model.ChannelWorld:
		return allow, nil

	case model.ChannelAlliance:
		p, err := g.chars.Profile(ctx, senderID)
		if err != nil {
			return Decision{}, err
		}
		if p.AllianceID == nil || ch.AllianceID == nil || *p.AllianceID != *ch.AllianceID {
			return deny(apperr.ErrNotMember), nil
		}
		return allow, nil

	case model.ChannelPrivate:
		members, err := g.channels.Members(ctx, ch.ID)
		if err != nil {
			return Decision{}, err
		}
		isMember := false
		for _, id := range members {
			if id == senderID {
				isMember = true
				break
			}
		}
		if !isMember {
			return deny(apperr.ErrNotMember), nil
		}
		for _, other := range members {
			if other == senderID {
				continue
			}
			blocked, err := g.relations.IsBlockedEither(ctx, senderID, other)
			if err != nil {
				return Decision{}, err
			}
			if blocked {
				return deny(apperr.ErrBlocked), nil
			}
		}
		return allow, nil
	}
	return deny(apperr.ErrNotMember), nil
}

// RequestFriend opens a friend request and notifies the receiver if online.
func (g *Gate) RequestFriend(ctx context.Context, senderID, receiverID int64) (*model.FriendRequest, error) {
	req, err := g.relations.CreateRequest(ctx, senderID, receiverID)
	g.record(ctx, audit.ActionFriendRequest, senderID, receiverID, req, err)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindBlocked {
			metrics.IncModerationDenial(apperr.ReasonOf(err))
		}
		return nil, err
	}
	g.push(receiverID, "friend_request", FriendRequestData{
		RequestID:  req.ID,
		SenderID:   senderID,
		SenderName: g.nameOf(ctx, senderID),
	})
	return req, nil
}

// RespondFriend accepts or rejects a pending request addressed to responderID
// and notifies the sender.
func (g *Gate) RespondFriend(ctx context.Context, requestID, responderID int64, accept bool) (*model.FriendRequest, error) {
	req, err := g.relations.ResolveRequest(ctx, requestID, responderID, accept)
	action := audit.ActionFriendReject
	if accept {
		action = audit.ActionFriendAccept
	}
	var target int64
	if req != nil {
		target = req.SenderID
	}
	g.record(ctx, action, responderID, target, map[string]int64{"request_id": requestID}, err)
	if err != nil {
		return nil, err
	}
	g.push(req.SenderID, "friend_response", FriendResponseData{
		RequestID:   req.ID,
		ResponderID: responderID,
		Status:      req.Status,
	})
	return req, nil
}

// Unfriend removes the friendship in both directions.
func (g *Gate) Unfriend(ctx context.Context, charID, friendID int64) error {
	err := g.relations.Unfriend(ctx, charID, friendID)
	g.record(ctx, audit.ActionUnfriend, charID, friendID, nil, err)
	return err
}

// Block blacklists blockedID. Friendship removal and pending-request
// rejection are visible when Block returns.
func (g *Gate) Block(ctx context.Context, blockerID, blockedID int64) (*model.BlacklistEntry, error) {
	entry, err := g.relations.Block(ctx, blockerID, blockedID)
	g.record(ctx, audit.ActionBlock, blockerID, blockedID, entry, err)
	return entry, err
}

// Unblock removes a blacklist entry owned by requesterID.
func (g *Gate) Unblock(ctx context.Context, entryID, requesterID int64) (*model.BlacklistEntry, error) {
	entry, err := g.relations.Unblock(ctx, entryID, requesterID)
	var target int64
	if entry != nil {
		target = entry.BlockedID
	}
	g.record(ctx, audit.ActionUnblock, requesterID, target, map[string]int64{"entry_id": entryID}, err)
	return entry, err
}

// AreFriends reports whether a and b are friends.
func (g *Gate) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	return g.relations.AreFriends(ctx, a, b)
}

// FriendRequestData is pushed to the receiver of a new request.
type FriendRequestData struct {
	RequestID  int64  `json:"requestId"`
	SenderID   int64  `json:"senderId"`
	SenderName string `json:"senderName"`
}

// FriendResponseData is pushed to the sender when a request is resolved.
type FriendResponseData struct {
	RequestID   int64  `json:"requestId"`
	ResponderID int64  `json:"responderId"`
	Status      string `json:"status"`
}

func (g *Gate) push(charID int64, typ string, data interface{}) {
	if g.notify == nil {
		return
	}
	g.notify.SendTo(charID, typ, data)
}

func (g *Gate) nameOf(ctx context.Context, id int64) string {
	p, err := g.chars.Profile(ctx, id)
	if err != nil {
		return ""
	}
	return p.Name
}

func (g *Gate) record(ctx context.Context, action string, actor, target int64, detail interface{}, err error) {
	if err != nil {
		g.logger.Debug("social action rejected",
			zap.String("action", action),
			zap.Int64("char_id", actor),
			zap.Int64("target_id", target),
			zap.Error(err))
	}
	if g.auditor == nil {
		return
	}
	e := audit.Entry{
		TraceID: mw.TraceIDFromCtx(ctx),
		CharID:  &actor,
		Action:  action,
		Detail:  detail,
	}
	if target != 0 {
		e.TargetID = &target
	}
	if err != nil {
		e.Error = err.Error()
	}
	g.auditor.Log(e)
}
