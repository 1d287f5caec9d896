// Package store holds the durable collaborators the gateway consumes: the
// message log, the channel directory, the relationship store and the identity
// oracle. Every operation is synchronous and returns *apperr.Error kinds for
// not-found and conflict outcomes.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/model"
)

// Snapshot is the sender identity captured at send time.
type Snapshot struct {
	SenderName  string
	AllianceID  *int64
	AllianceTag string
}

// Profile is the identity oracle's view of a character.
type Profile struct {
	ID          int64
	Name        string
	AllianceID  *int64
	AllianceTag string
}

// Snapshot converts a profile into a message snapshot.
func (p *Profile) Snapshot() Snapshot {
	return Snapshot{SenderName: p.Name, AllianceID: p.AllianceID, AllianceTag: p.AllianceTag}
}

// MessageStore is the append-only message log.
type MessageStore interface {
	Append(ctx context.Context, channelID, senderID int64, content string, snap Snapshot) (*model.Message, error)
	// Recent returns at most limit messages older than beforeID (0 = newest),
	// ordered oldest first.
	Recent(ctx context.Context, channelID int64, limit int, beforeID int64) ([]model.Message, error)
}

// ChannelStore is the channel directory.
type ChannelStore interface {
	Get(ctx context.Context, id int64) (*model.Channel, error)
	GetByName(ctx context.Context, name string) (*model.Channel, error)
	EnsureWorld(ctx context.Context, name string) (*model.Channel, error)
	EnsureAlliance(ctx context.Context, allianceID int64) (*model.Channel, error)
	EnsurePrivate(ctx context.Context, a, b int64) (*model.Channel, error)
	AddMember(ctx context.Context, channelID, charID int64) error
	RemoveMember(ctx context.Context, channelID, charID int64) error
	IsMember(ctx context.Context, channelID, charID int64) (bool, error)
	Members(ctx context.Context, channelID int64) ([]int64, error)
	ListForCharacter(ctx context.Context, charID int64) ([]model.Channel, error)
}

// RelationStore holds friendships, friend requests and the blacklist.
type RelationStore interface {
	CreateRequest(ctx context.Context, senderID, receiverID int64) (*model.FriendRequest, error)
	GetRequest(ctx context.Context, id int64) (*model.FriendRequest, error)
	ResolveRequest(ctx context.Context, id, responderID int64, accept bool) (*model.FriendRequest, error)
	PendingFor(ctx context.Context, charID int64) ([]model.FriendRequest, error)
	Friends(ctx context.Context, charID int64) ([]int64, error)
	AreFriends(ctx context.Context, a, b int64) (bool, error)
	Unfriend(ctx context.Context, a, b int64) error
	Block(ctx context.Context, blockerID, blockedID int64) (*model.BlacklistEntry, error)
	Unblock(ctx context.Context, entryID, requesterID int64) (*model.BlacklistEntry, error)
	Blacklist(ctx context.Context, blockerID int64) ([]model.BlacklistEntry, error)
	IsBlockedEither(ctx context.Context, a, b int64) (bool, error)
}

// CharacterStore is the identity oracle.
type CharacterStore interface {
	Profile(ctx context.Context, id int64) (*Profile, error)
	Rename(ctx context.Context, id int64, name string) error
	SetOnline(ctx context.Context, id int64, online bool) error
	// Invalidate drops any cached profile for id.
	Invalidate(ctx context.Context, id int64)
}

// Exists reports whether the character is known to the oracle.
func Exists(ctx context.Context, cs CharacterStore, id int64) (bool, error) {
	_, err := cs.Profile(ctx, id)
	if errors.Is(err, apperr.ErrCharacterNotFound) {
		return false, nil
	}
	return err == nil, err
}

// pairKey orders a pair so (a,b) and (b,a) map to the same key.
func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// PrivateChannelName is the deterministic name of the direct channel between a and b.
func PrivateChannelName(a, b int64) string {
	return "dm:" + pairKey(a, b)
}

// internal passes typed errors through and wraps everything else as Internal.
func internal(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err)
}
