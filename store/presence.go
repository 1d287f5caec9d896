package store

import (
	"context"
	"strconv"

	"github.com/Skynet2005/MobileGame-sub001/cache"
	"go.uber.org/zap"
)

// PresenceKey is the cache set holding the ids of online characters.
const PresenceKey = "presence:online"

// Presence keeps the durable online flag and the shared presence set in step.
// The registry's presence worker is the only writer.
type Presence struct {
	chars  CharacterStore
	cache  cache.Cache
	logger *zap.Logger
}

// NewPresence creates a Presence writer.
func NewPresence(chars CharacterStore, c cache.Cache, logger *zap.Logger) *Presence {
	return &Presence{chars: chars, cache: c, logger: logger}
}

// SetOnline records the transition in the store first, then in the set.
// A set failure is logged; the store is authoritative.
func (p *Presence) SetOnline(ctx context.Context, id int64, online bool) error {
	if err := p.chars.SetOnline(ctx, id, online); err != nil {
		return err
	}
	member := strconv.FormatInt(id, 10)
	var err error
	if online {
		err = p.cache.SAdd(ctx, PresenceKey, member)
	} else {
		err = p.cache.SRem(ctx, PresenceKey, member)
	}
	if err != nil {
		p.logger.Warn("presence set update failed", zap.Int64("char_id", id), zap.Bool("online", online), zap.Error(err))
	}
	return nil
}

// Online returns the ids in the presence set.
func (p *Presence) Online(ctx context.Context) (map[int64]bool, error) {
	members, err := p.cache.SMembers(ctx, PresenceKey)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out[id] = true
	}
	return out, nil
}

// Reconcile makes the presence set match live, the ids this node holds
// connections for. It returns how many members were added and removed.
func (p *Presence) Reconcile(ctx context.Context, live []int64) (added, removed int, err error) {
	current, err := p.Online(ctx)
	if err != nil {
		return 0, 0, err
	}
	want := make(map[int64]bool, len(live))
	for _, id := range live {
		want[id] = true
		if !current[id] {
			if err := p.cache.SAdd(ctx, PresenceKey, strconv.FormatInt(id, 10)); err != nil {
				return added, removed, err
			}
			added++
		}
	}
	for id := range current {
		if !want[id] {
			if err := p.cache.SRem(ctx, PresenceKey, strconv.FormatInt(id, 10)); err != nil {
				return added, removed, err
			}
			removed++
		}
	}
	return added, removed, nil
}
