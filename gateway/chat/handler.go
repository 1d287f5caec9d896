// Package chat runs the gateway's messaging pipeline: channel resolution,
// moderation, persistence and fan-out, plus typing indicators, name updates
// and alliance channel membership.
package chat

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/audit"
	"github.com/Skynet2005/MobileGame-sub001/cache"
	"github.com/Skynet2005/MobileGame-sub001/config"
	"github.com/Skynet2005/MobileGame-sub001/gateway/channel"
	"github.com/Skynet2005/MobileGame-sub001/gateway/moderation"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/plugin/hook"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"go.uber.org/zap"
)

// Server event types.
const (
	EventMessage     = "message"
	EventNameUpdated = "name-updated"
	EventTyping      = "typing"
	EventHistory     = "history"
	EventJoined      = "joined"
	EventLeft        = "left"
	EventSystem      = "system"
	EventPresence    = "presence"
)

// Emitter publishes domain events to the outside world.
type Emitter interface {
	Emit(routingKey, traceID string, payload interface{})
}

// Deps bundles the collaborators of a Handler. Relations, Cache, PubSub,
// Hooks, Events and Auditor are optional.
type Deps struct {
	Messages   store.MessageStore
	Channels   store.ChannelStore
	Characters store.CharacterStore
	Relations  store.RelationStore
	Gate       *moderation.Gate
	Registry   *player.Registry
	Router     *channel.Router
	Cache      cache.Cache
	PubSub     cache.PubSub
	Hooks      *hook.HookCenter
	Events     Emitter
	Auditor    moderation.Auditor
}

// Handler implements the chat operations invoked by the session protocol.
type Handler struct {
	Deps
	cfg    config.GatewayConfig
	logger *zap.Logger

	seqs [seqStripes]sync.Mutex

	worldMu sync.Mutex
	world   *model.Channel

	subMu     sync.Mutex
	subCancel func()
}

// NewHandler creates a Handler and hooks it into the registry's unregister
// path.
func NewHandler(cfg config.GatewayConfig, deps Deps, logger *zap.Logger) *Handler {
	h := &Handler{
		Deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	if h.Registry != nil {
		h.Registry.OnUnregister(h.disconnected)
	}
	return h
}

// ChannelRef names a channel by id, by name, or by the other party of a
// direct conversation.
type ChannelRef struct {
	ID       int64
	Name     string
	TargetID int64
}

func (r ChannelRef) empty() bool { return r.ID == 0 && r.Name == "" && r.TargetID == 0 }

// ParseChannelRef accepts either a numeric id or a channel name.
func ParseChannelRef(s string) ChannelRef {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ChannelRef{ID: id}
	}
	return ChannelRef{Name: s}
}

// World returns the world channel, creating it on first use.
func (h *Handler) World(ctx context.Context) (*model.Channel, error) {
	h.worldMu.Lock()
	defer h.worldMu.Unlock()
	if h.world != nil {
		return h.world, nil
	}
	ch, err := h.Channels.EnsureWorld(ctx, h.cfg.WorldChannel)
	if err != nil {
		return nil, err
	}
	h.world = ch
	return ch, nil
}

// Resolve looks up the channel ref points to. A TargetID resolves to the
// direct channel with that character, creating it when needed.
func (h *Handler) Resolve(ctx context.Context, senderID int64, ref ChannelRef) (*model.Channel, error) {
	switch {
	case ref.TargetID != 0:
		ok, err := store.Exists(ctx, h.Characters, ref.TargetID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.ErrCharacterNotFound
		}
		return h.Channels.EnsurePrivate(ctx, senderID, ref.TargetID)
	case ref.ID != 0:
		return h.Channels.Get(ctx, ref.ID)
	case ref.Name == h.cfg.WorldChannel:
		return h.World(ctx)
	case ref.Name != "":
		return h.Channels.GetByName(ctx, ref.Name)
	}
	return nil, apperr.ErrChannelNotFound
}

// canRead reports whether charID may subscribe to or read ch.
func (h *Handler) canRead(ctx context.Context, charID int64, ch *model.Channel) (bool, error) {
	switch ch.Type {
	case model.ChannelWorld:
		return true, nil
	case model.ChannelAlliance:
		p, err := h.Characters.Profile(ctx, charID)
		if err != nil {
			return false, err
		}
		return p.AllianceID != nil && ch.AllianceID != nil && *p.AllianceID == *ch.AllianceID, nil
	}
	return h.Channels.IsMember(ctx, ch.ID, charID)
}

// seqStripes bounds the sequencer locks. Channels sharing a stripe are
// serialized together.
const seqStripes = 64

// sequence returns the lock that orders persist and broadcast for channelID.
func (h *Handler) sequence(channelID int64) *sync.Mutex {
	return &h.seqs[uint64(channelID)%seqStripes]
}

func (h *Handler) emit(key, traceID string, payload interface{}) {
	if h.Events != nil {
		h.Events.Emit(key, traceID, payload)
	}
}

func (h *Handler) trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	if h.Hooks == nil {
		return data, nil
	}
	return h.Hooks.Trigger(ctx, event, data)
}

func (h *Handler) audit(e audit.Entry) {
	if h.Auditor != nil {
		h.Auditor.Log(e)
	}
}

// Stop cancels the alliance subscription.
func (h *Handler) Stop() {
	h.subMu.Lock()
	cancel := h.subCancel
	h.subCancel = nil
	h.subMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
