package rest

import (
	"context"
	"net/http"

	"github.com/Skynet2005/MobileGame-sub001/gateway/moderation"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OnlineChecker reports which characters are connected.
type OnlineChecker interface {
	IsOnline(charID int64) bool
}

// PresenceReader reads the shared online set.
type PresenceReader interface {
	Online(ctx context.Context) (map[int64]bool, error)
}

// SocialHandler handles friends and blacklist REST endpoints.
type SocialHandler struct {
	gate      *moderation.Gate
	relations store.RelationStore
	chars     store.CharacterStore
	online    OnlineChecker
	presence  PresenceReader
	logger    *zap.Logger
}

// NewSocialHandler creates a new SocialHandler. presence may be nil, in which
// case online flags come from this node's registry only.
func NewSocialHandler(gate *moderation.Gate, rel store.RelationStore, chars store.CharacterStore, online OnlineChecker, presence PresenceReader, logger *zap.Logger) *SocialHandler {
	return &SocialHandler{gate: gate, relations: rel, chars: chars, online: online, presence: presence, logger: logger}
}

// FriendInfo is one entry of the friend list.
type FriendInfo struct {
	CharacterID int64  `json:"characterId"`
	Name        string `json:"name"`
	Online      bool   `json:"online"`
}

func (h *SocialHandler) ctx(c *gin.Context) context.Context {
	return mw.WithTraceID(c.Request.Context(), mw.GetTraceID(c))
}

// ListFriends handles GET /api/social/friends.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	ctx := h.ctx(c)
	charID := mw.GetCharacterID(c)
	ids, err := h.relations.Friends(ctx, charID)
	if err != nil {
		abortErr(c, err)
		return
	}

	var shared map[int64]bool
	if h.presence != nil {
		if shared, err = h.presence.Online(ctx); err != nil {
			h.logger.Warn("read presence set failed", zap.Error(err))
		}
	}
	result := make([]FriendInfo, 0, len(ids))
	for _, id := range ids {
		info := FriendInfo{CharacterID: id, Online: shared[id] || h.online.IsOnline(id)}
		if p, err := h.chars.Profile(ctx, id); err == nil {
			info.Name = p.Name
		}
		result = append(result, info)
	}
	c.JSON(http.StatusOK, gin.H{"friends": result})
}

// ListRequests handles GET /api/social/requests.
func (h *SocialHandler) ListRequests(c *gin.Context) {
	reqs, err := h.relations.PendingFor(h.ctx(c), mw.GetCharacterID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	if reqs == nil {
		reqs = []model.FriendRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// SendFriendRequest handles POST /api/social/friends/request.
func (h *SocialHandler) SendFriendRequest(c *gin.Context) {
	var req struct {
		TargetID int64 `json:"targetId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "targetId required"})
		return
	}
	fr, err := h.gate.RequestFriend(h.ctx(c), mw.GetCharacterID(c), req.TargetID)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": fr})
}

// RespondFriendRequest handles POST /api/social/friends/respond/:id.
func (h *SocialHandler) RespondFriendRequest(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	fr, err := h.gate.RespondFriend(h.ctx(c), id, mw.GetCharacterID(c), req.Accept)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": fr})
}

// DeleteFriend handles DELETE /api/social/friends/:id.
func (h *SocialHandler) DeleteFriend(c *gin.Context) {
	friendID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.gate.Unfriend(h.ctx(c), mw.GetCharacterID(c), friendID); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// BlockPlayer handles POST /api/social/block/:id.
func (h *SocialHandler) BlockPlayer(c *gin.Context) {
	targetID, ok := paramID(c, "id")
	if !ok {
		return
	}
	entry, err := h.gate.Block(h.ctx(c), mw.GetCharacterID(c), targetID)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// UnblockPlayer handles DELETE /api/social/block/:entryId.
func (h *SocialHandler) UnblockPlayer(c *gin.Context) {
	entryID, ok := paramID(c, "entryId")
	if !ok {
		return
	}
	entry, err := h.gate.Unblock(h.ctx(c), entryID, mw.GetCharacterID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

// ListBlacklist handles GET /api/social/blacklist.
func (h *SocialHandler) ListBlacklist(c *gin.Context) {
	entries, err := h.relations.Blacklist(h.ctx(c), mw.GetCharacterID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	if entries == nil {
		entries = []model.BlacklistEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"blacklist": entries})
}

// RegisterRoutes mounts the social endpoints on an authenticated group.
func (h *SocialHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/social/friends", h.ListFriends)
	g.GET("/social/requests", h.ListRequests)
	g.POST("/social/friends/request", h.SendFriendRequest)
	g.POST("/social/friends/respond/:id", h.RespondFriendRequest)
	g.DELETE("/social/friends/:id", h.DeleteFriend)
	g.POST("/social/block/:id", h.BlockPlayer)
	g.DELETE("/social/block/:entryId", h.UnblockPlayer)
	g.GET("/social/blacklist", h.ListBlacklist)
}
