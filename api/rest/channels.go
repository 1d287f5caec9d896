package rest

import (
	"net/http"
	"strconv"

	"github.com/Skynet2005/MobileGame-sub001/gateway/chat"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/gin-gonic/gin"
)

// ChannelHandler serves channel listings and history over REST.
type ChannelHandler struct {
	chat *chat.Handler
}

// NewChannelHandler creates a ChannelHandler.
func NewChannelHandler(chatH *chat.Handler) *ChannelHandler {
	return &ChannelHandler{chat: chatH}
}

// List handles GET /api/channels.
func (h *ChannelHandler) List(c *gin.Context) {
	ctx := mw.WithTraceID(c.Request.Context(), mw.GetTraceID(c))
	chans, err := h.chat.ChannelsFor(ctx, mw.GetCharacterID(c))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": chans})
}

// Messages handles GET /api/channels/:id/messages?limit=&before=.
func (h *ChannelHandler) Messages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)

	ctx := mw.WithTraceID(c.Request.Context(), mw.GetTraceID(c))
	msgs, more, err := h.chat.ReadHistory(ctx, mw.GetCharacterID(c), id, limit, before)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, chat.HistoryData{ChannelID: id, Messages: msgs, HasMore: more})
}

// RegisterRoutes mounts the channel endpoints on an authenticated group.
func (h *ChannelHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/channels", h.List)
	g.GET("/channels/:id/messages", h.Messages)
}
