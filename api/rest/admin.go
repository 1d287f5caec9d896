package rest

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/audit"
	"github.com/Skynet2005/MobileGame-sub001/gateway/chat"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/Skynet2005/MobileGame-sub001/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by middleware.AdminKey.
type AdminHandler struct {
	reg     *player.Registry
	chat    *chat.Handler
	sched   *scheduler.Scheduler
	auditor *audit.Service
	started time.Time
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler. auditor may be nil.
func NewAdminHandler(
	reg *player.Registry,
	chatH *chat.Handler,
	sched *scheduler.Scheduler,
	auditor *audit.Service,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{reg: reg, chat: chatH, sched: sched, auditor: auditor, started: time.Now(), logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_players":  h.reg.Count(),
		"uptime_seconds":  int64(time.Since(h.started).Seconds()),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

type playerInfo struct {
	CharID     int64     `json:"char_id"`
	CharName   string    `json:"char_name"`
	AllianceID *int64    `json:"alliance_id,omitempty"`
	Channels   []int64   `json:"channels"`
	State      string    `json:"state"`
	LastSeen   time.Time `json:"last_seen"`
	TraceID    string    `json:"trace_id"`
}

// ListPlayers returns a snapshot of all online players.
// GET /api/admin/players
func (h *AdminHandler) ListPlayers(c *gin.Context) {
	sessions := h.reg.All()
	result := make([]playerInfo, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, playerInfo{
			CharID:     s.CharID,
			CharName:   s.Name(),
			AllianceID: s.AllianceID(),
			Channels:   s.Channels(),
			State:      s.State().String(),
			LastSeen:   s.LastHeartbeat(),
			TraceID:    s.TraceID,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CharID < result[j].CharID })
	c.JSON(http.StatusOK, gin.H{"players": result, "count": len(result)})
}

// KickPlayer forcibly disconnects a player by character ID.
// POST /api/admin/kick/:id
func (h *AdminHandler) KickPlayer(c *gin.Context) {
	charID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if h.reg.Get(charID) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	h.reg.Unregister(charID)
	h.record(c, audit.ActionKick, &charID, nil)
	h.logger.Info("admin kicked player", zap.Int64("char_id", charID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Announce pushes a system event to every connected session.
// POST /api/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content required"})
		return
	}
	n, err := h.chat.Announce(req.Content)
	if err != nil {
		abortErr(c, err)
		return
	}
	h.record(c, audit.ActionAnnounce, nil, gin.H{"content": req.Content, "delivered": n})
	c.JSON(http.StatusOK, gin.H{"ok": true, "delivered": n})
}

// ListSchedulerTasks returns every registered maintenance task.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

func (h *AdminHandler) record(c *gin.Context, action string, target *int64, detail interface{}) {
	if h.auditor == nil {
		return
	}
	h.auditor.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		TargetID: target,
		Action:   action,
		Detail:   detail,
	})
}

// RegisterRoutes mounts the admin endpoints on an already protected group.
func (h *AdminHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/metrics", h.Metrics)
	g.GET("/players", h.ListPlayers)
	g.POST("/kick/:id", h.KickPlayer)
	g.POST("/announce", h.Announce)
	g.GET("/scheduler", h.ListSchedulerTasks)
}
