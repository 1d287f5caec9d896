package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/config"
	"github.com/Skynet2005/MobileGame-sub001/gateway/chat"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"github.com/Skynet2005/MobileGame-sub001/metrics"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	sec      config.SecurityConfig
	gw       config.GatewayConfig
	chars    store.CharacterStore
	reg      *player.Registry
	chat     *chat.Handler
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	sec config.SecurityConfig,
	gw config.GatewayConfig,
	chars store.CharacterStore,
	reg *player.Registry,
	chatH *chat.Handler,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		sec:    sec,
		gw:     gw,
		chars:  chars,
		reg:    reg,
		chat:   chatH,
		router: router,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws with a bearer token in the Authorization header or
// the token query parameter.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := mw.BearerToken(c)
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	profile, err := h.chars.Profile(ctx, claims.CharacterID)
	cancel()
	if err != nil {
		if errors.Is(err, apperr.ErrCharacterNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown character"})
			return
		}
		h.logger.Error("load profile failed", zap.Int64("char_id", claims.CharacterID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}
	if h.gw.MaxFrameBytes > 0 {
		conn.SetReadLimit(h.gw.MaxFrameBytes)
	}

	sess := player.NewSession(profile.ID, profile.Name, newConnSink(conn), player.SessionConfig{
		SendBuffer:       h.gw.SendBuffer,
		WriteTimeout:     h.gw.WriteTimeout,
		PingInterval:     h.gw.PingInterval,
		HeartbeatTimeout: h.gw.HeartbeatTimeout,
	}, h.logger)
	sess.TraceID = mw.GetTraceID(c)
	if sess.TraceID == "" {
		sess.TraceID = uuid.New().String()
	}
	sess.SetAllianceID(profile.AllianceID)

	h.reg.Register(sess)
	if !sess.MarkOpen() {
		h.reg.UnregisterSession(sess)
		return
	}
	metrics.IncWSActive()
	defer metrics.DecWSActive()

	connCtx := mw.WithTraceID(context.Background(), sess.TraceID)
	if err := h.chat.Connect(connCtx, sess); err != nil {
		h.logger.Error("session setup failed",
			zap.Int64("char_id", sess.CharID),
			zap.String("trace_id", sess.TraceID),
			zap.Error(err))
		sess.SendError("connect", err)
		h.reg.UnregisterSession(sess)
		sess.MarkClosed()
		return
	}

	h.readPump(conn, sess)
}

// readPump reads frames until the connection closes. Any inbound traffic,
// pongs included, counts as a heartbeat.
func (h *Handler) readPump(conn *websocket.Conn, s *player.Session) {
	defer h.handleDisconnect(s)

	conn.SetPongHandler(func(string) error {
		s.Touch()
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) && !s.IsClosed() {
				h.logger.Warn("ws unexpected close",
					zap.Int64("char_id", s.CharID),
					zap.String("trace_id", s.TraceID),
					zap.Error(err))
			}
			return
		}
		s.Touch()
		h.router.Dispatch(s, raw)
	}
}

// handleDisconnect cleans up the session after the connection closes.
func (h *Handler) handleDisconnect(s *player.Session) {
	h.reg.UnregisterSession(s)
	s.MarkClosed()
	if h.reg.Get(s.CharID) == nil {
		h.router.Forget(s.CharID)
	}
	h.logger.Info("player disconnected",
		zap.Int64("char_id", s.CharID),
		zap.String("trace_id", s.TraceID))
}
