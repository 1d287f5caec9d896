package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/api/rest"
	"github.com/Skynet2005/MobileGame-sub001/config"
	"github.com/Skynet2005/MobileGame-sub001/gateway/channel"
	"github.com/Skynet2005/MobileGame-sub001/gateway/chat"
	"github.com/Skynet2005/MobileGame-sub001/gateway/moderation"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/scheduler"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"github.com/Skynet2005/MobileGame-sub001/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSecret   = "test-secret"
	testAdminKey = "admin-key"
)

func init() { gin.SetMode(gin.TestMode) }

type server struct {
	r        *gin.Engine
	db       *gorm.DB
	reg      *player.Registry
	chat     *chat.Handler
	presence *store.Presence
	sched    *scheduler.Scheduler
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := zap.NewNop()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	cfg := config.DefaultGateway()
	cfg.HeartbeatTimeout = 0

	channels := store.NewChannelRepo(db)
	chars := store.NewCharacterRepo(db)
	rel := store.NewRelationRepo(db)
	router := channel.NewRouter(channels, logger)
	presence := store.NewPresence(chars, c, logger)
	reg := player.NewRegistry(router, nil, logger)
	gate := moderation.NewGate(rel, channels, chars, nil, reg, logger)
	chatH := chat.NewHandler(cfg, chat.Deps{
		Messages:   store.NewMessageRepo(db),
		Channels:   channels,
		Characters: chars,
		Relations:  rel,
		Gate:       gate,
		Registry:   reg,
		Router:     router,
		Cache:      c,
		PubSub:     ps,
	}, logger)
	sched := scheduler.New(logger)
	t.Cleanup(func() {
		sched.Stop()
		chatH.Stop()
		reg.Stop()
	})

	r := gin.New()
	r.Use(mw.TraceID())
	api := r.Group("/api", mw.Auth(config.SecurityConfig{JWTSecret: testSecret}))
	rest.NewSocialHandler(gate, rel, chars, reg, presence, logger).RegisterRoutes(api)
	rest.NewChannelHandler(chatH).RegisterRoutes(api)
	admin := r.Group("/api/admin", mw.AdminKey(testAdminKey))
	rest.NewAdminHandler(reg, chatH, sched, nil, logger).RegisterRoutes(admin)

	return &server{r: r, db: db, reg: reg, chat: chatH, presence: presence, sched: sched}
}

func (s *server) token(t *testing.T, charID int64) string {
	t.Helper()
	tok, err := mw.GenerateToken(charID, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path string, charID int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if charID != 0 {
		req.Header.Set("Authorization", "Bearer "+s.token(t, charID))
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func (s *server) admin(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

// connect registers an open session for c without a network connection.
func (s *server) connect(t *testing.T, c *model.Character) (*player.Session, *testutil.FakeSink) {
	t.Helper()
	sink := testutil.NewFakeSink()
	sess := player.NewSession(c.ID, c.Name, sink, player.SessionConfig{}, zap.NewNop())
	s.reg.Register(sess)
	require.True(t, sess.MarkOpen())
	require.NoError(t, s.chat.Connect(context.Background(), sess))
	return sess, sink
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func path(format string, args ...interface{}) string { return fmt.Sprintf(format, args...) }
