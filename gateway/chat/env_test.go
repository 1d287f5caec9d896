package chat_test

import (
	"context"
	"testing"

	"github.com/Skynet2005/MobileGame-sub001/cache"
	"github.com/Skynet2005/MobileGame-sub001/config"
	"github.com/Skynet2005/MobileGame-sub001/gateway/channel"
	"github.com/Skynet2005/MobileGame-sub001/gateway/chat"
	"github.com/Skynet2005/MobileGame-sub001/gateway/moderation"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/plugin/hook"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"github.com/Skynet2005/MobileGame-sub001/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type env struct {
	db       *gorm.DB
	cfg      config.GatewayConfig
	h        *chat.Handler
	reg      *player.Registry
	router   *channel.Router
	channels *store.ChannelRepo
	messages *store.MessageRepo
	rel      *store.RelationRepo
	gate     *moderation.Gate
	cache    cache.Cache
	pubsub   cache.PubSub
	hooks    *hook.HookCenter
}

func newEnv(t *testing.T, tweak func(*config.GatewayConfig)) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	cfg := config.DefaultGateway()
	cfg.HeartbeatTimeout = 0
	if tweak != nil {
		tweak(&cfg)
	}
	logger := zap.NewNop()

	e := &env{
		db:       db,
		cfg:      cfg,
		channels: store.NewChannelRepo(db),
		messages: store.NewMessageRepo(db),
		rel:      store.NewRelationRepo(db),
		cache:    c,
		pubsub:   ps,
		hooks:    hook.NewHookCenter(nil),
	}
	chars := store.NewCharacterRepo(db)
	e.router = channel.NewRouter(e.channels, logger)
	e.reg = player.NewRegistry(e.router, nil, logger)
	e.gate = moderation.NewGate(e.rel, e.channels, chars, nil, e.reg, logger)
	e.h = chat.NewHandler(cfg, chat.Deps{
		Messages:   e.messages,
		Channels:   e.channels,
		Characters: chars,
		Relations:  e.rel,
		Gate:       e.gate,
		Registry:   e.reg,
		Router:     e.router,
		Cache:      c,
		PubSub:     ps,
		Hooks:      e.hooks,
	}, logger)
	t.Cleanup(func() {
		e.h.Stop()
		e.reg.Stop()
	})
	return e
}

// connect opens a session for c the way the websocket handshake does.
func (e *env) connect(t *testing.T, c *model.Character) (*player.Session, *testutil.FakeSink) {
	t.Helper()
	sink := testutil.NewFakeSink()
	s := player.NewSession(c.ID, c.Name, sink, player.SessionConfig{SendBuffer: 512}, zap.NewNop())
	s.SetAllianceID(c.AllianceID)
	e.reg.Register(s)
	require.True(t, s.MarkOpen())
	require.NoError(t, e.h.Connect(context.Background(), s))
	return s, sink
}

func (e *env) world(t *testing.T) *model.Channel {
	t.Helper()
	ch, err := e.h.World(context.Background())
	require.NoError(t, err)
	return ch
}

func (e *env) channelOf(t *testing.T, a, b int64) int64 {
	t.Helper()
	ch, err := e.channels.GetByName(context.Background(), store.PrivateChannelName(a, b))
	require.NoError(t, err)
	return ch.ID
}
