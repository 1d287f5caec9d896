// Package integration runs the gateway end to end: a real HTTP server, real
// websocket connections and an in-memory database.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/api/rest"
	apiws "github.com/Skynet2005/MobileGame-sub001/api/ws"
	"github.com/Skynet2005/MobileGame-sub001/cache"
	"github.com/Skynet2005/MobileGame-sub001/config"
	"github.com/Skynet2005/MobileGame-sub001/gateway/channel"
	"github.com/Skynet2005/MobileGame-sub001/gateway/chat"
	"github.com/Skynet2005/MobileGame-sub001/gateway/moderation"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/plugin/hook"
	"github.com/Skynet2005/MobileGame-sub001/scheduler"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"github.com/Skynet2005/MobileGame-sub001/testutil"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with every gateway subsystem wired
// together. It mirrors the dependency wiring in main.go.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Registry *player.Registry
	Chat     *chat.Handler
	Hooks    *hook.HookCenter
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws
	Sec      config.SecurityConfig
	Gateway  config.GatewayConfig

	sched *scheduler.Scheduler
}

// NewTestServer creates a fully wired gateway. tweak may adjust the gateway
// config before anything is built.
func NewTestServer(t *testing.T, tweak func(*config.GatewayConfig)) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}
	gw := config.DefaultGateway()
	gw.PingInterval = 0
	if tweak != nil {
		tweak(&gw)
	}

	channels := store.NewChannelRepo(db)
	relations := store.NewRelationRepo(db)
	chars := store.NewCachedCharacters(store.NewCharacterRepo(db), c, logger)
	presence := store.NewPresence(chars, c, logger)

	router := channel.NewRouter(channels, logger)
	reg := player.NewRegistry(router, presence, logger)
	gate := moderation.NewGate(relations, channels, chars, nil, reg, logger)
	hooks := hook.NewHookCenter(logger)
	chatH := chat.NewHandler(gw, chat.Deps{
		Messages:   store.NewMessageRepo(db),
		Channels:   channels,
		Characters: chars,
		Relations:  relations,
		Gate:       gate,
		Registry:   reg,
		Router:     router,
		Cache:      c,
		PubSub:     pubsub,
		Hooks:      hooks,
	}, logger)
	require.NoError(t, chatH.SubscribeAlliances(context.Background()))

	wsRouter := apiws.NewRouter(logger)
	wsRouter.Limit(mw.NewKeyedLimiter(rate.Limit(gw.FrameRate), gw.FrameBurst))
	apiws.NewFrameHandlers(chatH, gate, logger).RegisterHandlers(wsRouter)

	sched := scheduler.New(logger)
	sched.AddTicker("typing_expiry", 50*time.Millisecond, func(context.Context) error {
		chatH.ExpireTyping(time.Now())
		return nil
	})

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	authed := api.Group("", mw.Auth(sec))
	rest.NewSocialHandler(gate, relations, chars, reg, presence, logger).RegisterRoutes(authed)
	rest.NewChannelHandler(chatH).RegisterRoutes(authed)

	wsH := apiws.NewHandler(sec, gw, chars, reg, chatH, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	srv := httptest.NewServer(r)
	ts := &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Registry: reg,
		Chat:     chatH,
		Hooks:    hooks,
		Server:   srv,
		URL:      srv.URL,
		WSURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Sec:      sec,
		Gateway:  gw,
		sched:    sched,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts the server down. Safe to call more than once.
func (ts *TestServer) Close() {
	ts.sched.Stop()
	ts.Chat.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = ts.Registry.CloseAll(ctx)
	ts.Server.Close()
	ts.Registry.Stop()
}

// CreateCharacter inserts a character and returns it with a signed token.
func (ts *TestServer) CreateCharacter(t *testing.T, name string, allianceID *int64) (*model.Character, string) {
	t.Helper()
	c := testutil.CreateCharacter(t, ts.DB, name, allianceID)
	token, err := mw.GenerateToken(c.ID, ts.Sec.JWTSecret, time.Hour)
	require.NoError(t, err)
	return c, token
}

// Do sends a JSON request to the REST API.
func (ts *TestServer) Do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON decodes and closes a response body.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

// ---- websocket client ----

// Event is a decoded server event.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the event data into v.
func (e Event) Decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v), string(e.Data))
}

// WSClient is a test websocket client.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// Dial connects with token in the Authorization header. It returns the HTTP
// status of a refused handshake.
func (ts *TestServer) Dial(token string) (*websocket.Conn, int, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL, header)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			resp.Body.Close()
		}
	}
	return conn, status, err
}

// ConnectWS dials the gateway and waits until the world channel history has
// arrived, so the session is fully registered.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	conn, _, err := ts.Dial(token)
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	wc.RecvType(chat.EventHistory, 5*time.Second)
	return wc
}

// readLoop continuously reads from the websocket in a dedicated goroutine.
func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a flat frame {type, seq, ...fields}.
func (wc *WSClient) Send(frameType string, fields map[string]interface{}) {
	wc.t.Helper()
	frame := map[string]interface{}{
		"type": frameType,
		"seq":  atomic.AddUint64(&wc.seq, 1),
	}
	for k, v := range fields {
		frame[k] = v
	}
	data, err := json.Marshal(frame)
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one event, returning an error on timeout or read failure.
func (wc *WSClient) RecvAny(timeout time.Duration) (Event, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return Event{}, res.err
		}
		var ev Event
		err := json.Unmarshal(res.data, &ev)
		return ev, err
	case <-time.After(timeout):
		return Event{}, errTimeout
	}
}

var errTimeout = fmt.Errorf("read timeout")

// RecvType reads events until one with the given type is found.
func (wc *WSClient) RecvType(eventType string, timeout time.Duration) Event {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		ev, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", eventType, err)
		}
		if ev.Type == eventType {
			return ev
		}
	}
	wc.t.Fatalf("timed out waiting for event type %q", eventType)
	return Event{}
}

// ExpectNone asserts no event of eventType arrives within wait.
func (wc *WSClient) ExpectNone(eventType string, wait time.Duration) {
	wc.t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		ev, err := wc.RecvAny(remaining)
		if err != nil {
			return
		}
		if ev.Type == eventType {
			wc.t.Fatalf("unexpected %q event: %s", eventType, ev.Data)
		}
	}
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}
