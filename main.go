package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/api/rest"
	apiws "github.com/Skynet2005/MobileGame-sub001/api/ws"
	"github.com/Skynet2005/MobileGame-sub001/audit"
	"github.com/Skynet2005/MobileGame-sub001/cache"
	"github.com/Skynet2005/MobileGame-sub001/config"
	dbadapter "github.com/Skynet2005/MobileGame-sub001/db"
	"github.com/Skynet2005/MobileGame-sub001/events"
	"github.com/Skynet2005/MobileGame-sub001/gateway/channel"
	"github.com/Skynet2005/MobileGame-sub001/gateway/chat"
	"github.com/Skynet2005/MobileGame-sub001/gateway/moderation"
	"github.com/Skynet2005/MobileGame-sub001/gateway/player"
	"github.com/Skynet2005/MobileGame-sub001/metrics"
	mw "github.com/Skynet2005/MobileGame-sub001/middleware"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"github.com/Skynet2005/MobileGame-sub001/plugin/hook"
	"github.com/Skynet2005/MobileGame-sub001/scheduler"
	"github.com/Skynet2005/MobileGame-sub001/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret must be set")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Event publishing ----
	publisher := events.NewAsync(events.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger), 0, logger)

	// ---- Stores ----
	channels := store.NewChannelRepo(db)
	messages := store.NewMessageRepo(db)
	relations := store.NewRelationRepo(db)
	chars := store.NewCachedCharacters(store.NewCharacterRepo(db), c, logger)
	presence := store.NewPresence(chars, c, logger)

	// ---- Gateway ----
	router := channel.NewRouter(channels, logger)
	reg := player.NewRegistry(router, presence, logger)
	gate := moderation.NewGate(relations, channels, chars, auditSvc, reg, logger)

	hooks := hook.NewHookCenter(logger)
	if len(cfg.Gateway.CensorWords) > 0 {
		hooks.Register(hook.BeforeMessagePersist, 0, "censor", hook.Censor(cfg.Gateway.CensorWords))
	}

	chatH := chat.NewHandler(cfg.Gateway, chat.Deps{
		Messages:   messages,
		Channels:   channels,
		Characters: chars,
		Relations:  relations,
		Gate:       gate,
		Registry:   reg,
		Router:     router,
		Cache:      c,
		PubSub:     pubsub,
		Hooks:      hooks,
		Events:     publisher,
		Auditor:    auditSvc,
	}, logger)
	if err := chatH.SubscribeAlliances(context.Background()); err != nil {
		logger.Warn("alliance membership events unavailable", zap.Error(err))
	}

	// ---- WS Router ----
	frameLimiter := mw.NewKeyedLimiter(rate.Limit(cfg.Gateway.FrameRate), cfg.Gateway.FrameBurst)
	wsRouter := apiws.NewRouter(logger)
	wsRouter.Limit(frameLimiter)
	apiws.NewFrameHandlers(chatH, gate, logger).RegisterHandlers(wsRouter)

	// ---- Periodic Scheduler Tasks ----
	sched := scheduler.New(logger)
	sched.AddTicker("typing_expiry", cfg.Gateway.TypingTTL/2, func(context.Context) error {
		if n := chatH.ExpireTyping(time.Now()); n > 0 {
			logger.Debug("typing indicators expired", zap.Int("count", n))
		}
		return nil
	})
	sched.AddTicker("presence_reconcile", cfg.Gateway.PresenceSync, func(ctx context.Context) error {
		added, removed, err := presence.Reconcile(ctx, reg.OnlineIDs())
		if err != nil {
			return err
		}
		if added+removed > 0 {
			logger.Info("presence reconciled", zap.Int("added", added), zap.Int("removed", removed))
		}
		return nil
	})
	sched.AddTicker("frame_limiter_sweep", 5*time.Minute, func(context.Context) error {
		frameLimiter.Sweep(time.Now().Add(-10 * time.Minute))
		return nil
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger), metrics.HTTPMiddleware())
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "online": reg.Count()})
	})
	r.GET("/metrics", metrics.Handler())

	// ---- REST API routes ----
	api := r.Group("/api")
	{
		authed := api.Group("", mw.Auth(cfg.Security))
		rest.NewSocialHandler(gate, relations, chars, reg, presence, logger).RegisterRoutes(authed)
		rest.NewChannelHandler(chatH).RegisterRoutes(authed)

		adminG := api.Group("/admin", mw.IPWhitelist(cfg.Server.AdminIPs), mw.AdminKey(cfg.Server.AdminKey))
		rest.NewAdminHandler(reg, chatH, sched, auditSvc, logger).RegisterRoutes(adminG)
	}

	// ---- WebSocket ----
	wsH := apiws.NewHandler(cfg.Security, cfg.Gateway, chars, reg, chatH, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err = srv.Shutdown(ctx)
	sched.Stop()
	chatH.Stop()
	err = multierr.Append(err, reg.CloseAll(ctx))
	reg.Stop()
	err = multierr.Append(err, publisher.Close())
	auditSvc.Stop(ctx)
	if sqlDB, dbErr := db.DB(); dbErr == nil {
		err = multierr.Append(err, sqlDB.Close())
	}
	if err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
		return
	}
	logger.Info("shutdown complete")
}
