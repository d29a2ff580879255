package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/handler"
	"github.com/parleyhq/parley/internal/repository"
	"github.com/parleyhq/parley/internal/router"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/constant"
)

func main() {
	ctx := context.TODO()

	// Load configuration
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	log.CtxInfo(ctx, "config loaded: mode=%s", cfg.Server.Mode)

	// Initialize Redis key prefix
	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)
	log.CtxInfo(ctx, "redis key prefix: %s", constant.GetRedisKeyPrefix())

	// Initialize stores
	var (
		rooms    service.RoomStore
		messages service.MessageStore
		rdb      *redis.Client
	)
	if cfg.Chat.InMemoryStore {
		log.CtxInfo(ctx, "using in-memory stores")
		rooms = repository.NewMemoryRoomStore()
		messages = repository.NewMemoryMessageStore()
	} else {
		repos, err := repository.NewRepositories(cfg)
		if err != nil {
			log.CtxError(ctx, "failed to initialize repositories: %v", err)
			panic(err)
		}
		defer repos.Close()

		if err := repos.CheckConnection(ctx); err != nil {
			log.CtxError(ctx, "database connection check failed: %v", err)
			panic(err)
		}
		log.CtxInfo(ctx, "database connection established")

		rooms = repos.Room
		messages = repos.Message
		rdb = repos.Redis
	}

	// Initialize services
	presence := service.NewTracker(cfg.Chat.TypingTTL)
	broadcaster := service.NewBroadcaster(cfg.Chat.BroadcastWorkerNum, cfg.Chat.BroadcastQueueSize)
	chatService := service.NewChatService(rooms, messages, presence, broadcaster)
	queueService := service.NewQueueService(rooms, messages, broadcaster)

	// Initialize WebSocket server
	wsServer := gateway.NewWsServer(cfg, rdb, chatService, broadcaster)

	// Start broadcast workers and WebSocket server
	broadcaster.Run(ctx)
	wsServer.Run(ctx)
	log.CtxInfo(ctx, "websocket server started")

	// Push queue depth to agent dashboards
	if cfg.Chat.QueueRefreshSeconds > 0 {
		go queueService.RefreshLoop(ctx, time.Duration(cfg.Chat.QueueRefreshSeconds)*time.Second)
	}

	// Initialize handlers
	handlers := &router.Handlers{
		Room:  handler.NewRoomHandler(chatService),
		Queue: handler.NewQueueHandler(queueService),
	}

	// Create Hertz server
	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
	)

	// Setup routes
	router.SetupRouter(h, handlers, wsServer)

	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.HTTPPort)

	// Start server in goroutine
	go func() {
		h.Spin()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down server...")

	// Graceful shutdown
	if err := h.Shutdown(ctx); err != nil {
		log.CtxError(ctx, "server shutdown error: %v", err)
	}

	log.CtxInfo(ctx, "server stopped")
}
