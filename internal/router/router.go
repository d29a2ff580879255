package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/handler"
	"github.com/parleyhq/parley/internal/middleware"
)

// SetupRouter sets up all routes
func SetupRouter(h *server.Hertz, handlers *Handlers, wsServer *gateway.WsServer) {
	cfg := config.GlobalConfig

	// CORS shares the websocket upgrade's origin allow list.
	h.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	// Health check
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]interface{}{
			"status":       "ok",
			"online_users": wsServer.GetOnlineUserCount(),
			"online_conns": wsServer.GetOnlineConnCount(),
		})
	})

	// Room routes (auth required)
	roomGroup := h.Group("/room", middleware.JWTAuth())
	{
		roomGroup.POST("/create", handlers.Room.CreateRoom)
		roomGroup.GET("/list", handlers.Room.ListRooms)
		roomGroup.GET("/:room_id", handlers.Room.GetRoom)
		roomGroup.POST("/:room_id/message", handlers.Room.SendMessage)
		roomGroup.GET("/:room_id/messages", handlers.Room.PullMessages)
		roomGroup.GET("/:room_id/recent", handlers.Room.RecentMessages)
		roomGroup.GET("/:room_id/search", handlers.Room.SearchMessages)
		roomGroup.POST("/:room_id/mark_read", handlers.Room.MarkRead)
		roomGroup.POST("/:room_id/typing", handlers.Room.Typing)
		roomGroup.POST("/:room_id/resolve", handlers.Room.Resolve)
		roomGroup.POST("/:room_id/close", handlers.Room.Close)
		roomGroup.POST("/:room_id/hold", handlers.Room.Hold)
		roomGroup.POST("/:room_id/archive", handlers.Room.Archive)
	}

	// Queue routes (agents only)
	queueGroup := h.Group("/queue", middleware.JWTAuth(), middleware.AgentOnly())
	{
		queueGroup.GET("/waiting", handlers.Queue.ListWaiting)
		queueGroup.GET("/mine", handlers.Queue.MyTickets)
		queueGroup.GET("/stats", handlers.Queue.Stats)
		queueGroup.POST("/claim/:room_id", handlers.Queue.Claim)
	}

	// WebSocket route using hertz-contrib/websocket with proper origin validation
	allowedOrigins := cfg.Server.AllowedOrigins
	upgrader := &websocket.HertzUpgrader{
		CheckOrigin: func(ctx *app.RequestContext) bool {
			return checkOrigin(ctx, allowedOrigins)
		},
	}

	h.GET("/ws", func(ctx context.Context, c *app.RequestContext) {
		wsServer.HandleHertzConnection(ctx, c, upgrader)
	})
}

// checkOrigin validates the Origin header against allowed origins
func checkOrigin(ctx *app.RequestContext, allowedOrigins []string) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))

	// If no origin header, allow (same-origin request or non-browser client)
	if origin == "" {
		return true
	}

	return middleware.OriginAllowed(origin, allowedOrigins)
}

// Handlers holds all HTTP handlers
type Handlers struct {
	Room  *handler.RoomHandler
	Queue *handler.QueueHandler
}
