package gateway

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	"github.com/hertz-contrib/websocket"
	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/pkg/jwt"
)

// HandleHertzConnection handles a WebSocket connection from Hertz using hertz-contrib/websocket
func (s *WsServer) HandleHertzConnection(ctx context.Context, c *app.RequestContext, upgrader *websocket.HertzUpgrader) {
	// Check connection limit
	if s.onlineConnNum.Load() >= s.maxConnNum {
		c.String(503, "connection limit exceeded")
		return
	}

	token := string(c.Query(QueryToken))
	userId := string(c.Query(QueryUserId))

	if token == "" || userId == "" {
		c.String(400, "missing required parameters")
		return
	}

	claims, err := jwt.ResolveUser(token, s.cfg.JWT.Secret)
	if err != nil || claims.UserId != userId {
		log.CtxDebug(ctx, "token validation failed: user_id=%s, error=%v", userId, err)
		c.String(401, "unauthorized")
		return
	}

	err = upgrader.Upgrade(c, func(conn *websocket.Conn) {
		connId := uuid.New().String()
		wsConn := NewHertzClientConn(conn, s.cfg.WebSocket.MaxMessageSize, s.cfg.WebSocket.WriteWait, s.cfg.WebSocket.PongWait, s.cfg.WebSocket.PingPeriod)
		client := NewClient(wsConn, claims.UserId, claims.DisplayName, RoleToSenderKind(claims.Role), connId, s)

		s.registerChan <- client

		// Blocking: the upgrade callback owns the connection lifetime.
		client.readLoop()
	})

	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
		return
	}
}
