package gateway

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/parleyhq/parley/pkg/jwt"
	"github.com/redis/go-redis/v9"
)

// WsServer terminates WebSocket connections and bridges them to the
// chat core: inbound frames become service calls, and the broadcaster
// delivers room events back through it (it is the service.SessionSink,
// with connection ids as session ids). It also answers online checks
// from its connection table plus the shared redis flag.
type WsServer struct {
	upgrader       *websocket.Upgrader
	cfg            *config.Config
	userMap        *UserMap
	registerChan   chan *Client
	unregisterChan chan *Client
	chat           *service.ChatService
	broadcaster    *service.Broadcaster
	onlineUserNum  atomic.Int64
	onlineConnNum  atomic.Int64
	maxConnNum     int64
}

// NewWsServer creates a new WebSocket server and wires it into the
// broadcaster and the chat service.
func NewWsServer(cfg *config.Config, rdb *redis.Client, chat *service.ChatService, broadcaster *service.Broadcaster) *WsServer {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	server := &WsServer{
		upgrader:       upgrader,
		cfg:            cfg,
		userMap:        NewUserMap(rdb),
		registerChan:   make(chan *Client, 1000),
		unregisterChan: make(chan *Client, 1000),
		chat:           chat,
		broadcaster:    broadcaster,
		maxConnNum:     cfg.WebSocket.MaxConnNum,
	}

	broadcaster.SetSink(server)
	chat.SetOnlineChecker(server)

	return server
}

// Run starts the register/unregister event loop and the redis online
// TTL refresher.
func (s *WsServer) Run(ctx context.Context) {
	go s.eventLoop(ctx)
	go s.userMap.RefreshLoop(ctx, constant.OnlineTTL/2)
}

// Deliver implements service.SessionSink: it pushes one event to one
// connection. A missing connection means the session disconnected
// between fan-out and delivery; the caller swallows that.
func (s *WsServer) Deliver(sessionId string, event *entity.Event) error {
	client, ok := s.userMap.GetByConnId(sessionId)
	if !ok {
		return ErrConnClosed
	}
	return client.PushEvent(event)
}

// IsOnline implements service.OnlineChecker.
func (s *WsServer) IsOnline(userId string) bool {
	return s.userMap.IsOnline(context.Background(), userId)
}

// eventLoop handles client registration and unregistration
func (s *WsServer) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-s.registerChan:
			s.registerClient(ctx, client)
		case client := <-s.unregisterChan:
			s.unregisterClient(ctx, client)
		}
	}
}

// registerClient registers a client
func (s *WsServer) registerClient(ctx context.Context, client *Client) {
	if !s.userMap.HasConnection(client.UserId) {
		s.onlineUserNum.Add(1)
	}

	s.userMap.Register(ctx, client)
	s.onlineConnNum.Add(1)

	log.CtxInfo(ctx, "client registered: user_id=%s, role=%s, conn_id=%s, online_users=%d, online_conns=%d",
		client.UserId, client.Role, client.ConnId, s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// unregisterClient unregisters a client and drops its subscriptions.
// Presence goes offline per room only when the user has no other live
// connection subscribed to that room.
func (s *WsServer) unregisterClient(ctx context.Context, client *Client) {
	userOffline := s.userMap.Unregister(ctx, client)
	s.onlineConnNum.Add(-1)
	if userOffline {
		s.onlineUserNum.Add(-1)
	}

	roomIds := s.broadcaster.UnsubscribeAll(client.ConnId)
	for _, roomId := range roomIds {
		if roomId == entity.QueueChannel {
			continue
		}
		if !s.userSubscribed(roomId, client.UserId) {
			s.chat.SetPresence(ctx, roomId, client.UserId, false)
		}
	}

	log.CtxInfo(ctx, "client unregistered: user_id=%s, conn_id=%s, rooms=%d, user_offline=%v, online_users=%d, online_conns=%d",
		client.UserId, client.ConnId, len(roomIds), userOffline, s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// userSubscribed reports whether any live connection of the user still
// follows the room.
func (s *WsServer) userSubscribed(roomId, userId string) bool {
	for _, sessionId := range s.broadcaster.Subscribers(roomId) {
		if client, ok := s.userMap.GetByConnId(sessionId); ok && client.UserId == userId {
			return true
		}
	}
	return false
}

// UnregisterClient queues client for unregistration
func (s *WsServer) UnregisterClient(client *Client) {
	select {
	case s.unregisterChan <- client:
	default:
		log.Warn("unregister channel full: user_id=%s", client.UserId)
	}
}

// HandleConnection handles a new WebSocket connection over net/http.
// Deployments fronting the gateway with a plain HTTP listener use this
// path; the hertz router uses HandleHertzConnection.
func (s *WsServer) HandleConnection(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if s.onlineConnNum.Load() >= s.maxConnNum {
		http.Error(w, "connection limit exceeded", http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get(QueryToken)
	userId := r.URL.Query().Get(QueryUserId)

	if token == "" || userId == "" {
		http.Error(w, "missing required parameters", http.StatusBadRequest)
		return
	}

	claims, err := jwt.ResolveUser(token, s.cfg.JWT.Secret)
	if err != nil || claims.UserId != userId {
		log.CtxDebug(ctx, "token validation failed: user_id=%s, error=%v", userId, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
		return
	}

	connId := uuid.New().String()
	wsConn := NewWebSocketClientConn(conn, s.cfg.WebSocket.MaxMessageSize, s.cfg.WebSocket.WriteWait, s.cfg.WebSocket.PongWait, s.cfg.WebSocket.PingPeriod)
	client := NewClient(wsConn, claims.UserId, claims.DisplayName, RoleToSenderKind(claims.Role), connId, s)

	s.registerChan <- client
	client.Start()
}

// GetOnlineUserCount returns online user count
func (s *WsServer) GetOnlineUserCount() int64 {
	return s.onlineUserNum.Load()
}

// GetOnlineConnCount returns online connection count
func (s *WsServer) GetOnlineConnCount() int64 {
	return s.onlineConnNum.Load()
}

// RoleToSenderKind maps a token role claim to a sender kind. Unknown
// roles fall back to customer, the least privileged kind.
func RoleToSenderKind(role string) entity.SenderKind {
	switch entity.SenderKind(role) {
	case entity.SenderKindVendor:
		return entity.SenderKindVendor
	case entity.SenderKindAdmin:
		return entity.SenderKindAdmin
	case entity.SenderKindSupportAgent:
		return entity.SenderKindSupportAgent
	default:
		return entity.SenderKindCustomer
	}
}

// ========== Frame Handlers ==========

// HandleSubscribe follows a room and marks the user present in it. The
// response carries the room's max seq so the client knows where its
// pull should start.
func (s *WsServer) HandleSubscribe(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var subReq SubscribeReq
	if err := Decode(req.Data, &subReq); err != nil || subReq.RoomId == "" {
		return nil, errcode.ErrInvalidParam
	}

	// The queue channel is a pseudo-room for agent dashboards. It has no
	// backing room or presence, just queue depth pushes.
	if subReq.RoomId == entity.QueueChannel {
		if !client.Role.IsAgentSide() {
			return nil, errcode.ErrNoPermission
		}
		s.broadcaster.Subscribe(client.ConnId, entity.QueueChannel)
		return Encode(SubscribeResp{RoomId: entity.QueueChannel})
	}

	if _, err := s.chat.GetRoom(ctx, subReq.RoomId, client.userRef()); err != nil {
		return nil, err
	}

	s.broadcaster.Subscribe(client.ConnId, subReq.RoomId)
	s.chat.SetPresence(ctx, subReq.RoomId, client.UserId, true)

	maxSeq, err := s.chat.RoomMaxSeq(ctx, subReq.RoomId)
	if err != nil {
		return nil, err
	}

	return Encode(SubscribeResp{RoomId: subReq.RoomId, MaxSeq: maxSeq})
}

// HandleUnsubscribe stops following a room.
func (s *WsServer) HandleUnsubscribe(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var subReq SubscribeReq
	if err := Decode(req.Data, &subReq); err != nil || subReq.RoomId == "" {
		return nil, errcode.ErrInvalidParam
	}

	s.broadcaster.Unsubscribe(client.ConnId, subReq.RoomId)
	if subReq.RoomId != entity.QueueChannel && !s.userSubscribed(subReq.RoomId, client.UserId) {
		s.chat.SetPresence(ctx, subReq.RoomId, client.UserId, false)
	}

	return nil, nil
}

// HandleSendMsg handles send message request
func (s *WsServer) HandleSendMsg(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var sendReq SendMsgReq
	if err := Decode(req.Data, &sendReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	msg, err := s.chat.SendMessage(ctx, sendReq.RoomId, &entity.MessageDraft{
		ClientMsgId: sendReq.ClientMsgId,
		SenderId:    client.UserId,
		SenderName:  client.DisplayName,
		SenderKind:  client.Role,
		Content:     sendReq.Content,
		ContentKind: sendReq.ContentKind,
	})
	if err != nil {
		return nil, err
	}

	return Encode(msg)
}

// HandleMarkRead handles mark read request
func (s *WsServer) HandleMarkRead(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var readReq MarkReadReq
	if err := Decode(req.Data, &readReq); err != nil || readReq.RoomId == "" {
		return nil, errcode.ErrInvalidParam
	}

	ids, err := s.chat.MarkRead(ctx, readReq.RoomId, client.UserId)
	if err != nil {
		return nil, err
	}

	return Encode(MarkReadResp{RoomId: readReq.RoomId, MessageIds: ids})
}

// HandlePullMsg handles pull messages request
func (s *WsServer) HandlePullMsg(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var pullReq PullMsgReq
	if err := Decode(req.Data, &pullReq); err != nil || pullReq.RoomId == "" {
		return nil, errcode.ErrInvalidParam
	}

	msgs, err := s.chat.ListMessages(ctx, pullReq.RoomId, client.userRef(), pullReq.AfterSeq, pullReq.Limit)
	if err != nil {
		return nil, err
	}

	maxSeq, err := s.chat.RoomMaxSeq(ctx, pullReq.RoomId)
	if err != nil {
		return nil, err
	}

	return Encode(PullMsgResp{RoomId: pullReq.RoomId, Messages: msgs, MaxSeq: maxSeq})
}

// HandleTyping handles a typing indicator frame.
func (s *WsServer) HandleTyping(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var typingReq TypingReq
	if err := Decode(req.Data, &typingReq); err != nil || typingReq.RoomId == "" {
		return nil, errcode.ErrInvalidParam
	}

	s.chat.SetTyping(ctx, typingReq.RoomId, client.UserId, typingReq.Typing)
	return nil, nil
}
