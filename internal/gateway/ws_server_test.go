package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/internal/repository"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "gateway-test-secret"

type gatewayHarness struct {
	ws     *WsServer
	chat   *service.ChatService
	server *httptest.Server
	cancel context.CancelFunc
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()

	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret
	cfg.WebSocket.MaxConnNum = 100
	cfg.WebSocket.MaxMessageSize = MaxMessageSize
	cfg.WebSocket.WriteWait = WriteWait
	cfg.WebSocket.PongWait = PongWait
	cfg.WebSocket.PingPeriod = PingPeriod

	rooms := repository.NewMemoryRoomStore()
	messages := repository.NewMemoryMessageStore()
	presence := service.NewTracker(5 * time.Second)
	broadcaster := service.NewBroadcaster(2, 256)
	chat := service.NewChatService(rooms, messages, presence, broadcaster)

	ws := NewWsServer(cfg, nil, chat, broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	broadcaster.Run(ctx)
	ws.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.HandleConnection(r.Context(), w, r)
	}))

	h := &gatewayHarness{ws: ws, chat: chat, server: server, cancel: cancel}
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return h
}

func (h *gatewayHarness) dial(t *testing.T, userId, displayName, role string) *websocket.Conn {
	t.Helper()

	token, err := jwt.GenerateToken(userId, displayName, role, testSecret, time.Hour)
	require.NoError(t, err)

	before := h.ws.GetOnlineConnCount()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "?token=" + token + "&user_id=" + userId
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return h.ws.GetOnlineConnCount() > before
	}, time.Second, 10*time.Millisecond, "registration must complete")

	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, identifier int32, data interface{}) {
	t.Helper()

	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		require.NoError(t, err)
		raw = encoded
	}
	req := WSRequest{ReqIdentifier: identifier, MsgIncr: "1", Data: raw}
	require.NoError(t, conn.WriteJSON(req))
}

// readUntil reads frames until one matches the identifier, skipping
// interleaved pushes or replies.
func readUntil(t *testing.T, conn *websocket.Conn, identifier int32) *WSResponse {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var resp WSResponse
		require.NoError(t, conn.ReadJSON(&resp))
		if resp.ReqIdentifier == identifier {
			return &resp
		}
	}
}

// readPush reads push frames until an event of the wanted kind arrives,
// skipping presence and typing noise.
func readPush(t *testing.T, conn *websocket.Conn, kind entity.EventKind) *entity.Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var resp WSResponse
		require.NoError(t, conn.ReadJSON(&resp))
		if resp.ReqIdentifier != WSPushEvent {
			continue
		}
		var event entity.Event
		require.NoError(t, json.Unmarshal(resp.Data, &event))
		if event.Kind == kind {
			return &event
		}
	}
}

func TestGateway_RejectsBadToken(t *testing.T) {
	h := newGatewayHarness(t)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "?token=garbage&user_id=cust_1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_SubscribeSendAndPush(t *testing.T) {
	h := newGatewayHarness(t)
	ctx := context.Background()

	room, err := h.chat.CreateRoom(ctx, &service.CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: service.UserRef{Id: "cust_1", DisplayName: "Cora", Kind: entity.SenderKindCustomer},
		Peers:     []service.UserRef{{Id: "vend_1", DisplayName: "Vito", Kind: entity.SenderKindVendor}},
	})
	require.NoError(t, err)

	sender := h.dial(t, "cust_1", "Cora", "customer")
	receiver := h.dial(t, "vend_1", "Vito", "vendor")

	sendFrame(t, sender, WSSubscribe, SubscribeReq{RoomId: room.Id})
	subResp := readUntil(t, sender, WSSubscribe)
	require.Zero(t, subResp.ErrCode, subResp.ErrMsg)

	var sub SubscribeResp
	require.NoError(t, json.Unmarshal(subResp.Data, &sub))
	assert.EqualValues(t, 0, sub.MaxSeq)

	sendFrame(t, receiver, WSSubscribe, SubscribeReq{RoomId: room.Id})
	readUntil(t, receiver, WSSubscribe)

	sendFrame(t, sender, WSSendMsg, SendMsgReq{RoomId: room.Id, ClientMsgId: "c1", Content: "hello vito"})
	sendResp := readUntil(t, sender, WSSendMsg)
	require.Zero(t, sendResp.ErrCode, sendResp.ErrMsg)

	var msg entity.MessageInfo
	require.NoError(t, json.Unmarshal(sendResp.Data, &msg))
	assert.EqualValues(t, 1, msg.Seq)
	assert.Equal(t, "cust_1", msg.SenderId)

	// The subscribed peer receives the push.
	event := readPush(t, receiver, entity.EventNewMessage)
	assert.Equal(t, room.Id, event.RoomId)
	require.NotNil(t, event.Message)
	assert.Equal(t, "hello vito", event.Message.Content)

	// Pull recovers the same message by seq.
	sendFrame(t, receiver, WSPullMsg, PullMsgReq{RoomId: room.Id, AfterSeq: 0})
	pullResp := readUntil(t, receiver, WSPullMsg)
	require.Zero(t, pullResp.ErrCode, pullResp.ErrMsg)

	var pull PullMsgResp
	require.NoError(t, json.Unmarshal(pullResp.Data, &pull))
	require.Len(t, pull.Messages, 1)
	assert.EqualValues(t, 1, pull.MaxSeq)
}

func TestGateway_SubscribeDeniedForOutsider(t *testing.T) {
	h := newGatewayHarness(t)
	ctx := context.Background()

	room, err := h.chat.CreateRoom(ctx, &service.CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: service.UserRef{Id: "cust_1", DisplayName: "Cora", Kind: entity.SenderKindCustomer},
		Peers:     []service.UserRef{{Id: "vend_1", DisplayName: "Vito", Kind: entity.SenderKindVendor}},
	})
	require.NoError(t, err)

	outsider := h.dial(t, "cust_2", "Carl", "customer")

	sendFrame(t, outsider, WSSubscribe, SubscribeReq{RoomId: room.Id})
	resp := readUntil(t, outsider, WSSubscribe)
	assert.NotZero(t, resp.ErrCode)
}
