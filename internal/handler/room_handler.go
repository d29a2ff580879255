package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/parleyhq/parley/pkg/response"
)

// RoomHandler handles room and message requests
type RoomHandler struct {
	chat *service.ChatService
}

// NewRoomHandler creates a new RoomHandler
func NewRoomHandler(chat *service.ChatService) *RoomHandler {
	return &RoomHandler{chat: chat}
}

// CreateRoomRequest represents a create room request
type CreateRoomRequest struct {
	Kind      entity.RoomKind   `json:"kind"`
	Peers     []service.UserRef `json:"peers,omitempty"`
	ProductId string            `json:"product_id,omitempty"`
	OrderId   string            `json:"order_id,omitempty"`
	Priority  int               `json:"priority,omitempty"`
}

// CreateRoom handles create room request
func (h *RoomHandler) CreateRoom(ctx context.Context, c *app.RequestContext) {
	actor := middleware.GetUserRef(c)
	if actor.Id == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req CreateRoomRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	room, err := h.chat.CreateRoom(ctx, &service.CreateRoomParams{
		Kind:      req.Kind,
		Initiator: actor,
		Peers:     req.Peers,
		ProductId: req.ProductId,
		OrderId:   req.OrderId,
		Priority:  req.Priority,
	})
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, room)
}

// GetRoom handles get room request
func (h *RoomHandler) GetRoom(ctx context.Context, c *app.RequestContext) {
	actor := middleware.GetUserRef(c)
	if actor.Id == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	roomId := c.Param("room_id")
	if roomId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	room, err := h.chat.GetRoom(ctx, roomId, actor)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, room)
}

// ListRooms handles list rooms request for the current user
func (h *RoomHandler) ListRooms(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	list := h.chat.ListRoomsForUser
	if c.Query("active") == "true" {
		list = h.chat.ListActiveRoomsForUser
	}

	rooms, err := list(ctx, userId, page, pageSize)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"rooms": rooms,
	})
}

// SendMessageRequest represents an HTTP send message request
type SendMessageRequest struct {
	ClientMsgId string             `json:"client_msg_id,omitempty"`
	Content     string             `json:"content"`
	ContentKind entity.ContentKind `json:"content_kind,omitempty"`
}

// SendMessage handles send message request (HTTP fallback)
func (h *RoomHandler) SendMessage(ctx context.Context, c *app.RequestContext) {
	actor := middleware.GetUserRef(c)
	if actor.Id == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	roomId := c.Param("room_id")
	if roomId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	var req SendMessageRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	msg, err := h.chat.SendMessage(ctx, roomId, &entity.MessageDraft{
		ClientMsgId: req.ClientMsgId,
		SenderId:    actor.Id,
		SenderName:  actor.DisplayName,
		SenderKind:  actor.Kind,
		Content:     req.Content,
		ContentKind: req.ContentKind,
	})
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, msg)
}

// PullMessages handles pull messages request
func (h *RoomHandler) PullMessages(ctx context.Context, c *app.RequestContext) {
	actor := middleware.GetUserRef(c)
	if actor.Id == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	roomId := c.Param("room_id")
	if roomId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	afterSeq, _ := strconv.ParseInt(c.Query("after_seq"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	messages, err := h.chat.ListMessages(ctx, roomId, actor, afterSeq, limit)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	maxSeq, err := h.chat.RoomMaxSeq(ctx, roomId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"messages": messages,
		"max_seq":  maxSeq,
	})
}

// RecentMessages handles recent messages request
func (h *RoomHandler) RecentMessages(ctx context.Context, c *app.RequestContext) {
	actor := middleware.GetUserRef(c)
	if actor.Id == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	roomId := c.Param("room_id")
	if roomId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))

	messages, err := h.chat.ListRecentMessages(ctx, roomId, actor, limit)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"messages": messages,
	})
}

// SearchMessages handles search messages request
func (h *RoomHandler) SearchMessages(ctx context.Context, c *app.RequestContext) {
	actor := middleware.GetUserRef(c)
	if actor.Id == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	roomId := c.Param("room_id")
	keyword := c.Query("keyword")
	limit, _ := strconv.Atoi(c.Query("limit"))

	messages, err := h.chat.SearchMessages(ctx, roomId, actor, keyword, limit)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"messages": messages,
	})
}

// MarkRead handles mark read request
func (h *RoomHandler) MarkRead(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	roomId := c.Param("room_id")
	if roomId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	ids, err := h.chat.MarkRead(ctx, roomId, userId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"message_ids": ids,
	})
}

// TypingRequest represents a typing indicator request
type TypingRequest struct {
	Typing bool `json:"typing"`
}

// Typing handles typing indicator request
func (h *RoomHandler) Typing(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	roomId := c.Param("room_id")
	if roomId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	var req TypingRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	h.chat.SetTyping(ctx, roomId, userId, req.Typing)
	response.Success(ctx, c, nil)
}

// Resolve handles resolve ticket request
func (h *RoomHandler) Resolve(ctx context.Context, c *app.RequestContext) {
	h.lifecycle(ctx, c, h.chat.ResolveTicket)
}

// Close handles close ticket request
func (h *RoomHandler) Close(ctx context.Context, c *app.RequestContext) {
	h.lifecycle(ctx, c, h.chat.CloseTicket)
}

// Hold handles hold ticket request
func (h *RoomHandler) Hold(ctx context.Context, c *app.RequestContext) {
	h.lifecycle(ctx, c, h.chat.HoldTicket)
}

// Archive handles archive room request
func (h *RoomHandler) Archive(ctx context.Context, c *app.RequestContext) {
	h.lifecycle(ctx, c, h.chat.ArchiveRoom)
}

func (h *RoomHandler) lifecycle(ctx context.Context, c *app.RequestContext, op func(context.Context, string, service.UserRef) (*entity.RoomInfo, error)) {
	actor := middleware.GetUserRef(c)
	if actor.Id == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	roomId := c.Param("room_id")
	if roomId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	room, err := op(ctx, roomId, actor)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, room)
}
