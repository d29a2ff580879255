package handler

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/parleyhq/parley/pkg/response"
)

// QueueHandler handles support queue requests
type QueueHandler struct {
	queue *service.QueueService
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(queue *service.QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// ListWaiting handles list waiting tickets request
func (h *QueueHandler) ListWaiting(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var kinds []entity.RoomKind
	if raw := c.Query("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			kinds = append(kinds, entity.RoomKind(strings.TrimSpace(k)))
		}
	}

	rooms, err := h.queue.ListWaiting(ctx, kinds)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"tickets": toRoomInfos(rooms),
	})
}

// Claim handles claim ticket request
func (h *QueueHandler) Claim(ctx context.Context, c *app.RequestContext) {
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

	room, err := h.queue.Claim(ctx, roomId, actor.Id, actor.DisplayName)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, room.ToRoomInfo(nil))
}

// MyTickets handles list tickets assigned to the current agent
func (h *QueueHandler) MyTickets(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	rooms, err := h.queue.ListAgentTickets(ctx, userId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"tickets": toRoomInfos(rooms),
	})
}

// Stats handles queue stats request
func (h *QueueHandler) Stats(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	stats, err := h.queue.Stats(ctx)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, stats)
}

func toRoomInfos(rooms []*entity.Room) []*entity.RoomInfo {
	infos := make([]*entity.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.ToRoomInfo(nil))
	}
	return infos
}
