package service

import (
	"context"
	"sort"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
)

// QueueService orders unassigned support rooms and performs the
// exclusive agent claim. Queue entries are computed from the room
// registry's (status, kind) listing, never materialized, to avoid a
// second source of truth.
type QueueService struct {
	rooms       RoomStore
	messages    MessageStore
	broadcaster *Broadcaster
}

// NewQueueService creates a new QueueService
func NewQueueService(rooms RoomStore, messages MessageStore, broadcaster *Broadcaster) *QueueService {
	return &QueueService{rooms: rooms, messages: messages, broadcaster: broadcaster}
}

// ListWaiting lists rooms waiting for an agent, ordered by priority
// descending then creation time ascending: the oldest urgent ticket
// comes first, and within equal priority the queue is FIFO.
func (s *QueueService) ListWaiting(ctx context.Context, kinds []entity.RoomKind) ([]*entity.Room, error) {
	if len(kinds) == 0 {
		kinds = entity.SupportKinds
	}

	rooms, err := s.rooms.ListByStatusAndKinds(ctx, entity.RoomStatusWaitingAgent, kinds)
	if err != nil {
		log.CtxError(ctx, "list waiting rooms failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Priority != rooms[j].Priority {
			return rooms[i].Priority > rooms[j].Priority
		}
		if rooms[i].CreatedAt != rooms[j].CreatedAt {
			return rooms[i].CreatedAt < rooms[j].CreatedAt
		}
		return rooms[i].Id < rooms[j].Id
	})

	return rooms, nil
}

// Claim assigns a waiting room to an agent. The check-and-set runs
// inside the room's critical section, so of K concurrent claims exactly
// one succeeds; the rest get ErrAlreadyClaimed without mutating.
func (s *QueueService) Claim(ctx context.Context, roomId, agentId, agentName string) (*entity.Room, error) {
	var audit *entity.Message
	room, err := s.rooms.Mutate(ctx, roomId, func(ctx context.Context, room *entity.Room) error {
		if room.Status != entity.RoomStatusWaitingAgent || room.AssignedAgentId != "" {
			return errcode.ErrAlreadyClaimed
		}

		next, ok := Next(room.Status, TriggerAgentClaim)
		if !ok {
			return errcode.ErrAlreadyClaimed
		}

		now := entity.NowUnixMilli()
		room.Status = next
		room.AssignedAgentId = agentId
		room.AssignedAgentName = agentName
		room.AddMember(agentId, agentName, entity.SenderKindSupportAgent, now)

		msg := &entity.Message{
			RoomId:      roomId,
			SenderId:    "system",
			SenderName:  "System",
			SenderKind:  entity.SenderKindSystem,
			Content:     agentName + " joined the conversation",
			ContentKind: entity.ContentKindSystem,
			SendAt:      now,
		}
		if err := s.messages.Append(ctx, msg); err != nil {
			log.CtxWarn(ctx, "claim audit append failed: room_id=%s, error=%v", roomId, err)
		} else {
			audit = msg
			room.LastMessagePreview = entity.TruncatePreview(msg.Content, constant.LastMessagePreviewLen)
			room.LastMessageAt = msg.SendAt
			room.MessageCount++
		}
		return nil
	})
	if err != nil {
		if e, ok := err.(*errcode.Error); ok {
			return nil, e
		}
		log.CtxError(ctx, "claim failed: room_id=%s, agent_id=%s, error=%v", roomId, agentId, err)
		return nil, errcode.ErrInternalServer
	}
	if room == nil {
		return nil, errcode.ErrRoomNotFound
	}

	log.CtxInfo(ctx, "ticket claimed: room_id=%s, agent_id=%s", roomId, agentId)
	s.broadcaster.Publish(roomId, entity.StatusChangedEvent(roomId, room.Status))
	if audit != nil {
		s.broadcaster.Publish(roomId, entity.NewMessageEvent(audit))
	}
	return room, nil
}

// ListAgentTickets lists the open rooms assigned to an agent.
func (s *QueueService) ListAgentTickets(ctx context.Context, agentId string) ([]*entity.Room, error) {
	rooms, err := s.rooms.ListByAssignedAgent(ctx, agentId)
	if err != nil {
		log.CtxError(ctx, "list agent tickets failed: agent_id=%s, error=%v", agentId, err)
		return nil, errcode.ErrInternalServer
	}
	return rooms, nil
}

// QueueStats summarizes the waiting queue.
type QueueStats struct {
	WaitingCount      int `json:"waiting_count"`
	UrgentCount       int `json:"urgent_count"`
	HighPriorityCount int `json:"high_priority_count"`
}

// RefreshLoop periodically recomputes queue stats and publishes them to
// subscribers of the agent dashboard channel. It returns when ctx is done.
func (s *QueueService) RefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.Stats(ctx)
			if err != nil {
				continue
			}
			s.broadcaster.Publish(entity.QueueChannel, entity.QueueStatsEvent(stats.WaitingCount, stats.UrgentCount, stats.HighPriorityCount))
			log.CtxDebug(ctx, "queue refresh: waiting=%d, urgent=%d", stats.WaitingCount, stats.UrgentCount)
		}
	}
}

// Stats computes queue counters over the waiting set.
func (s *QueueService) Stats(ctx context.Context) (*QueueStats, error) {
	rooms, err := s.rooms.ListByStatusAndKinds(ctx, entity.RoomStatusWaitingAgent, entity.SupportKinds)
	if err != nil {
		log.CtxError(ctx, "queue stats failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	stats := &QueueStats{WaitingCount: len(rooms)}
	for _, room := range rooms {
		if room.Priority >= constant.PriorityUrgent {
			stats.UrgentCount++
		}
		if room.Priority >= constant.PriorityHigh {
			stats.HighPriorityCount++
		}
	}
	return stats, nil
}
