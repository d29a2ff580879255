package service

import (
	"context"

	"github.com/parleyhq/parley/internal/entity"
)

// RoomStore is the durable room registry. Implementations serialize
// Mutate per room; operations on different rooms never contend.
// Get/Find return nil (not an error) when the room is absent.
// Mutate hands fn a store-scoped context: message-store calls made with
// it commit or roll back together with the room write when the backend
// supports transactions.
type RoomStore interface {
	Create(ctx context.Context, room *entity.Room) (*entity.Room, error)
	Get(ctx context.Context, id string) (*entity.Room, error)
	Mutate(ctx context.Context, id string, fn func(ctx context.Context, room *entity.Room) error) (*entity.Room, error)
	FindByDedupeKey(ctx context.Context, key string) (*entity.Room, error)
	ListForParticipant(ctx context.Context, userId string, offset, limit int) ([]*entity.Room, error)
	ListByStatusAndKinds(ctx context.Context, status entity.RoomStatus, kinds []entity.RoomKind) ([]*entity.Room, error)
	ListByAssignedAgent(ctx context.Context, agentId string) ([]*entity.Room, error)
}

// MessageStore is the durable, append-only per-room message log.
// Append assigns the room-local sequence; callers invoke it inside the
// room's critical section with the context RoomStore.Mutate provides,
// so sequence order equals append order and the append shares the room
// write's transaction where the backend has one.
type MessageStore interface {
	Append(ctx context.Context, msg *entity.Message) error
	GetByClientMsgId(ctx context.Context, senderId, clientMsgId string) (*entity.Message, error)
	ListSince(ctx context.Context, roomId string, afterSeq int64, limit int) ([]*entity.Message, error)
	ListRecent(ctx context.Context, roomId string, limit int) ([]*entity.Message, error)
	Search(ctx context.Context, roomId, keyword string, limit int) ([]*entity.Message, error)
	MarkRead(ctx context.Context, roomId, readerId string, at int64) ([]int64, error)
	MaxSeq(ctx context.Context, roomId string) (int64, error)
}

// SessionSink is the transport side of the broadcaster: it delivers an
// event to one session. How sessions map to physical connections
// (WebSocket, long-poll, SSE) is the gateway's business.
type SessionSink interface {
	Deliver(sessionId string, event *entity.Event) error
}

// OnlineChecker reports whether a user has any live session. The
// gateway implements it; reopen uses it to decide whether the previous
// agent gets the ticket back.
type OnlineChecker interface {
	IsOnline(userId string) bool
}

// UserRef identifies an acting user as resolved by the identity
// collaborator; the core trusts it and does not re-authenticate.
type UserRef struct {
	Id          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Kind        entity.SenderKind `json:"kind"`
}
