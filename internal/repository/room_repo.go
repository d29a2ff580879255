package repository

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomRepo is the durable room registry. All writes to one room go
// through Mutate, which serializes on a per-room lock so concurrent
// operations (a message arriving while an agent claims the ticket)
// never interleave into a lost update.
type RoomRepo struct {
	db    *gorm.DB
	locks *KeyLock
	tx    func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewRoomRepo creates a new RoomRepo. tx runs a function in one durable
// transaction whose handle rides on the context (Repositories.Transaction).
func NewRoomRepo(db *gorm.DB, locks *KeyLock, tx func(ctx context.Context, fn func(ctx context.Context) error) error) *RoomRepo {
	return &RoomRepo{db: db, locks: locks, tx: tx}
}

// Create persists a new room with its participant set. When the room
// carries a dedupe key and a room with the same key already exists,
// the existing room is returned instead of creating a duplicate.
func (r *RoomRepo) Create(ctx context.Context, room *entity.Room) (*entity.Room, error) {
	if room.DedupeKey != "" {
		unlock := r.locks.Lock("dedupe:" + room.DedupeKey)
		defer unlock()

		existing, err := r.FindByDedupeKey(ctx, room.DedupeKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	if room.CreatedAt == 0 {
		now := entity.NowUnixMilli()
		room.CreatedAt = now
		room.UpdatedAt = now
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		for _, m := range room.Members {
			m.RoomId = room.Id
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// Get loads a room with its participant set. Returns nil when absent.
func (r *RoomRepo) Get(ctx context.Context, id string) (*entity.Room, error) {
	var room entity.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := r.loadMembers(ctx, []*entity.Room{&room}); err != nil {
		return nil, err
	}
	return &room, nil
}

// Mutate applies fn to the room under its per-room critical section and
// persists the result. fn sees the current room with members loaded and
// receives a transaction-scoped context: message-store writes made with
// it join the same durable transaction as the room save, so the append,
// the summary fields, and the membership rows commit or roll back as
// one. An error from fn aborts with nothing persisted. The lock is held
// for fn's whole run, so sequence assignment and room summary updates
// never interleave for one room.
func (r *RoomRepo) Mutate(ctx context.Context, id string, fn func(ctx context.Context, room *entity.Room) error) (*entity.Room, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	room, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, nil
	}

	err = r.tx(ctx, func(txCtx context.Context) error {
		if err := fn(txCtx, room); err != nil {
			return err
		}

		room.UpdatedAt = entity.NowUnixMilli()

		tx := dbFrom(txCtx, r.db)
		if err := tx.Save(room).Error; err != nil {
			return err
		}
		for _, m := range room.Members {
			m.RoomId = room.Id
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"display_name", "role", "muted", "unread_count", "last_seen_at",
				}),
			}).Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// FindByDedupeKey looks a room up by its dedupe key. Returns nil when absent.
func (r *RoomRepo) FindByDedupeKey(ctx context.Context, key string) (*entity.Room, error) {
	var room entity.Room
	err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.loadMembers(ctx, []*entity.Room{&room}); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListForParticipant lists rooms a user participates in, most recent
// message first.
func (r *RoomRepo) ListForParticipant(ctx context.Context, userId string, offset, limit int) ([]*entity.Room, error) {
	var rooms []*entity.Room
	err := r.db.WithContext(ctx).
		Joins("JOIN room_members rm ON rm.room_id = rooms.id").
		Where("rm.user_id = ?", userId).
		Order("rooms.last_message_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListByStatusAndKinds lists rooms in a status, filtered by kind.
// This is the queue listing: ordering is applied by the caller.
func (r *RoomRepo) ListByStatusAndKinds(ctx context.Context, status entity.RoomStatus, kinds []entity.RoomKind) ([]*entity.Room, error) {
	q := r.db.WithContext(ctx).Where("status = ?", status)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}

	var rooms []*entity.Room
	if err := q.Find(&rooms).Error; err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListByAssignedAgent lists non-terminal rooms assigned to an agent.
func (r *RoomRepo) ListByAssignedAgent(ctx context.Context, agentId string) ([]*entity.Room, error) {
	var rooms []*entity.Room
	err := r.db.WithContext(ctx).
		Where("assigned_agent_id = ?", agentId).
		Where("status NOT IN ?", []entity.RoomStatus{entity.RoomStatusClosed, entity.RoomStatusArchived}).
		Order("updated_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// loadMembers batch-loads participant rows for a set of rooms.
func (r *RoomRepo) loadMembers(ctx context.Context, rooms []*entity.Room) error {
	if len(rooms) == 0 {
		return nil
	}

	ids := make([]string, 0, len(rooms))
	byId := make(map[string]*entity.Room, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.Id)
		byId[room.Id] = room
		room.Members = nil
	}

	var members []*entity.RoomMember
	err := r.db.WithContext(ctx).
		Where("room_id IN ?", ids).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return err
	}

	for _, m := range members {
		if room, ok := byId[m.RoomId]; ok {
			room.Members = append(room.Members, m)
		}
	}
	return nil
}
