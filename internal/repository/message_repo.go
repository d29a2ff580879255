package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"gorm.io/gorm"
)

// MessageRepo is the durable, append-only per-room message log.
// Sequence numbers are the ordering authority; wall-clock timestamps
// are informational only.
type MessageRepo struct {
	db  *gorm.DB
	seq *SeqRepo
}

// NewMessageRepo creates a new MessageRepo
func NewMessageRepo(db *gorm.DB, seq *SeqRepo) *MessageRepo {
	return &MessageRepo{db: db, seq: seq}
}

// Append assigns the next sequence for the message's room and persists
// it atomically with the allocator sync. Callers hold the room's
// critical section, so two concurrent senders never receive the same
// sequence and append order equals sequence order. When the context
// carries a transaction (RoomRepo.Mutate), the row and the allocator
// sync join it, so the message commits or rolls back together with the
// room summary it belongs to.
func (r *MessageRepo) Append(ctx context.Context, msg *entity.Message) error {
	seq, err := r.seq.AllocSeq(ctx, msg.RoomId)
	if err != nil {
		return fmt.Errorf("alloc seq: %w", err)
	}

	now := entity.NowUnixMilli()
	msg.Seq = seq
	msg.DeliveryStatus = entity.DeliverySent
	if msg.SendAt == 0 {
		msg.SendAt = now
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now

	return dbFrom(ctx, r.db).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return r.seq.SyncSeqWithTx(ctx, tx, msg.RoomId, seq)
	})
}

// GetByClientMsgId gets a message by sender and client-assigned id
// (idempotent resend check). Returns nil when absent.
func (r *MessageRepo) GetByClientMsgId(ctx context.Context, senderId, clientMsgId string) (*entity.Message, error) {
	var msg entity.Message
	err := r.db.WithContext(ctx).
		Where("sender_id = ? AND client_msg_id = ?", senderId, clientMsgId).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// ListSince lists messages with seq greater than afterSeq in ascending
// sequence order. limit is capped at 100.
func (r *MessageRepo) ListSince(ctx context.Context, roomId string, afterSeq int64, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > constant.MaxPullLimit {
		limit = constant.MaxPullLimit
	}

	var messages []*entity.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND seq > ?", roomId, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ListRecent gets the latest N messages in ascending sequence order.
func (r *MessageRepo) ListRecent(ctx context.Context, roomId string, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > constant.MaxPullLimit {
		limit = constant.DefaultPageSize
	}

	var messages []*entity.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomId).
		Order("seq DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Reverse to ascending order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// Search finds messages in a room containing a keyword, in ascending
// sequence order.
func (r *MessageRepo) Search(ctx context.Context, roomId, keyword string, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > constant.MaxPullLimit {
		limit = constant.MaxPullLimit
	}

	var messages []*entity.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND content LIKE ?", roomId, "%"+keyword+"%").
		Order("seq ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkRead stamps read_at on every message in the room that was unread
// and not sent by the reader, and returns the stamped message ids. The
// writes join the context's transaction when one is present, so the
// stamps land with the unread-counter reset on the room.
func (r *MessageRepo) MarkRead(ctx context.Context, roomId, readerId string, at int64) ([]int64, error) {
	db := dbFrom(ctx, r.db)

	var ids []int64
	err := db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("room_id = ? AND read_at = 0 AND sender_id <> ?", roomId, readerId).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	err = db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"read_at":         at,
			"delivery_status": entity.DeliveryRead,
			"updated_at":      at,
		}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MaxSeq returns the current max sequence for a room.
func (r *MessageRepo) MaxSeq(ctx context.Context, roomId string) (int64, error) {
	return r.seq.GetMaxSeq(ctx, roomId)
}
