package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/parleyhq/parley/pkg/constant"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomSeq mirrors the Redis per-room sequence allocator in MySQL so
// the counter survives a Redis flush.
type RoomSeq struct {
	RoomId string `json:"room_id" gorm:"column:room_id;primaryKey"`
	MaxSeq int64  `json:"max_seq" gorm:"column:max_seq"`
}

// TableName returns the table name for RoomSeq
func (RoomSeq) TableName() string {
	return "room_seqs"
}

// SeqRepo allocates per-room message sequence numbers
type SeqRepo struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewSeqRepo creates a new SeqRepo
func NewSeqRepo(db *gorm.DB, rdb *redis.Client) *SeqRepo {
	return &SeqRepo{db: db, rdb: rdb}
}

// AllocSeq allocates the next sequence number for a room using Redis INCR.
// Callers hold the room's critical section, so the append order seen in
// storage equals the sequence order.
func (r *SeqRepo) AllocSeq(ctx context.Context, roomId string) (int64, error) {
	key := fmt.Sprintf(constant.RedisKeySeqRoom(), roomId)
	seq, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// GetMaxSeq gets the current max sequence for a room
func (r *SeqRepo) GetMaxSeq(ctx context.Context, roomId string) (int64, error) {
	key := fmt.Sprintf(constant.RedisKeySeqRoom(), roomId)
	seq, err := r.rdb.Get(ctx, key).Int64()
	if err == nil {
		return seq, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, err
	}

	// Fall back to MySQL
	var roomSeq RoomSeq
	err = r.db.WithContext(ctx).Where("room_id = ?", roomId).First(&roomSeq).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}

	// Restore to Redis
	r.rdb.Set(ctx, key, roomSeq.MaxSeq, 0)

	return roomSeq.MaxSeq, nil
}

// SyncSeqWithTx syncs the Redis sequence to MySQL within a transaction
func (r *SeqRepo) SyncSeqWithTx(ctx context.Context, tx *gorm.DB, roomId string, maxSeq int64) error {
	roomSeq := &RoomSeq{
		RoomId: roomId,
		MaxSeq: maxSeq,
	}

	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"max_seq"}),
	}).Create(roomSeq).Error
}

// InitSeqFromMySQL initializes the Redis seq from MySQL on startup
func (r *SeqRepo) InitSeqFromMySQL(ctx context.Context, roomId string) error {
	var roomSeq RoomSeq
	err := r.db.WithContext(ctx).Where("room_id = ?", roomId).First(&roomSeq).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	key := fmt.Sprintf(constant.RedisKeySeqRoom(), roomId)
	return r.rdb.Set(ctx, key, roomSeq.MaxSeq, 0).Err()
}
