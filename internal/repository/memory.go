package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
)

// MemoryRoomStore is an in-memory room registry with the same contract
// as RoomRepo. It backs dev mode and the concurrency property tests;
// per-room serialization goes through the same KeyLock as the durable
// registry. Reads return copies, so a reader sees a fully-applied
// mutation or none.
type MemoryRoomStore struct {
	mu       sync.RWMutex
	rooms    map[string]*entity.Room
	byDedupe map[string]string
	locks    *KeyLock
}

// NewMemoryRoomStore creates a new MemoryRoomStore
func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:    make(map[string]*entity.Room),
		byDedupe: make(map[string]string),
		locks:    NewKeyLock(),
	}
}

func cloneRoom(room *entity.Room) *entity.Room {
	cp := *room
	cp.Members = make([]*entity.RoomMember, len(room.Members))
	for i, m := range room.Members {
		mc := *m
		cp.Members[i] = &mc
	}
	return &cp
}

// Create registers a new room; an existing room with the same dedupe
// key wins over the draft.
func (s *MemoryRoomStore) Create(ctx context.Context, room *entity.Room) (*entity.Room, error) {
	if room.CreatedAt == 0 {
		now := entity.NowUnixMilli()
		room.CreatedAt = now
		room.UpdatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if room.DedupeKey != "" {
		if id, ok := s.byDedupe[room.DedupeKey]; ok {
			return cloneRoom(s.rooms[id]), nil
		}
		s.byDedupe[room.DedupeKey] = room.Id
	}

	s.rooms[room.Id] = cloneRoom(room)
	return room, nil
}

// Get returns a copy of the room, or nil when absent.
func (s *MemoryRoomStore) Get(ctx context.Context, id string) (*entity.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	return cloneRoom(room), nil
}

// Mutate applies fn to a copy under the room's critical section and
// swaps the canonical record on success. The lock is held for fn's
// whole run, so message appends done inside fn stay linearized with
// the room write. There is no transaction to thread, so fn receives
// the caller's context unchanged.
func (s *MemoryRoomStore) Mutate(ctx context.Context, id string, fn func(ctx context.Context, room *entity.Room) error) (*entity.Room, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	canonical, ok := s.rooms[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	room := cloneRoom(canonical)
	if err := fn(ctx, room); err != nil {
		return nil, err
	}
	room.UpdatedAt = entity.NowUnixMilli()

	s.mu.Lock()
	s.rooms[id] = cloneRoom(room)
	s.mu.Unlock()

	return room, nil
}

// FindByDedupeKey returns a copy of the room with this key, or nil.
func (s *MemoryRoomStore) FindByDedupeKey(ctx context.Context, key string) (*entity.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDedupe[key]
	if !ok {
		return nil, nil
	}
	return cloneRoom(s.rooms[id]), nil
}

// ListForParticipant lists rooms a user participates in, most recent
// message first.
func (s *MemoryRoomStore) ListForParticipant(ctx context.Context, userId string, offset, limit int) ([]*entity.Room, error) {
	s.mu.RLock()
	var rooms []*entity.Room
	for _, room := range s.rooms {
		if room.HasMember(userId) {
			rooms = append(rooms, cloneRoom(room))
		}
	}
	s.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastMessageAt != rooms[j].LastMessageAt {
			return rooms[i].LastMessageAt > rooms[j].LastMessageAt
		}
		return rooms[i].Id < rooms[j].Id
	})

	if offset >= len(rooms) {
		return nil, nil
	}
	rooms = rooms[offset:]
	if limit > 0 && len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

// ListByStatusAndKinds lists rooms in a status, filtered by kind.
func (s *MemoryRoomStore) ListByStatusAndKinds(ctx context.Context, status entity.RoomStatus, kinds []entity.RoomKind) ([]*entity.Room, error) {
	kindSet := make(map[entity.RoomKind]struct{}, len(kinds))
	for _, k := range kinds {
		kindSet[k] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rooms []*entity.Room
	for _, room := range s.rooms {
		if room.Status != status {
			continue
		}
		if len(kindSet) > 0 {
			if _, ok := kindSet[room.Kind]; !ok {
				continue
			}
		}
		rooms = append(rooms, cloneRoom(room))
	}
	return rooms, nil
}

// ListByAssignedAgent lists non-terminal rooms assigned to an agent.
func (s *MemoryRoomStore) ListByAssignedAgent(ctx context.Context, agentId string) ([]*entity.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rooms []*entity.Room
	for _, room := range s.rooms {
		if room.AssignedAgentId == agentId && !room.Status.Terminal() {
			rooms = append(rooms, cloneRoom(room))
		}
	}

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt > rooms[j].UpdatedAt
	})
	return rooms, nil
}

// MemoryMessageStore is an in-memory append-only message log with the
// same contract as MessageRepo.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	byRoom   map[string][]*entity.Message
	seqs     map[string]int64
	byClient map[string]*entity.Message
	nextId   int64
}

// NewMemoryMessageStore creates a new MemoryMessageStore
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		byRoom:   make(map[string][]*entity.Message),
		seqs:     make(map[string]int64),
		byClient: make(map[string]*entity.Message),
	}
}

func cloneMessage(msg *entity.Message) *entity.Message {
	cp := *msg
	return &cp
}

func clientKey(senderId, clientMsgId string) string {
	return senderId + "|" + clientMsgId
}

// Append assigns the next per-room sequence and stores the message.
func (s *MemoryMessageStore) Append(ctx context.Context, msg *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := entity.NowUnixMilli()
	s.seqs[msg.RoomId]++
	s.nextId++

	msg.Seq = s.seqs[msg.RoomId]
	msg.Id = s.nextId
	msg.DeliveryStatus = entity.DeliverySent
	if msg.SendAt == 0 {
		msg.SendAt = now
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now

	stored := cloneMessage(msg)
	s.byRoom[msg.RoomId] = append(s.byRoom[msg.RoomId], stored)
	if msg.ClientMsgId != "" {
		s.byClient[clientKey(msg.SenderId, msg.ClientMsgId)] = stored
	}
	return nil
}

// GetByClientMsgId returns the message previously appended with this
// sender-assigned id, or nil.
func (s *MemoryMessageStore) GetByClientMsgId(ctx context.Context, senderId, clientMsgId string) (*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byClient[clientKey(senderId, clientMsgId)]
	if !ok {
		return nil, nil
	}
	return cloneMessage(msg), nil
}

// ListSince lists messages with seq greater than afterSeq in ascending
// sequence order.
func (s *MemoryMessageStore) ListSince(ctx context.Context, roomId string, afterSeq int64, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > constant.MaxPullLimit {
		limit = constant.MaxPullLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Message
	for _, msg := range s.byRoom[roomId] {
		if msg.Seq > afterSeq {
			out = append(out, cloneMessage(msg))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ListRecent gets the latest N messages in ascending sequence order.
func (s *MemoryMessageStore) ListRecent(ctx context.Context, roomId string, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > constant.MaxPullLimit {
		limit = constant.DefaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byRoom[roomId]
	start := len(msgs) - limit
	if start < 0 {
		start = 0
	}

	out := make([]*entity.Message, 0, len(msgs)-start)
	for _, msg := range msgs[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

// Search finds messages containing a keyword, in ascending sequence order.
func (s *MemoryMessageStore) Search(ctx context.Context, roomId, keyword string, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > constant.MaxPullLimit {
		limit = constant.MaxPullLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Message
	for _, msg := range s.byRoom[roomId] {
		if strings.Contains(msg.Content, keyword) {
			out = append(out, cloneMessage(msg))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// MarkRead stamps read_at on unread messages not sent by the reader
// and returns the stamped message ids.
func (s *MemoryMessageStore) MarkRead(ctx context.Context, roomId, readerId string, at int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, msg := range s.byRoom[roomId] {
		if msg.ReadAt == 0 && msg.SenderId != readerId {
			msg.ReadAt = at
			msg.DeliveryStatus = entity.DeliveryRead
			msg.UpdatedAt = at
			ids = append(ids, msg.Id)
		}
	}
	return ids, nil
}

// MaxSeq returns the current max sequence for a room.
func (s *MemoryMessageStore) MaxSeq(ctx context.Context, roomId string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seqs[roomId], nil
}
