package service

import (
	"context"
	"errors"

	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/parleyhq/parley/pkg/idgen"
)

// ChatService orchestrates rooms, messages, presence and delivery. All
// room writes go through the store's per-room critical section; event
// publishing happens after the section is released so fan-out never
// holds a room lock.
type ChatService struct {
	rooms       RoomStore
	messages    MessageStore
	presence    *Tracker
	broadcaster *Broadcaster
	online      OnlineChecker
}

// NewChatService creates a new ChatService
func NewChatService(rooms RoomStore, messages MessageStore, presence *Tracker, broadcaster *Broadcaster) *ChatService {
	return &ChatService{
		rooms:       rooms,
		messages:    messages,
		presence:    presence,
		broadcaster: broadcaster,
	}
}

// SetOnlineChecker installs the gateway-backed presence source. Until
// one is set, the in-process tracker answers online checks.
func (s *ChatService) SetOnlineChecker(online OnlineChecker) {
	s.online = online
}

func (s *ChatService) isOnline(userId string) bool {
	if s.online != nil {
		return s.online.IsOnline(userId)
	}
	return s.presence.IsOnlineAnywhere(userId)
}

// CreateRoomParams carries everything needed to open a room.
type CreateRoomParams struct {
	Kind      entity.RoomKind `json:"kind"`
	Initiator UserRef         `json:"initiator"`
	Peers     []UserRef       `json:"peers,omitempty"`
	ProductId string          `json:"product_id,omitempty"`
	OrderId   string          `json:"order_id,omitempty"`
	Priority  int             `json:"priority,omitempty"`
}

func clampPriority(p int) int {
	switch {
	case p == 0:
		return constant.DefaultPriority
	case p < constant.PriorityLow:
		return constant.PriorityLow
	case p > constant.PriorityUrgent:
		return constant.PriorityUrgent
	}
	return p
}

// CreateRoom opens a room of the given kind. Direct-message and
// product-inquiry rooms dedupe on their participant set: a second
// create with the same counterpart returns the existing room instead
// of a new one. Support rooms start waiting for an agent and receive
// an automatic welcome message that counts as unread for everyone but
// the initiator.
func (s *ChatService) CreateRoom(ctx context.Context, params *CreateRoomParams) (*entity.RoomInfo, error) {
	switch params.Kind {
	case entity.RoomKindCustomerSupport, entity.RoomKindVendorSupport,
		entity.RoomKindOrderInquiry, entity.RoomKindProductInquiry,
		entity.RoomKindDirectMessage, entity.RoomKindGroupChat:
	default:
		return nil, errcode.ErrInvalidParam
	}
	if params.Initiator.Id == "" {
		return nil, errcode.ErrInvalidParam
	}

	var dedupeKey string
	switch params.Kind {
	case entity.RoomKindDirectMessage:
		if len(params.Peers) != 1 || params.Peers[0].Id == params.Initiator.Id {
			return nil, errcode.ErrInvalidParam
		}
		dedupeKey = entity.GenDirectDedupeKey(params.Initiator.Id, params.Peers[0].Id)
	case entity.RoomKindProductInquiry:
		if params.ProductId == "" {
			return nil, errcode.ErrInvalidParam
		}
		ids := []string{params.Initiator.Id}
		for _, p := range params.Peers {
			ids = append(ids, p.Id)
		}
		dedupeKey = entity.GenProductDedupeKey(params.ProductId, ids)
	}

	id, err := idgen.NextID()
	if err != nil {
		log.CtxError(ctx, "generate room id failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	now := entity.NowUnixMilli()
	room := &entity.Room{
		Id:        id,
		Kind:      params.Kind,
		Status:    params.Kind.InitialStatus(),
		Priority:  clampPriority(params.Priority),
		ProductId: params.ProductId,
		OrderId:   params.OrderId,
		DedupeKey: dedupeKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	room.AddMember(params.Initiator.Id, params.Initiator.DisplayName, params.Initiator.Kind, now)
	for _, p := range params.Peers {
		room.AddMember(p.Id, p.DisplayName, p.Kind, now)
	}

	created, err := s.rooms.Create(ctx, room)
	if err != nil {
		log.CtxError(ctx, "create room failed: kind=%s, error=%v", params.Kind, err)
		return nil, errcode.ErrInternalServer
	}
	if created.Id != id {
		// Dedupe hit, reuse the existing room.
		log.CtxInfo(ctx, "room dedupe hit: kind=%s, room_id=%s", params.Kind, created.Id)
		return created.ToRoomInfo(s.isOnline), nil
	}

	log.CtxInfo(ctx, "room created: room_id=%s, kind=%s, status=%s, initiator=%s",
		created.Id, created.Kind, created.Status, params.Initiator.Id)

	if welcome := entity.WelcomeText(params.Kind); welcome != "" {
		if err := s.sendSystem(ctx, created.Id, welcome, entity.ContentKindAutoResponse, params.Initiator.Id); err != nil {
			log.CtxWarn(ctx, "welcome message failed: room_id=%s, error=%v", created.Id, err)
		}
		if refreshed, err := s.rooms.Get(ctx, created.Id); err == nil && refreshed != nil {
			created = refreshed
		}
	}

	return created.ToRoomInfo(s.isOnline), nil
}

// SendMessage appends a message to a room's log. The append, the room
// summary update, the unread bumps and the status transition all happen
// in the room's critical section; the new-message and status events go
// out after it releases. When the durable append fails the caller gets
// the message back marked failed rather than an error, so clients can
// surface a retry affordance with the original client_msg_id.
func (s *ChatService) SendMessage(ctx context.Context, roomId string, draft *entity.MessageDraft) (*entity.MessageInfo, error) {
	if roomId == "" || draft.SenderId == "" || draft.Content == "" {
		return nil, errcode.ErrInvalidParam
	}
	if draft.ContentKind == "" {
		draft.ContentKind = entity.ContentKindText
	}

	// Resend with the same client id returns the original append.
	if draft.ClientMsgId != "" {
		existing, err := s.messages.GetByClientMsgId(ctx, draft.SenderId, draft.ClientMsgId)
		if err != nil {
			log.CtxError(ctx, "client msg lookup failed: %v", err)
			return nil, errcode.ErrInternalServer
		}
		if existing != nil && existing.RoomId == roomId {
			log.CtxInfo(ctx, "duplicate send ignored: room_id=%s, client_msg_id=%s, seq=%d",
				roomId, draft.ClientMsgId, existing.Seq)
			return existing.ToMessageInfo(), nil
		}
	}

	now := entity.NowUnixMilli()
	msg := &entity.Message{
		RoomId:      roomId,
		ClientMsgId: draft.ClientMsgId,
		SenderId:    draft.SenderId,
		SenderName:  draft.SenderName,
		SenderKind:  draft.SenderKind,
		Content:     draft.Content,
		ContentKind: draft.ContentKind,
		SendAt:      now,
	}

	var (
		appendErr     error
		statusChanged bool
		newStatus     entity.RoomStatus
	)
	room, err := s.rooms.Mutate(ctx, roomId, func(ctx context.Context, room *entity.Room) error {
		if room.Status.Terminal() {
			return errcode.ErrRoomClosed
		}
		if draft.SenderKind != entity.SenderKindSystem && !room.HasMember(draft.SenderId) {
			return errcode.ErrNotParticipant
		}

		if err := s.messages.Append(ctx, msg); err != nil {
			appendErr = err
			return err
		}

		room.LastMessagePreview = entity.TruncatePreview(draft.Content, constant.LastMessagePreviewLen)
		room.LastMessageAt = msg.SendAt
		room.MessageCount++
		room.IncrementUnread(draft.SenderId)

		if next, changed := s.transitionOnMessage(room, draft.SenderKind); changed {
			room.Status = next
			statusChanged = true
			newStatus = next
		}
		return nil
	})
	if appendErr != nil {
		log.CtxError(ctx, "message append failed: room_id=%s, sender_id=%s, error=%v",
			roomId, draft.SenderId, appendErr)
		msg.DeliveryStatus = entity.DeliveryFailed
		return msg.ToMessageInfo(), nil
	}
	if err != nil {
		if e, ok := err.(*errcode.Error); ok {
			return nil, e
		}
		log.CtxError(ctx, "send message failed: room_id=%s, error=%v", roomId, err)
		return nil, errcode.ErrInternalServer
	}
	if room == nil {
		return nil, errcode.ErrRoomNotFound
	}

	s.broadcaster.Publish(roomId, entity.NewMessageEvent(msg))
	if statusChanged {
		log.CtxInfo(ctx, "room status changed: room_id=%s, status=%s", roomId, newStatus)
		s.broadcaster.Publish(roomId, entity.StatusChangedEvent(roomId, newStatus))
	}

	return msg.ToMessageInfo(), nil
}

// transitionOnMessage applies the message-driven part of the state
// machine. Only support rooms move; a reopened ticket goes back to the
// previous agent when they are still online, otherwise it re-enters the
// queue unassigned.
func (s *ChatService) transitionOnMessage(room *entity.Room, sender entity.SenderKind) (entity.RoomStatus, bool) {
	if !room.Kind.IsSupportKind() {
		return room.Status, false
	}
	trig, ok := MessageTrigger(sender)
	if !ok {
		return room.Status, false
	}
	next, legal := Next(room.Status, trig)
	if !legal || next == room.Status {
		return room.Status, false
	}

	if room.Status == entity.RoomStatusResolved && trig == TriggerCustomerMessage {
		if room.AssignedAgentId == "" || !s.isOnline(room.AssignedAgentId) {
			room.ClearAssignment()
			next = entity.RoomStatusWaitingAgent
		}
	}
	return next, next != room.Status
}

// sendSystem appends a system message through the normal send path.
// exceptUserId is excluded from the unread bump instead of the system
// sender.
func (s *ChatService) sendSystem(ctx context.Context, roomId, content string, kind entity.ContentKind, exceptUserId string) error {
	now := entity.NowUnixMilli()
	msg := &entity.Message{
		RoomId:      roomId,
		SenderId:    "system",
		SenderName:  "System",
		SenderKind:  entity.SenderKindSystem,
		Content:     content,
		ContentKind: kind,
		SendAt:      now,
	}

	_, err := s.rooms.Mutate(ctx, roomId, func(ctx context.Context, room *entity.Room) error {
		if err := s.messages.Append(ctx, msg); err != nil {
			return err
		}
		room.LastMessagePreview = entity.TruncatePreview(content, constant.LastMessagePreviewLen)
		room.LastMessageAt = msg.SendAt
		room.MessageCount++
		room.IncrementUnread(exceptUserId)
		return nil
	})
	if err != nil {
		return err
	}

	s.broadcaster.Publish(roomId, entity.NewMessageEvent(msg))
	return nil
}

// MarkRead marks every message the reader has not yet read and zeroes
// their unread counter, atomically per room. Returns the ids of the
// messages whose state flipped; an empty result is not an error, so
// the call is idempotent.
func (s *ChatService) MarkRead(ctx context.Context, roomId, userId string) ([]int64, error) {
	if roomId == "" || userId == "" {
		return nil, errcode.ErrInvalidParam
	}

	var ids []int64
	room, err := s.rooms.Mutate(ctx, roomId, func(ctx context.Context, room *entity.Room) error {
		if !room.HasMember(userId) {
			return errcode.ErrNotParticipant
		}
		now := entity.NowUnixMilli()
		flipped, err := s.messages.MarkRead(ctx, roomId, userId, now)
		if err != nil {
			return err
		}
		ids = flipped
		room.ResetUnread(userId, now)
		return nil
	})
	if err != nil {
		if e, ok := err.(*errcode.Error); ok {
			return nil, e
		}
		log.CtxError(ctx, "mark read failed: room_id=%s, user_id=%s, error=%v", roomId, userId, err)
		return nil, errcode.ErrInternalServer
	}
	if room == nil {
		return nil, errcode.ErrRoomNotFound
	}

	if len(ids) > 0 {
		s.broadcaster.Publish(roomId, entity.ReadReceiptEvent(roomId, userId, ids))
	}
	return ids, nil
}

// ResolveTicket moves a support room to resolved. Only the assigned
// agent or an admin may resolve an assigned ticket.
func (s *ChatService) ResolveTicket(ctx context.Context, roomId string, actor UserRef) (*entity.RoomInfo, error) {
	return s.applyLifecycle(ctx, roomId, TriggerResolve, actor,
		actor.DisplayName+" marked this conversation as resolved")
}

// CloseTicket closes a room permanently. No further messages are
// accepted once closed.
func (s *ChatService) CloseTicket(ctx context.Context, roomId string, actor UserRef) (*entity.RoomInfo, error) {
	return s.applyLifecycle(ctx, roomId, TriggerClose, actor,
		actor.DisplayName+" closed this conversation")
}

// HoldTicket parks a room on hold, e.g. while waiting on a warehouse
// check or an external vendor.
func (s *ChatService) HoldTicket(ctx context.Context, roomId string, actor UserRef) (*entity.RoomInfo, error) {
	return s.applyLifecycle(ctx, roomId, TriggerHold, actor,
		actor.DisplayName+" put this conversation on hold")
}

// ArchiveRoom archives a room. Archiving is legal from any state and
// absorbing; an archived room never changes again.
func (s *ChatService) ArchiveRoom(ctx context.Context, roomId string, actor UserRef) (*entity.RoomInfo, error) {
	return s.applyLifecycle(ctx, roomId, TriggerArchive, actor, "")
}

// errNoTransition aborts a lifecycle mutation without persisting
// anything; the caller reports the unchanged room as the result.
var errNoTransition = errors.New("no transition")

func (s *ChatService) applyLifecycle(ctx context.Context, roomId string, trig Trigger, actor UserRef, auditText string) (*entity.RoomInfo, error) {
	var (
		audit     *entity.Message
		newStatus entity.RoomStatus
		unchanged *entity.Room
	)
	room, err := s.rooms.Mutate(ctx, roomId, func(ctx context.Context, room *entity.Room) error {
		if trig == TriggerResolve || trig == TriggerHold {
			if actor.Kind == entity.SenderKindSupportAgent && room.AssignedAgentId != "" && room.AssignedAgentId != actor.Id {
				return errcode.ErrNotAssigned
			}
		}

		next, ok := Next(room.Status, trig)
		if !ok {
			// Illegal transitions are absorbed, not surfaced: log the
			// attempt and leave the room exactly as it was. Resolving a
			// resolved ticket twice, or closing a closed one, is a
			// no-op to the caller.
			log.CtxWarn(ctx, "transition ignored: room_id=%s, status=%s, trigger=%s, actor=%s",
				roomId, room.Status, trig, actor.Id)
			unchanged = room
			return errNoTransition
		}

		room.Status = next
		newStatus = next
		if next == entity.RoomStatusClosed || next == entity.RoomStatusArchived {
			if room.ClosedAt == 0 {
				room.ClosedAt = entity.NowUnixMilli()
			}
		}

		if auditText != "" {
			msg := &entity.Message{
				RoomId:      roomId,
				SenderId:    "system",
				SenderName:  "System",
				SenderKind:  entity.SenderKindSystem,
				Content:     auditText,
				ContentKind: entity.ContentKindSystem,
				SendAt:      entity.NowUnixMilli(),
			}
			if err := s.messages.Append(ctx, msg); err != nil {
				// A lost audit line must not block the transition.
				log.CtxWarn(ctx, "audit append failed: room_id=%s, error=%v", roomId, err)
			} else {
				audit = msg
				room.LastMessagePreview = entity.TruncatePreview(auditText, constant.LastMessagePreviewLen)
				room.LastMessageAt = msg.SendAt
				room.MessageCount++
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errNoTransition) {
			return unchanged.ToRoomInfo(s.isOnline), nil
		}
		if e, ok := err.(*errcode.Error); ok {
			return nil, e
		}
		log.CtxError(ctx, "lifecycle %s failed: room_id=%s, error=%v", trig, roomId, err)
		return nil, errcode.ErrInternalServer
	}
	if room == nil {
		return nil, errcode.ErrRoomNotFound
	}

	log.CtxInfo(ctx, "room status changed: room_id=%s, status=%s, trigger=%s, actor=%s",
		roomId, newStatus, trig, actor.Id)

	s.broadcaster.Publish(roomId, entity.StatusChangedEvent(roomId, newStatus))
	if audit != nil {
		s.broadcaster.Publish(roomId, entity.NewMessageEvent(audit))
	}
	if newStatus == entity.RoomStatusClosed || newStatus == entity.RoomStatusArchived {
		s.presence.DropRoom(roomId)
	}

	return room.ToRoomInfo(s.isOnline), nil
}

// GetRoom returns one room with per-participant presence. Agents and
// admins may inspect any room; everyone else must be a participant.
func (s *ChatService) GetRoom(ctx context.Context, roomId string, requester UserRef) (*entity.RoomInfo, error) {
	room, err := s.rooms.Get(ctx, roomId)
	if err != nil {
		log.CtxError(ctx, "get room failed: room_id=%s, error=%v", roomId, err)
		return nil, errcode.ErrInternalServer
	}
	if room == nil {
		return nil, errcode.ErrRoomNotFound
	}
	if !requester.Kind.IsAgentSide() && !room.HasMember(requester.Id) {
		return nil, errcode.ErrNotParticipant
	}
	return room.ToRoomInfo(s.isOnline), nil
}

// ListRoomsForUser pages the rooms a user participates in, most
// recently active first.
func (s *ChatService) ListRoomsForUser(ctx context.Context, userId string, page, pageSize int) ([]*entity.RoomInfo, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = constant.DefaultPageSize
	}
	if pageSize > constant.MaxPageSize {
		pageSize = constant.MaxPageSize
	}

	rooms, err := s.rooms.ListForParticipant(ctx, userId, (page-1)*pageSize, pageSize)
	if err != nil {
		log.CtxError(ctx, "list rooms failed: user_id=%s, error=%v", userId, err)
		return nil, errcode.ErrInternalServer
	}

	infos := make([]*entity.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.ToRoomInfo(nil))
	}
	return infos, nil
}

// ListActiveRoomsForUser is ListRoomsForUser with closed and archived
// rooms filtered out, for inbox views that hide finished conversations.
func (s *ChatService) ListActiveRoomsForUser(ctx context.Context, userId string, page, pageSize int) ([]*entity.RoomInfo, error) {
	rooms, err := s.ListRoomsForUser(ctx, userId, page, pageSize)
	if err != nil {
		return nil, err
	}

	active := rooms[:0]
	for _, r := range rooms {
		if !r.Status.Terminal() {
			active = append(active, r)
		}
	}
	return active, nil
}

// ListMessages pulls messages with seq greater than afterSeq in
// ascending seq order. This is the reconnect recovery path: a client
// that missed pushes replays the gap from its last seen seq.
func (s *ChatService) ListMessages(ctx context.Context, roomId string, requester UserRef, afterSeq int64, limit int) ([]*entity.MessageInfo, error) {
	if err := s.checkReadAccess(ctx, roomId, requester); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListSince(ctx, roomId, afterSeq, normalizePullLimit(limit))
	if err != nil {
		log.CtxError(ctx, "list messages failed: room_id=%s, error=%v", roomId, err)
		return nil, errcode.ErrPullFailed
	}
	return toMessageInfos(msgs), nil
}

// ListRecentMessages returns the newest messages in ascending seq
// order, for the initial render of a room.
func (s *ChatService) ListRecentMessages(ctx context.Context, roomId string, requester UserRef, limit int) ([]*entity.MessageInfo, error) {
	if err := s.checkReadAccess(ctx, roomId, requester); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListRecent(ctx, roomId, normalizePullLimit(limit))
	if err != nil {
		log.CtxError(ctx, "list recent messages failed: room_id=%s, error=%v", roomId, err)
		return nil, errcode.ErrPullFailed
	}
	return toMessageInfos(msgs), nil
}

// SearchMessages scans a room's log for a keyword.
func (s *ChatService) SearchMessages(ctx context.Context, roomId string, requester UserRef, keyword string, limit int) ([]*entity.MessageInfo, error) {
	if keyword == "" {
		return nil, errcode.ErrInvalidParam
	}
	if err := s.checkReadAccess(ctx, roomId, requester); err != nil {
		return nil, err
	}
	msgs, err := s.messages.Search(ctx, roomId, keyword, normalizePullLimit(limit))
	if err != nil {
		log.CtxError(ctx, "search messages failed: room_id=%s, error=%v", roomId, err)
		return nil, errcode.ErrInternalServer
	}
	return toMessageInfos(msgs), nil
}

// RoomMaxSeq returns the highest assigned seq in the room. Clients
// compare it against their local high-water mark to size a pull.
func (s *ChatService) RoomMaxSeq(ctx context.Context, roomId string) (int64, error) {
	seq, err := s.messages.MaxSeq(ctx, roomId)
	if err != nil {
		log.CtxError(ctx, "max seq failed: room_id=%s, error=%v", roomId, err)
		return 0, errcode.ErrInternalServer
	}
	return seq, nil
}

func (s *ChatService) checkReadAccess(ctx context.Context, roomId string, requester UserRef) error {
	room, err := s.rooms.Get(ctx, roomId)
	if err != nil {
		log.CtxError(ctx, "get room failed: room_id=%s, error=%v", roomId, err)
		return errcode.ErrInternalServer
	}
	if room == nil {
		return errcode.ErrRoomNotFound
	}
	if !requester.Kind.IsAgentSide() && !room.HasMember(requester.Id) {
		return errcode.ErrNotParticipant
	}
	return nil
}

func normalizePullLimit(limit int) int {
	if limit <= 0 {
		return constant.DefaultPageSize
	}
	if limit > constant.MaxPullLimit {
		return constant.MaxPullLimit
	}
	return limit
}

func toMessageInfos(msgs []*entity.Message) []*entity.MessageInfo {
	infos := make([]*entity.MessageInfo, 0, len(msgs))
	for _, m := range msgs {
		infos = append(infos, m.ToMessageInfo())
	}
	return infos
}

// SetTyping records a typing indicator and fans it out. Indicators are
// ephemeral: nothing is persisted and the tracker expires them on its
// own when the client stops refreshing.
func (s *ChatService) SetTyping(ctx context.Context, roomId, userId string, typing bool) {
	s.presence.SetTyping(roomId, userId, typing)
	s.broadcaster.Publish(roomId, entity.TypingEvent(roomId, userId, typing))
}

// TypingUsers returns who is currently typing in a room.
func (s *ChatService) TypingUsers(roomId string) []string {
	return s.presence.Typing(roomId)
}

// SetPresence records a user going online or offline in a room and
// fans the change out to the room's subscribers.
func (s *ChatService) SetPresence(ctx context.Context, roomId, userId string, online bool) {
	s.presence.SetOnline(roomId, userId, online)
	s.broadcaster.Publish(roomId, entity.PresenceChangedEvent(roomId, userId, online))
}
