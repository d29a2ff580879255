package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/internal/repository"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testCustomer = UserRef{Id: "cust_1", DisplayName: "Cora", Kind: entity.SenderKindCustomer}
	testVendor   = UserRef{Id: "vend_1", DisplayName: "Vito", Kind: entity.SenderKindVendor}
	testAgent    = UserRef{Id: "agent_1", DisplayName: "Ada", Kind: entity.SenderKindSupportAgent}
	testAgent2   = UserRef{Id: "agent_2", DisplayName: "Abe", Kind: entity.SenderKindSupportAgent}
)

type fixture struct {
	rooms       *repository.MemoryRoomStore
	messages    *repository.MemoryMessageStore
	presence    *Tracker
	broadcaster *Broadcaster
	chat        *ChatService
	queue       *QueueService
}

func newFixture() *fixture {
	rooms := repository.NewMemoryRoomStore()
	messages := repository.NewMemoryMessageStore()
	presence := NewTracker(constant.DefaultTypingTTL)
	broadcaster := NewBroadcaster(1, 1024)
	return &fixture{
		rooms:       rooms,
		messages:    messages,
		presence:    presence,
		broadcaster: broadcaster,
		chat:        NewChatService(rooms, messages, presence, broadcaster),
		queue:       NewQueueService(rooms, messages, broadcaster),
	}
}

func (f *fixture) supportRoom(t *testing.T, initiator UserRef) *entity.RoomInfo {
	t.Helper()
	room, err := f.chat.CreateRoom(context.Background(), &CreateRoomParams{
		Kind:      entity.RoomKindCustomerSupport,
		Initiator: initiator,
	})
	require.NoError(t, err)
	return room
}

func (f *fixture) send(t *testing.T, roomId string, sender UserRef, content string) *entity.MessageInfo {
	t.Helper()
	msg, err := f.chat.SendMessage(context.Background(), roomId, &entity.MessageDraft{
		SenderId:   sender.Id,
		SenderName: sender.DisplayName,
		SenderKind: sender.Kind,
		Content:    content,
	})
	require.NoError(t, err)
	return msg
}

func TestCreateRoom_SupportGetsWelcome(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room := f.supportRoom(t, testCustomer)
	assert.Equal(t, entity.RoomStatusWaitingAgent, room.Status)
	assert.Equal(t, constant.DefaultPriority, room.Priority)
	assert.EqualValues(t, 1, room.MessageCount)
	assert.Equal(t, entity.WelcomeText(entity.RoomKindCustomerSupport), room.LastMessagePreview)

	msgs, err := f.chat.ListRecentMessages(ctx, room.Id, testCustomer, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, entity.ContentKindAutoResponse, msgs[0].ContentKind)
	assert.Equal(t, entity.SenderKindSystem, msgs[0].SenderKind)
	assert.EqualValues(t, 1, msgs[0].Seq)

	// The welcome must not count as unread for the person who opened the room.
	require.Len(t, room.Participants, 1)
	assert.EqualValues(t, 0, room.Participants[0].UnreadCount)
}

func TestCreateRoom_DirectMessageDedupes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: testCustomer,
		Peers:     []UserRef{testVendor},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusActive, first.Status)
	assert.EqualValues(t, 0, first.MessageCount, "direct rooms get no welcome")

	// Same pair from the other side lands in the same room.
	second, err := f.chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: testVendor,
		Peers:     []UserRef{testCustomer},
	})
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)
}

func TestCreateRoom_Invalid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.chat.CreateRoom(ctx, &CreateRoomParams{Kind: "karaoke", Initiator: testCustomer})
	assert.Equal(t, errcode.ErrInvalidParam, err)

	_, err = f.chat.CreateRoom(ctx, &CreateRoomParams{Kind: entity.RoomKindDirectMessage, Initiator: testCustomer})
	assert.Equal(t, errcode.ErrInvalidParam, err, "direct message needs exactly one peer")

	_, err = f.chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: testCustomer,
		Peers:     []UserRef{testCustomer},
	})
	assert.Equal(t, errcode.ErrInvalidParam, err, "no self-DM")

	_, err = f.chat.CreateRoom(ctx, &CreateRoomParams{Kind: entity.RoomKindProductInquiry, Initiator: testCustomer})
	assert.Equal(t, errcode.ErrInvalidParam, err, "product inquiry needs a product id")
}

func TestSendMessage_SeqContiguousUnderConcurrency(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room, err := f.chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindGroupChat,
		Initiator: testCustomer,
		Peers:     []UserRef{testVendor, testAgent},
	})
	require.NoError(t, err)

	const senders = 4
	const perSender = 25
	errCh := make(chan error, senders*perSender)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		sender := []UserRef{testCustomer, testVendor, testAgent, testCustomer}[i]
		wg.Add(1)
		go func(sender UserRef) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_, err := f.chat.SendMessage(ctx, room.Id, &entity.MessageDraft{
					SenderId:   sender.Id,
					SenderName: sender.DisplayName,
					SenderKind: sender.Kind,
					Content:    "hi",
				})
				errCh <- err
			}
		}(sender)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	msgs, err := f.chat.ListMessages(ctx, room.Id, testCustomer, 0, constant.MaxPullLimit)
	require.NoError(t, err)
	require.Len(t, msgs, senders*perSender)

	for i, m := range msgs {
		assert.EqualValues(t, i+1, m.Seq, "seq must be contiguous from 1 in append order")
	}

	got, err := f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.EqualValues(t, senders*perSender, got.MessageCount)

	maxSeq, err := f.chat.RoomMaxSeq(ctx, room.Id)
	require.NoError(t, err)
	assert.EqualValues(t, senders*perSender, maxSeq)
}

func TestSendMessage_IdempotentResend(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room, err := f.chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: testCustomer,
		Peers:     []UserRef{testVendor},
	})
	require.NoError(t, err)

	draft := &entity.MessageDraft{
		ClientMsgId: "c-msg-1",
		SenderId:    testCustomer.Id,
		SenderName:  testCustomer.DisplayName,
		SenderKind:  testCustomer.Kind,
		Content:     "did you get this?",
	}
	first, err := f.chat.SendMessage(ctx, room.Id, draft)
	require.NoError(t, err)

	second, err := f.chat.SendMessage(ctx, room.Id, draft)
	require.NoError(t, err)
	assert.Equal(t, first.Seq, second.Seq)
	assert.Equal(t, first.Id, second.Id)

	got, err := f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.MessageCount, "resend must not append twice")
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room := f.supportRoom(t, testCustomer)

	_, err := f.chat.SendMessage(ctx, "missing", &entity.MessageDraft{
		SenderId: testCustomer.Id, SenderKind: testCustomer.Kind, Content: "hi",
	})
	assert.Equal(t, errcode.ErrRoomNotFound, err)

	_, err = f.chat.SendMessage(ctx, room.Id, &entity.MessageDraft{
		SenderId: "stranger", SenderKind: entity.SenderKindCustomer, Content: "hi",
	})
	assert.Equal(t, errcode.ErrNotParticipant, err)

	_, err = f.chat.CloseTicket(ctx, room.Id, testAgent)
	require.NoError(t, err)

	_, err = f.chat.SendMessage(ctx, room.Id, &entity.MessageDraft{
		SenderId: testCustomer.Id, SenderKind: testCustomer.Kind, Content: "too late",
	})
	assert.Equal(t, errcode.ErrRoomClosed, err)
}

// failingMessageStore fails every Append but behaves normally otherwise.
type failingMessageStore struct {
	MessageStore
}

func (s *failingMessageStore) Append(ctx context.Context, msg *entity.Message) error {
	return errors.New("disk on fire")
}

func TestSendMessage_AppendFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room, err := f.chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: testCustomer,
		Peers:     []UserRef{testVendor},
	})
	require.NoError(t, err)

	chat := NewChatService(f.rooms, &failingMessageStore{f.messages}, f.presence, f.broadcaster)
	msg, err := chat.SendMessage(ctx, room.Id, &entity.MessageDraft{
		SenderId: testCustomer.Id, SenderKind: testCustomer.Kind, Content: "hello?",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.DeliveryFailed, msg.DeliveryStatus)
	assert.Zero(t, msg.Seq)

	// The room summary must not move when the append did not land.
	got, err := f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.MessageCount)
	assert.Empty(t, got.LastMessagePreview)
}

// mutateScopeKey marks the context a room store hands its Mutate
// callback, standing in for the transaction handle the durable
// registry threads the same way.
type mutateScopeKey struct{}

type scopingRoomStore struct {
	*repository.MemoryRoomStore
}

func (s *scopingRoomStore) Mutate(ctx context.Context, id string, fn func(context.Context, *entity.Room) error) (*entity.Room, error) {
	return s.MemoryRoomStore.Mutate(ctx, id, func(ctx context.Context, room *entity.Room) error {
		return fn(context.WithValue(ctx, mutateScopeKey{}, true), room)
	})
}

type scopeCheckingMessageStore struct {
	MessageStore
	mu       sync.Mutex
	inScope  int
	outScope int
}

func (s *scopeCheckingMessageStore) observe(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, _ := ctx.Value(mutateScopeKey{}).(bool); v {
		s.inScope++
	} else {
		s.outScope++
	}
}

func (s *scopeCheckingMessageStore) Append(ctx context.Context, msg *entity.Message) error {
	s.observe(ctx)
	return s.MessageStore.Append(ctx, msg)
}

func (s *scopeCheckingMessageStore) MarkRead(ctx context.Context, roomId, readerId string, at int64) ([]int64, error) {
	s.observe(ctx)
	return s.MessageStore.MarkRead(ctx, roomId, readerId, at)
}

func TestSendMessage_WritesUseMutateScopedContext(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	rooms := &scopingRoomStore{f.rooms}
	messages := &scopeCheckingMessageStore{MessageStore: f.messages}
	chat := NewChatService(rooms, messages, f.presence, f.broadcaster)

	room, err := chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindCustomerSupport,
		Initiator: testCustomer,
	})
	require.NoError(t, err)

	_, err = chat.SendMessage(ctx, room.Id, &entity.MessageDraft{
		SenderId:   testCustomer.Id,
		SenderKind: testCustomer.Kind,
		Content:    "hello",
	})
	require.NoError(t, err)

	_, err = chat.MarkRead(ctx, room.Id, testCustomer.Id)
	require.NoError(t, err)

	// Every message write must run on the context Mutate provides, so
	// in the durable backend it commits or rolls back with the room
	// summary it belongs to.
	assert.Zero(t, messages.outScope)
	assert.Equal(t, 3, messages.inScope, "welcome, send and mark-read all inside the room write")
}

func TestSupportFlow_ClaimAndToggle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room := f.supportRoom(t, testCustomer)
	f.send(t, room.Id, testCustomer, "my order never arrived")

	// Customer messages keep the room in the queue.
	got, err := f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusWaitingAgent, got.Status)

	waiting, err := f.queue.ListWaiting(ctx, nil)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, room.Id, waiting[0].Id)

	claimed, err := f.queue.Claim(ctx, room.Id, testAgent.Id, testAgent.DisplayName)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusActive, claimed.Status)
	assert.Equal(t, testAgent.Id, claimed.AssignedAgentId)
	assert.True(t, claimed.HasMember(testAgent.Id))

	f.send(t, room.Id, testAgent, "checking with the carrier now")
	got, err = f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusWaitingCustomer, got.Status)

	f.send(t, room.Id, testCustomer, "thanks, standing by")
	got, err = f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusWaitingAgent, got.Status)
}

func TestSupportFlow_ReopenAfterResolve(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room := f.supportRoom(t, testCustomer)
	_, err := f.queue.Claim(ctx, room.Id, testAgent.Id, testAgent.DisplayName)
	require.NoError(t, err)

	_, err = f.chat.ResolveTicket(ctx, room.Id, testAgent)
	require.NoError(t, err)

	t.Run("agent offline puts the ticket back in the queue", func(t *testing.T) {
		f.send(t, room.Id, testCustomer, "it broke again")

		got, err := f.rooms.Get(ctx, room.Id)
		require.NoError(t, err)
		assert.Equal(t, entity.RoomStatusWaitingAgent, got.Status)
		assert.Empty(t, got.AssignedAgentId)
	})

	t.Run("online agent keeps the reopened ticket", func(t *testing.T) {
		other := f.supportRoom(t, testVendor)
		_, err := f.queue.Claim(ctx, other.Id, testAgent.Id, testAgent.DisplayName)
		require.NoError(t, err)
		_, err = f.chat.ResolveTicket(ctx, other.Id, testAgent)
		require.NoError(t, err)

		f.presence.SetOnline(other.Id, testAgent.Id, true)
		f.send(t, other.Id, testVendor, "one more thing")

		got, err := f.rooms.Get(ctx, other.Id)
		require.NoError(t, err)
		assert.Equal(t, entity.RoomStatusActive, got.Status)
		assert.Equal(t, testAgent.Id, got.AssignedAgentId)
	})
}

func TestMarkRead_UnreadLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room, err := f.chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: testCustomer,
		Peers:     []UserRef{testVendor},
	})
	require.NoError(t, err)

	first := f.send(t, room.Id, testCustomer, "ping")
	second := f.send(t, room.Id, testCustomer, "ping again")

	got, err := f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Member(testVendor.Id).UnreadCount)
	assert.EqualValues(t, 0, got.Member(testCustomer.Id).UnreadCount)

	ids, err := f.chat.MarkRead(ctx, room.Id, testVendor.Id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{first.Id, second.Id}, ids)

	got, err = f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Member(testVendor.Id).UnreadCount)

	// Idempotent: nothing left to flip.
	ids, err = f.chat.MarkRead(ctx, room.Id, testVendor.Id)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = f.chat.MarkRead(ctx, room.Id, "stranger")
	assert.Equal(t, errcode.ErrNotParticipant, err)
}

func TestLifecycle_Guards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room := f.supportRoom(t, testCustomer)
	_, err := f.queue.Claim(ctx, room.Id, testAgent.Id, testAgent.DisplayName)
	require.NoError(t, err)

	_, err = f.chat.ResolveTicket(ctx, room.Id, testAgent2)
	assert.Equal(t, errcode.ErrNotAssigned, err)

	info, err := f.chat.ResolveTicket(ctx, room.Id, testAgent)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusResolved, info.Status)

	// Hold has no edge from resolved; the call is absorbed and the
	// room comes back untouched.
	info, err = f.chat.HoldTicket(ctx, room.Id, testAgent)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusResolved, info.Status)

	info, err = f.chat.CloseTicket(ctx, room.Id, testAgent)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusClosed, info.Status)
	assert.NotZero(t, info.ClosedAt)

	info, err = f.chat.ResolveTicket(ctx, room.Id, testAgent)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusClosed, info.Status, "resolving a closed ticket is a no-op")

	info, err = f.chat.ArchiveRoom(ctx, room.Id, testAgent)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusArchived, info.Status)

	info, err = f.chat.ArchiveRoom(ctx, room.Id, testAgent)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusArchived, info.Status)
}

func TestLifecycle_AbsorbedTransitionLeavesRoomUntouched(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newRecordingSink()
	f.broadcaster.SetSink(sink)
	f.broadcaster.Run(ctx)

	room := f.supportRoom(t, testCustomer)
	_, err := f.queue.Claim(ctx, room.Id, testAgent.Id, testAgent.DisplayName)
	require.NoError(t, err)
	_, err = f.chat.ResolveTicket(ctx, room.Id, testAgent)
	require.NoError(t, err)

	before, err := f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)

	// Drain the setup events past the single worker before anyone
	// subscribes to the room under test.
	f.broadcaster.Subscribe("flush", "flush-room")
	f.broadcaster.Publish("flush-room", entity.StatusChangedEvent("flush-room", entity.RoomStatusActive))
	require.Eventually(t, func() bool {
		return sink.count("flush") == 1
	}, time.Second, 10*time.Millisecond)

	f.broadcaster.Subscribe("sess_1", room.Id)

	// A second resolve neither persists nor announces anything.
	info, err := f.chat.ResolveTicket(ctx, room.Id, testAgent)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusResolved, info.Status)

	after, err := f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.MessageCount, after.MessageCount)

	// The single worker drains in order, so once the marker lands
	// anything the resolve had published would already be there.
	f.broadcaster.Publish(room.Id, entity.StatusChangedEvent(room.Id, entity.RoomStatusResolved))
	require.Eventually(t, func() bool {
		return sink.count("sess_1") >= 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, sink.count("sess_1"))
}

func TestListRoomsAndAccess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room := f.supportRoom(t, testCustomer)

	rooms, err := f.chat.ListRoomsForUser(ctx, testCustomer.Id, 1, 10)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, room.Id, rooms[0].Id)

	rooms, err = f.chat.ListRoomsForUser(ctx, testVendor.Id, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	// Closing a room drops it from the active listing but not the full one.
	_, err = f.chat.CloseTicket(ctx, room.Id, testAgent)
	require.NoError(t, err)

	rooms, err = f.chat.ListRoomsForUser(ctx, testCustomer.Id, 1, 10)
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	active, err := f.chat.ListActiveRoomsForUser(ctx, testCustomer.Id, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Agents can inspect any room; outsiders cannot.
	_, err = f.chat.GetRoom(ctx, room.Id, testAgent)
	require.NoError(t, err)

	_, err = f.chat.GetRoom(ctx, room.Id, testVendor)
	assert.Equal(t, errcode.ErrNotParticipant, err)

	_, err = f.chat.GetRoom(ctx, "missing", testAgent)
	assert.Equal(t, errcode.ErrRoomNotFound, err)
}

func TestSearchMessages(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room, err := f.chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: testCustomer,
		Peers:     []UserRef{testVendor},
	})
	require.NoError(t, err)

	f.send(t, room.Id, testCustomer, "where is my refund")
	f.send(t, room.Id, testVendor, "the refund was issued yesterday")
	f.send(t, room.Id, testCustomer, "ok thanks")

	msgs, err := f.chat.SearchMessages(ctx, room.Id, testCustomer, "refund", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = f.chat.SearchMessages(ctx, room.Id, testCustomer, "", 10)
	assert.Equal(t, errcode.ErrInvalidParam, err)
}
