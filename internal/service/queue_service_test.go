package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWaitingRoom(t *testing.T, f *fixture, id string, kind entity.RoomKind, priority int, createdAt int64) {
	t.Helper()
	room := &entity.Room{
		Id:        id,
		Kind:      kind,
		Status:    entity.RoomStatusWaitingAgent,
		Priority:  priority,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	room.AddMember("cust_"+id, "Customer", entity.SenderKindCustomer, createdAt)
	_, err := f.rooms.Create(context.Background(), room)
	require.NoError(t, err)
}

func TestListWaiting_Ordering(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seedWaitingRoom(t, f, "r_old_normal", entity.RoomKindCustomerSupport, constant.PriorityNormal, 1000)
	seedWaitingRoom(t, f, "r_new_normal", entity.RoomKindOrderInquiry, constant.PriorityNormal, 2000)
	seedWaitingRoom(t, f, "r_urgent", entity.RoomKindCustomerSupport, constant.PriorityUrgent, 3000)
	seedWaitingRoom(t, f, "r_high", entity.RoomKindVendorSupport, constant.PriorityHigh, 500)

	waiting, err := f.queue.ListWaiting(ctx, nil)
	require.NoError(t, err)
	require.Len(t, waiting, 4)

	var order []string
	for _, r := range waiting {
		order = append(order, r.Id)
	}
	assert.Equal(t, []string{"r_urgent", "r_high", "r_old_normal", "r_new_normal"}, order,
		"priority wins, then FIFO within equal priority")
}

func TestListWaiting_KindFilter(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seedWaitingRoom(t, f, "r_support", entity.RoomKindCustomerSupport, constant.PriorityNormal, 1000)
	seedWaitingRoom(t, f, "r_order", entity.RoomKindOrderInquiry, constant.PriorityNormal, 2000)

	waiting, err := f.queue.ListWaiting(ctx, []entity.RoomKind{entity.RoomKindOrderInquiry})
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "r_order", waiting[0].Id)
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room := f.supportRoom(t, testCustomer)

	const agents = 20
	results := make(chan error, agents)
	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.queue.Claim(ctx, room.Id, fmt.Sprintf("agent_%d", n), fmt.Sprintf("Agent %d", n))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, rejections int
	for err := range results {
		switch err {
		case nil:
			wins++
		case errcode.ErrAlreadyClaimed:
			rejections++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, agents-1, rejections)

	got, err := f.rooms.Get(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, entity.RoomStatusActive, got.Status)
	assert.NotEmpty(t, got.AssignedAgentId)
	assert.True(t, got.HasMember(got.AssignedAgentId))

	waiting, err := f.queue.ListWaiting(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, waiting, "a claimed room leaves the queue")
}

func TestClaim_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.queue.Claim(ctx, "missing", testAgent.Id, testAgent.DisplayName)
	assert.Equal(t, errcode.ErrRoomNotFound, err)

	room, err := f.chat.CreateRoom(ctx, &CreateRoomParams{
		Kind:      entity.RoomKindDirectMessage,
		Initiator: testCustomer,
		Peers:     []UserRef{testVendor},
	})
	require.NoError(t, err)

	_, err = f.queue.Claim(ctx, room.Id, testAgent.Id, testAgent.DisplayName)
	assert.Equal(t, errcode.ErrAlreadyClaimed, err, "active rooms are not claimable")
}

func TestClaim_AppendsAuditLine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	room := f.supportRoom(t, testCustomer)
	_, err := f.queue.Claim(ctx, room.Id, testAgent.Id, testAgent.DisplayName)
	require.NoError(t, err)

	msgs, err := f.chat.ListRecentMessages(ctx, room.Id, testAgent, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, entity.ContentKindSystem, msgs[1].ContentKind)
	assert.Contains(t, msgs[1].Content, testAgent.DisplayName)
}

func TestListAgentTickets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := f.supportRoom(t, testCustomer)
	second := f.supportRoom(t, testVendor)

	_, err := f.queue.Claim(ctx, first.Id, testAgent.Id, testAgent.DisplayName)
	require.NoError(t, err)
	_, err = f.queue.Claim(ctx, second.Id, testAgent.Id, testAgent.DisplayName)
	require.NoError(t, err)

	tickets, err := f.queue.ListAgentTickets(ctx, testAgent.Id)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)

	// Closed tickets drop off the agent's list.
	_, err = f.chat.CloseTicket(ctx, first.Id, testAgent)
	require.NoError(t, err)

	tickets, err = f.queue.ListAgentTickets(ctx, testAgent.Id)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, second.Id, tickets[0].Id)
}

func TestQueueStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seedWaitingRoom(t, f, "r1", entity.RoomKindCustomerSupport, constant.PriorityNormal, 1000)
	seedWaitingRoom(t, f, "r2", entity.RoomKindCustomerSupport, constant.PriorityHigh, 2000)
	seedWaitingRoom(t, f, "r3", entity.RoomKindOrderInquiry, constant.PriorityUrgent, 3000)

	stats, err := f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.WaitingCount)
	assert.Equal(t, 1, stats.UrgentCount)
	assert.Equal(t, 2, stats.HighPriorityCount)
}
