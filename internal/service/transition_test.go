package service

import (
	"testing"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/stretchr/testify/assert"
)

var allStatuses = []entity.RoomStatus{
	entity.RoomStatusActive,
	entity.RoomStatusWaitingCustomer,
	entity.RoomStatusWaitingAgent,
	entity.RoomStatusOnHold,
	entity.RoomStatusResolved,
	entity.RoomStatusClosed,
	entity.RoomStatusArchived,
}

var allTriggers = []Trigger{
	TriggerAgentClaim,
	TriggerCustomerMessage,
	TriggerAgentMessage,
	TriggerResolve,
	TriggerHold,
	TriggerClose,
	TriggerArchive,
}

func TestNext_Closure(t *testing.T) {
	known := make(map[entity.RoomStatus]bool, len(allStatuses))
	for _, s := range allStatuses {
		known[s] = true
	}

	for _, s := range allStatuses {
		for _, trig := range allTriggers {
			next, _ := Next(s, trig)
			assert.True(t, known[next], "Next(%s, %s) produced unknown status %s", s, trig, next)
		}
	}
}

func TestNext_ArchivedAbsorbing(t *testing.T) {
	for _, trig := range allTriggers {
		next, ok := Next(entity.RoomStatusArchived, trig)
		assert.False(t, ok, "archived must reject %s", trig)
		assert.Equal(t, entity.RoomStatusArchived, next)
	}
}

func TestNext_ClosedOnlyArchives(t *testing.T) {
	for _, trig := range allTriggers {
		next, ok := Next(entity.RoomStatusClosed, trig)
		if trig == TriggerArchive {
			assert.True(t, ok)
			assert.Equal(t, entity.RoomStatusArchived, next)
			continue
		}
		assert.False(t, ok, "closed must reject %s", trig)
		assert.Equal(t, entity.RoomStatusClosed, next)
	}
}

func TestNext_ClaimOnlyFromWaitingAgent(t *testing.T) {
	for _, s := range allStatuses {
		next, ok := Next(s, TriggerAgentClaim)
		if s == entity.RoomStatusWaitingAgent {
			assert.True(t, ok)
			assert.Equal(t, entity.RoomStatusActive, next)
		} else {
			assert.False(t, ok, "claim must be illegal from %s", s)
		}
	}
}

func TestNext_MessageToggles(t *testing.T) {
	cases := []struct {
		name string
		cur  entity.RoomStatus
		trig Trigger
		want entity.RoomStatus
		ok   bool
	}{
		{"customer msg in active waits for agent", entity.RoomStatusActive, TriggerCustomerMessage, entity.RoomStatusWaitingAgent, true},
		{"customer msg answers waiting_customer", entity.RoomStatusWaitingCustomer, TriggerCustomerMessage, entity.RoomStatusWaitingAgent, true},
		{"customer msg keeps queue position", entity.RoomStatusWaitingAgent, TriggerCustomerMessage, entity.RoomStatusWaitingAgent, true},
		{"customer msg reopens resolved", entity.RoomStatusResolved, TriggerCustomerMessage, entity.RoomStatusActive, true},
		{"customer msg illegal on hold", entity.RoomStatusOnHold, TriggerCustomerMessage, entity.RoomStatusOnHold, false},
		{"agent msg in active waits for customer", entity.RoomStatusActive, TriggerAgentMessage, entity.RoomStatusWaitingCustomer, true},
		{"agent msg answers waiting_agent", entity.RoomStatusWaitingAgent, TriggerAgentMessage, entity.RoomStatusWaitingCustomer, true},
		{"agent msg keeps waiting_customer", entity.RoomStatusWaitingCustomer, TriggerAgentMessage, entity.RoomStatusWaitingCustomer, true},
		{"agent msg reopens resolved", entity.RoomStatusResolved, TriggerAgentMessage, entity.RoomStatusActive, true},
		{"resolve from on_hold", entity.RoomStatusOnHold, TriggerResolve, entity.RoomStatusResolved, true},
		{"resolve from resolved illegal", entity.RoomStatusResolved, TriggerResolve, entity.RoomStatusResolved, false},
		{"hold from resolved illegal", entity.RoomStatusResolved, TriggerHold, entity.RoomStatusResolved, false},
		{"close from resolved", entity.RoomStatusResolved, TriggerClose, entity.RoomStatusClosed, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			next, ok := Next(c.cur, c.trig)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.want, next)
		})
	}
}

func TestMessageTrigger(t *testing.T) {
	trig, ok := MessageTrigger(entity.SenderKindCustomer)
	assert.True(t, ok)
	assert.Equal(t, TriggerCustomerMessage, trig)

	trig, ok = MessageTrigger(entity.SenderKindVendor)
	assert.True(t, ok)
	assert.Equal(t, TriggerCustomerMessage, trig)

	trig, ok = MessageTrigger(entity.SenderKindSupportAgent)
	assert.True(t, ok)
	assert.Equal(t, TriggerAgentMessage, trig)

	trig, ok = MessageTrigger(entity.SenderKindAdmin)
	assert.True(t, ok)
	assert.Equal(t, TriggerAgentMessage, trig)

	_, ok = MessageTrigger(entity.SenderKindSystem)
	assert.False(t, ok)
}
