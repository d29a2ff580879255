package service

import "github.com/parleyhq/parley/internal/entity"

// Trigger is an input to the room state machine.
type Trigger string

const (
	TriggerAgentClaim      Trigger = "agent_claim"
	TriggerCustomerMessage Trigger = "customer_message"
	TriggerAgentMessage    Trigger = "agent_message"
	TriggerResolve         Trigger = "resolve"
	TriggerHold            Trigger = "hold"
	TriggerClose           Trigger = "close"
	TriggerArchive         Trigger = "archive"
)

// MessageTrigger maps a sender kind to its state-machine trigger.
// System messages carry no trigger.
func MessageTrigger(kind entity.SenderKind) (Trigger, bool) {
	switch {
	case kind.IsCustomerSide():
		return TriggerCustomerMessage, true
	case kind.IsAgentSide():
		return TriggerAgentMessage, true
	}
	return "", false
}

// Next applies a trigger to a room status and returns the resulting
// status plus whether the transition is legal. Illegal transitions
// return the current status unchanged; callers absorb them (log, no
// error) because message delivery must never fail on a state mismatch.
//
// CLOSED and ARCHIVED are terminal; only RESOLVED reopens on a new
// message. The caller downgrades a reopen to WAITING_AGENT when the
// previously assigned agent is offline.
func Next(cur entity.RoomStatus, trig Trigger) (entity.RoomStatus, bool) {
	if cur == entity.RoomStatusArchived {
		return cur, false
	}
	if trig == TriggerArchive {
		return entity.RoomStatusArchived, true
	}
	if cur == entity.RoomStatusClosed {
		return cur, false
	}

	switch trig {
	case TriggerAgentClaim:
		if cur == entity.RoomStatusWaitingAgent {
			return entity.RoomStatusActive, true
		}

	case TriggerCustomerMessage:
		switch cur {
		case entity.RoomStatusActive, entity.RoomStatusWaitingCustomer:
			return entity.RoomStatusWaitingAgent, true
		case entity.RoomStatusWaitingAgent:
			// Further customer messages do not toggle the queue entry.
			return cur, true
		case entity.RoomStatusResolved:
			return entity.RoomStatusActive, true
		}

	case TriggerAgentMessage:
		switch cur {
		case entity.RoomStatusActive, entity.RoomStatusWaitingAgent:
			return entity.RoomStatusWaitingCustomer, true
		case entity.RoomStatusWaitingCustomer:
			return cur, true
		case entity.RoomStatusResolved:
			return entity.RoomStatusActive, true
		}

	case TriggerResolve:
		switch cur {
		case entity.RoomStatusActive, entity.RoomStatusWaitingCustomer,
			entity.RoomStatusWaitingAgent, entity.RoomStatusOnHold:
			return entity.RoomStatusResolved, true
		}

	case TriggerHold:
		switch cur {
		case entity.RoomStatusActive, entity.RoomStatusWaitingCustomer, entity.RoomStatusWaitingAgent:
			return entity.RoomStatusOnHold, true
		}

	case TriggerClose:
		switch cur {
		case entity.RoomStatusActive, entity.RoomStatusWaitingCustomer,
			entity.RoomStatusWaitingAgent, entity.RoomStatusOnHold, entity.RoomStatusResolved:
			return entity.RoomStatusClosed, true
		}
	}

	return cur, false
}
