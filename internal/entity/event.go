package entity

// EventKind classifies events pushed to room subscribers.
type EventKind string

const (
	EventNewMessage      EventKind = "new_message"
	EventStatusChanged   EventKind = "status_changed"
	EventTyping          EventKind = "typing"
	EventReadReceipt     EventKind = "read_receipt"
	EventPresenceChanged EventKind = "presence_changed"
	EventQueueStats      EventKind = "queue_stats"
)

// QueueChannel is the pseudo-room id agent dashboards subscribe to for
// queue depth updates.
const QueueChannel = "queue"

// Event is a single broadcast unit. Delivery is best-effort and
// at-most-once per connected session; disconnected clients reconcile
// via a seq-based message pull on reconnect.
type Event struct {
	Kind       EventKind    `json:"kind"`
	RoomId     string       `json:"room_id"`
	Message    *MessageInfo `json:"message,omitempty"`
	Status     RoomStatus   `json:"status,omitempty"`
	UserId     string       `json:"user_id,omitempty"`
	Typing     bool         `json:"typing,omitempty"`
	Online     bool         `json:"online,omitempty"`
	MessageIds []int64      `json:"message_ids,omitempty"`
	Waiting    int          `json:"waiting,omitempty"`
	Urgent     int          `json:"urgent,omitempty"`
	High       int          `json:"high,omitempty"`
	At         int64        `json:"at"`
}

// NewMessageEvent builds the broadcast payload for an appended message.
func NewMessageEvent(msg *Message) *Event {
	return &Event{
		Kind:    EventNewMessage,
		RoomId:  msg.RoomId,
		Message: msg.ToMessageInfo(),
		At:      NowUnixMilli(),
	}
}

// StatusChangedEvent builds the broadcast payload for a status transition.
func StatusChangedEvent(roomId string, status RoomStatus) *Event {
	return &Event{
		Kind:   EventStatusChanged,
		RoomId: roomId,
		Status: status,
		At:     NowUnixMilli(),
	}
}

// ReadReceiptEvent builds the broadcast payload for a mark-read call.
func ReadReceiptEvent(roomId, userId string, messageIds []int64) *Event {
	return &Event{
		Kind:       EventReadReceipt,
		RoomId:     roomId,
		UserId:     userId,
		MessageIds: messageIds,
		At:         NowUnixMilli(),
	}
}

// TypingEvent builds the broadcast payload for a typing indicator.
func TypingEvent(roomId, userId string, typing bool) *Event {
	return &Event{
		Kind:   EventTyping,
		RoomId: roomId,
		UserId: userId,
		Typing: typing,
		At:     NowUnixMilli(),
	}
}

// QueueStatsEvent builds the broadcast payload for a queue depth update.
func QueueStatsEvent(waiting, urgent, high int) *Event {
	return &Event{
		Kind:    EventQueueStats,
		RoomId:  QueueChannel,
		Waiting: waiting,
		Urgent:  urgent,
		High:    high,
		At:      NowUnixMilli(),
	}
}

// PresenceChangedEvent builds the broadcast payload for an online change.
func PresenceChangedEvent(roomId, userId string, online bool) *Event {
	return &Event{
		Kind:   EventPresenceChanged,
		RoomId: roomId,
		UserId: userId,
		Online: online,
		At:     NowUnixMilli(),
	}
}
