package service

import (
	"context"
	"sync"

	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/entity"
)

// Broadcaster fans events out to every session subscribed to a room.
// Delivery is best-effort and at-most-once per session: a full queue
// drops the event and a failed session delivery is swallowed, because
// disconnected clients reconcile through a seq-based message pull.
type Broadcaster struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]struct{} // roomId -> sessionIds
	sessions map[string]map[string]struct{} // sessionId -> roomIds

	sink      SessionSink
	tasks     chan *publishTask
	workerNum int
}

type publishTask struct {
	roomId string
	event  *entity.Event
}

// NewBroadcaster creates a Broadcaster with the given worker pool size
// and task queue capacity.
func NewBroadcaster(workerNum, queueSize int) *Broadcaster {
	if workerNum <= 0 {
		workerNum = 10
	}
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Broadcaster{
		rooms:     make(map[string]map[string]struct{}),
		sessions:  make(map[string]map[string]struct{}),
		tasks:     make(chan *publishTask, queueSize),
		workerNum: workerNum,
	}
}

// SetSink sets the transport-side delivery sink.
func (b *Broadcaster) SetSink(sink SessionSink) {
	b.sink = sink
}

// Run starts the delivery workers.
func (b *Broadcaster) Run(ctx context.Context) {
	for i := 0; i < b.workerNum; i++ {
		go b.deliverLoop(ctx)
	}
	log.Info("started %d broadcast workers", b.workerNum)
}

func (b *Broadcaster) deliverLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-b.tasks:
			b.process(ctx, task)
		}
	}
}

func (b *Broadcaster) process(ctx context.Context, task *publishTask) {
	if b.sink == nil {
		return
	}

	for _, sessionId := range b.Subscribers(task.roomId) {
		if err := b.sink.Deliver(sessionId, task.event); err != nil {
			log.CtxDebug(ctx, "deliver failed: session_id=%s, room_id=%s, kind=%s, error=%v",
				sessionId, task.roomId, task.event.Kind, err)
		}
	}
}

// Subscribe registers a session for a room's events.
func (b *Broadcaster) Subscribe(sessionId, roomId string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rooms[roomId] == nil {
		b.rooms[roomId] = make(map[string]struct{})
	}
	b.rooms[roomId][sessionId] = struct{}{}

	if b.sessions[sessionId] == nil {
		b.sessions[sessionId] = make(map[string]struct{})
	}
	b.sessions[sessionId][roomId] = struct{}{}
}

// Unsubscribe removes a session from a room.
func (b *Broadcaster) Unsubscribe(sessionId, roomId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(sessionId, roomId)
}

func (b *Broadcaster) unsubscribeLocked(sessionId, roomId string) {
	if subs := b.rooms[roomId]; subs != nil {
		delete(subs, sessionId)
		if len(subs) == 0 {
			delete(b.rooms, roomId)
		}
	}
	if roomIds := b.sessions[sessionId]; roomIds != nil {
		delete(roomIds, roomId)
		if len(roomIds) == 0 {
			delete(b.sessions, sessionId)
		}
	}
}

// UnsubscribeAll removes a session from every room it follows and
// returns the rooms it was subscribed to (disconnect cleanup).
func (b *Broadcaster) UnsubscribeAll(sessionId string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	roomIds := make([]string, 0, len(b.sessions[sessionId]))
	for roomId := range b.sessions[sessionId] {
		roomIds = append(roomIds, roomId)
	}
	for _, roomId := range roomIds {
		b.unsubscribeLocked(sessionId, roomId)
	}
	return roomIds
}

// Subscribers returns a copy of the session ids subscribed to a room.
func (b *Broadcaster) Subscribers(roomId string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.rooms[roomId]
	out := make([]string, 0, len(subs))
	for sessionId := range subs {
		out = append(out, sessionId)
	}
	return out
}

// Publish queues an event for fan-out to the room's subscribers. It
// never blocks: callers hold no locks but sit on the request path.
func (b *Broadcaster) Publish(roomId string, event *entity.Event) {
	task := &publishTask{roomId: roomId, event: event}
	select {
	case b.tasks <- task:
	default:
		log.Warn("broadcast queue full, event dropped: room_id=%s, kind=%s", roomId, event.Kind)
	}
}
