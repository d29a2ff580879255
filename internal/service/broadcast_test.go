package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events map[string][]*entity.Event // sessionId -> delivered events
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(map[string][]*entity.Event)}
}

func (s *recordingSink) Deliver(sessionId string, event *entity.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionId] = append(s.events[sessionId], event)
	return nil
}

func (s *recordingSink) count(sessionId string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[sessionId])
}

func TestBroadcaster_SubscribeBookkeeping(t *testing.T) {
	b := NewBroadcaster(1, 16)

	b.Subscribe("s1", "r1")
	b.Subscribe("s1", "r2")
	b.Subscribe("s2", "r1")

	assert.ElementsMatch(t, []string{"s1", "s2"}, b.Subscribers("r1"))
	assert.ElementsMatch(t, []string{"s1"}, b.Subscribers("r2"))

	b.Unsubscribe("s1", "r1")
	assert.ElementsMatch(t, []string{"s2"}, b.Subscribers("r1"))

	rooms := b.UnsubscribeAll("s1")
	assert.ElementsMatch(t, []string{"r2"}, rooms)
	assert.Empty(t, b.Subscribers("r2"))
}

func TestBroadcaster_PublishFansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newRecordingSink()
	b := NewBroadcaster(2, 16)
	b.SetSink(sink)
	b.Run(ctx)

	b.Subscribe("s1", "r1")
	b.Subscribe("s2", "r1")
	b.Subscribe("s3", "r2")

	b.Publish("r1", entity.StatusChangedEvent("r1", entity.RoomStatusActive))

	require.Eventually(t, func() bool {
		return sink.count("s1") == 1 && sink.count("s2") == 1
	}, time.Second, 10*time.Millisecond)

	assert.Zero(t, sink.count("s3"), "other rooms must not receive the event")
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroadcaster(1, 1)
	b.SetSink(newRecordingSink())
	b.Run(ctx)

	// Must not block or panic, even when the queue backs up.
	for i := 0; i < 10; i++ {
		b.Publish("ghost", entity.StatusChangedEvent("ghost", entity.RoomStatusClosed))
	}
}
