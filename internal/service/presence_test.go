package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Online(t *testing.T) {
	tr := NewTracker(5 * time.Second)

	assert.False(t, tr.IsOnline("r1", "alice"))

	tr.SetOnline("r1", "alice", true)
	assert.True(t, tr.IsOnline("r1", "alice"))
	assert.True(t, tr.IsOnlineAnywhere("alice"))
	assert.False(t, tr.IsOnline("r2", "alice"))
	assert.ElementsMatch(t, []string{"alice"}, tr.Online("r1"))

	tr.SetOnline("r1", "alice", false)
	assert.False(t, tr.IsOnline("r1", "alice"))
	assert.False(t, tr.IsOnlineAnywhere("alice"))
	assert.Empty(t, tr.Online("r1"))
}

func TestTracker_TypingExpiry(t *testing.T) {
	now := time.Now()
	tr := NewTracker(5 * time.Second)
	tr.now = func() time.Time { return now }

	tr.SetTyping("r1", "alice", true)
	tr.SetTyping("r1", "bob", true)
	assert.ElementsMatch(t, []string{"alice", "bob"}, tr.Typing("r1"))

	// bob refreshes, alice's indicator ages out
	now = now.Add(3 * time.Second)
	tr.SetTyping("r1", "bob", true)
	now = now.Add(3 * time.Second)
	assert.ElementsMatch(t, []string{"bob"}, tr.Typing("r1"))

	now = now.Add(6 * time.Second)
	assert.Empty(t, tr.Typing("r1"))
}

func TestTracker_StopTyping(t *testing.T) {
	tr := NewTracker(5 * time.Second)

	tr.SetTyping("r1", "alice", true)
	tr.SetTyping("r1", "alice", false)
	assert.Empty(t, tr.Typing("r1"))
}

func TestTracker_OfflineClearsTyping(t *testing.T) {
	tr := NewTracker(5 * time.Second)

	tr.SetOnline("r1", "alice", true)
	tr.SetTyping("r1", "alice", true)
	tr.SetOnline("r1", "alice", false)
	assert.Empty(t, tr.Typing("r1"))
}

func TestTracker_DropRoom(t *testing.T) {
	tr := NewTracker(5 * time.Second)

	tr.SetOnline("r1", "alice", true)
	tr.SetTyping("r1", "alice", true)
	tr.DropRoom("r1")

	assert.False(t, tr.IsOnline("r1", "alice"))
	assert.Empty(t, tr.Typing("r1"))
}
