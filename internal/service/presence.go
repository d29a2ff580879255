package service

import (
	"sync"
	"time"
)

// Tracker holds ephemeral per-room presence and typing state. Nothing
// here is persisted; a process restart legitimately loses it. Typing
// entries expire lazily on read when the TTL elapses without a refresh,
// so a client that disconnects mid-keystroke never leaves a stuck
// "is typing" indicator.
type Tracker struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]*presenceEntry
	typingTTL time.Duration
	now       func() time.Time
}

type presenceEntry struct {
	online      bool
	typingUntil time.Time
}

// NewTracker creates a Tracker with the given typing TTL.
func NewTracker(typingTTL time.Duration) *Tracker {
	if typingTTL <= 0 {
		typingTTL = 5 * time.Second
	}
	return &Tracker{
		rooms:     make(map[string]map[string]*presenceEntry),
		typingTTL: typingTTL,
		now:       time.Now,
	}
}

func (t *Tracker) entry(roomId, userId string) *presenceEntry {
	room, ok := t.rooms[roomId]
	if !ok {
		room = make(map[string]*presenceEntry)
		t.rooms[roomId] = room
	}
	e, ok := room[userId]
	if !ok {
		e = &presenceEntry{}
		room[userId] = e
	}
	return e
}

// SetOnline marks a participant online or offline in a room.
func (t *Tracker) SetOnline(roomId, userId string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(roomId, userId)
	e.online = online
	if !online {
		e.typingUntil = time.Time{}
	}
}

// SetTyping starts or stops a typing indicator. A started indicator
// expires after the tracker's TTL unless refreshed.
func (t *Tracker) SetTyping(roomId, userId string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(roomId, userId)
	if typing {
		e.typingUntil = t.now().Add(t.typingTTL)
	} else {
		e.typingUntil = time.Time{}
	}
}

// IsOnline reports whether a participant is online in a room.
func (t *Tracker) IsOnline(roomId, userId string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room, ok := t.rooms[roomId]
	if !ok {
		return false
	}
	e, ok := room[userId]
	return ok && e.online
}

// IsOnlineAnywhere reports whether a user is online in any room.
func (t *Tracker) IsOnlineAnywhere(userId string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, room := range t.rooms {
		if e, ok := room[userId]; ok && e.online {
			return true
		}
	}
	return false
}

// Online returns the ids of participants currently online in a room.
func (t *Tracker) Online(roomId string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for userId, e := range t.rooms[roomId] {
		if e.online {
			out = append(out, userId)
		}
	}
	return out
}

// Typing returns the ids of participants with a live typing indicator,
// expiring stale entries as it goes.
func (t *Tracker) Typing(roomId string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var out []string
	for userId, e := range t.rooms[roomId] {
		if e.typingUntil.IsZero() {
			continue
		}
		if e.typingUntil.Before(now) {
			e.typingUntil = time.Time{}
			continue
		}
		out = append(out, userId)
	}
	return out
}

// DropRoom discards all ephemeral state for a room (archive/cleanup).
func (t *Tracker) DropRoom(roomId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomId)
}
