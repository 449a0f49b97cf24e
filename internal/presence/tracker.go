// Package presence tracks ephemeral per-room signals: typing
// indicators and cursor positions. State lives only in memory and is
// dropped when the user leaves or disconnects.
package presence

import (
	"sort"
	"sync"
	"time"

	"collabhub/pkg/types"
)

type Tracker struct {
	mu      sync.RWMutex
	typing  map[string]map[string]types.TypingIndicator
	cursors map[string]map[string]types.CursorPosition
}

func NewTracker() *Tracker {
	return &Tracker{
		typing:  make(map[string]map[string]types.TypingIndicator),
		cursors: make(map[string]map[string]types.CursorPosition),
	}
}

// SetTyping marks or clears the user's typing state and returns the
// room's current typing user list. Repeated starts refresh the
// timestamp, last write wins.
func (t *Tracker) SetTyping(roomID, userID string, typing bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.typing[roomID]
	if typing {
		if room == nil {
			room = make(map[string]types.TypingIndicator)
			t.typing[roomID] = room
		}
		room[userID] = types.TypingIndicator{
			UserID:    userID,
			RoomID:    roomID,
			StartedAt: time.Now(),
		}
	} else {
		delete(room, userID)
		if len(room) == 0 {
			delete(t.typing, roomID)
		}
	}
	return typingListLocked(t.typing[roomID])
}

func typingListLocked(room map[string]types.TypingIndicator) []string {
	users := make([]string, 0, len(room))
	for id := range room {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// TypingUsers returns the sorted list of users typing in the room.
func (t *Tracker) TypingUsers(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return typingListLocked(t.typing[roomID])
}

// SetCursor overwrites the user's cursor position in a room and
// returns the stored record, timestamp included, so callers broadcast
// exactly what was stored.
func (t *Tracker) SetCursor(pos types.CursorPosition) types.CursorPosition {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.cursors[pos.RoomID]
	if room == nil {
		room = make(map[string]types.CursorPosition)
		t.cursors[pos.RoomID] = room
	}
	pos.Timestamp = time.Now().UTC()
	room[pos.UserID] = pos
	return pos
}

// Cursors returns a snapshot of cursor positions in the room.
func (t *Tracker) Cursors(roomID string) []types.CursorPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room := t.cursors[roomID]
	out := make([]types.CursorPosition, 0, len(room))
	for _, pos := range room {
		out = append(out, pos)
	}
	return out
}

// ClearUser drops the user's typing and cursor state in one room,
// used when they leave it.
func (t *Tracker) ClearUser(roomID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearUserLocked(roomID, userID)
}

func (t *Tracker) clearUserLocked(roomID, userID string) {
	if room := t.typing[roomID]; room != nil {
		delete(room, userID)
		if len(room) == 0 {
			delete(t.typing, roomID)
		}
	}
	if room := t.cursors[roomID]; room != nil {
		delete(room, userID)
		if len(room) == 0 {
			delete(t.cursors, roomID)
		}
	}
}

// ClearUserEverywhere drops the user's state in every room, used on
// disconnect.
func (t *Tracker) ClearUserEverywhere(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for roomID := range t.typing {
		t.clearUserLocked(roomID, userID)
	}
	for roomID := range t.cursors {
		t.clearUserLocked(roomID, userID)
	}
}

// ClearRoom drops all presence state for a room, used when the room is
// swept.
func (t *Tracker) ClearRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.typing, roomID)
	delete(t.cursors, roomID)
}
