// Package queue buffers chat messages for room members who had no open
// connection at broadcast time. Queues are in-memory, bounded per user
// and drained FIFO on the next room join.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"collabhub/pkg/types"
)

type OfflineQueue struct {
	mu         sync.Mutex
	byUser     map[string][]types.QueuedMessage
	maxPerUser int
	dropped    uint64
}

func NewOfflineQueue(maxPerUser int) *OfflineQueue {
	return &OfflineQueue{
		byUser:     make(map[string][]types.QueuedMessage),
		maxPerUser: maxPerUser,
	}
}

// Enqueue stores a message for an offline user. When the user's queue
// is full the oldest entry is dropped to make room.
func (q *OfflineQueue) Enqueue(userID string, msg types.ChatMessage) types.QueuedMessage {
	queued := types.QueuedMessage{
		ID:        uuid.NewString(),
		UserID:    userID,
		RoomID:    msg.RoomID,
		Message:   msg,
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.byUser[userID]
	if len(entries) >= q.maxPerUser {
		overflow := len(entries) - q.maxPerUser + 1
		entries = append(entries[:0:0], entries[overflow:]...)
		q.dropped += uint64(overflow)
	}
	q.byUser[userID] = append(entries, queued)
	return queued
}

// Drain removes and returns all queued messages for a user in arrival
// order. A second Drain returns nothing; delivery happens at most once.
func (q *OfflineQueue) Drain(userID string) []types.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.byUser[userID]
	if len(entries) == 0 {
		return nil
	}
	delete(q.byUser, userID)
	for i := range entries {
		entries[i].Delivered = true
	}
	return entries
}

// Len returns the number of messages queued for a user.
func (q *OfflineQueue) Len(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byUser[userID])
}

// Stats returns totals for the stats endpoint.
func (q *OfflineQueue) Stats() (users int, messages int, dropped uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entries := range q.byUser {
		messages += len(entries)
	}
	return len(q.byUser), messages, q.dropped
}
