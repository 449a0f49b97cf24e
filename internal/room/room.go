package room

import (
	"strings"
	"time"

	"collabhub/pkg/types"
)

// Room holds membership, permissions, locks and the message history
// ring for one room. All fields are guarded by the registry; callers
// never touch a Room directly.
type room struct {
	id        string
	name      string
	roomType  types.RoomType
	createdBy string
	createdAt time.Time
	settings  map[string]any

	// members is keyed by user ID; memberSockets refcounts the sockets
	// each member has joined through, so a user with two tabs stays a
	// member until both leave.
	members       map[string]*types.RoomMember
	memberSockets map[string]map[string]struct{}

	// permissions maps user ID to the set of granted permissions.
	// Grants persist after the user leaves so offline queueing and
	// private-room rejoin keep working.
	permissions map[string]map[string]struct{}

	locks   map[string]types.ResourceLock
	history []types.ChatMessage

	emptySince time.Time
}

func lockKey(resourceType, resourceID string) string {
	return resourceType + ":" + resourceID
}

// TypeForRoomID infers a room's class from its ID prefix, used when a
// join auto-creates the room.
func TypeForRoomID(roomID string) types.RoomType {
	switch {
	case strings.HasPrefix(roomID, "planning_"):
		return types.RoomTypePlanning
	case strings.HasPrefix(roomID, "content_"):
		return types.RoomTypeContentGeneration
	default:
		return types.RoomTypeChat
	}
}

// AutoCreatable reports whether a join may create the room on demand.
func AutoCreatable(roomID string) bool {
	return strings.HasPrefix(roomID, "chat_") ||
		strings.HasPrefix(roomID, "planning_") ||
		strings.HasPrefix(roomID, "content_")
}

func (r *room) hasPermission(userID, perm string) bool {
	perms := r.permissions[userID]
	if perms == nil {
		return false
	}
	if _, ok := perms[types.PermAdmin]; ok {
		return true
	}
	_, ok := perms[perm]
	return ok
}

func (r *room) grant(userID string, perms ...string) {
	set := r.permissions[userID]
	if set == nil {
		set = make(map[string]struct{})
		r.permissions[userID] = set
	}
	for _, p := range perms {
		set[p] = struct{}{}
	}
}

func (r *room) appendHistory(msg types.ChatMessage, capacity int) {
	r.history = append(r.history, msg)
	if len(r.history) > capacity {
		// Drop the oldest entries; copy keeps the backing array from
		// pinning evicted messages.
		overflow := len(r.history) - capacity
		r.history = append(r.history[:0:0], r.history[overflow:]...)
	}
}

func (r *room) activeUsers() []types.RoomMember {
	users := make([]types.RoomMember, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, *m)
	}
	return users
}

func (r *room) snapshot() types.RoomInfo {
	return types.RoomInfo{
		ID:          r.id,
		Name:        r.name,
		Type:        r.roomType,
		CreatedBy:   r.createdBy,
		CreatedAt:   r.createdAt,
		UserCount:   len(r.members),
		ActiveUsers: r.activeUsers(),
		Settings:    r.settings,
	}
}
