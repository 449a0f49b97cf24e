// Package room manages room lifecycle, membership, permissions,
// resource locks and the per-room message history ring.
package room

import (
	"sync"
	"time"

	"collabhub/pkg/types"
)

// Registry owns every room. One mutex guards the whole map; room
// operations are short map manipulations, so contention stays low and
// cross-room invariants (DropSocket touching many rooms) stay simple.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	historySize int
}

func NewRegistry(historySize int) *Registry {
	return &Registry{
		rooms:       make(map[string]*room),
		historySize: historySize,
	}
}

// Create makes a new room. The creator receives the full permission set.
func (reg *Registry) Create(roomID, name string, roomType types.RoomType, createdBy string, settings map[string]any) (types.RoomInfo, error) {
	if !types.IsValidRoomID(roomID) {
		return types.RoomInfo{}, ErrInvalidRoomID
	}
	if name == "" {
		name = roomID
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.rooms[roomID]; exists {
		return types.RoomInfo{}, ErrRoomAlreadyExists
	}

	r := &room{
		id:            roomID,
		name:          name,
		roomType:      roomType,
		createdBy:     createdBy,
		createdAt:     time.Now(),
		settings:      settings,
		members:       make(map[string]*types.RoomMember),
		memberSockets: make(map[string]map[string]struct{}),
		permissions:   make(map[string]map[string]struct{}),
		locks:         make(map[string]types.ResourceLock),
		emptySince:    time.Now(),
	}
	if createdBy != "" {
		r.grant(createdBy, types.PermAdmin, types.PermRead, types.PermWrite, types.PermInvite)
	}
	reg.rooms[roomID] = r
	return r.snapshot(), nil
}

// Exists reports whether the room is registered.
func (reg *Registry) Exists(roomID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.rooms[roomID]
	return ok
}

// JoinResult carries everything the caller needs to acknowledge a join
// and notify the room, captured atomically under the registry lock.
type JoinResult struct {
	FirstJoin bool
	Member    types.RoomMember
	Room      types.RoomInfo
	History   []types.ChatMessage
}

// Join adds a socket to a room, creating the membership record on the
// user's first socket. Private rooms require a pre-existing grant;
// every other room type grants read on join, and chat rooms grant
// write as well.
func (reg *Registry) Join(roomID string, member types.RoomMember, historyLimit int) (JoinResult, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}

	if r.roomType == types.RoomTypePrivate && !r.hasPermission(member.UserID, types.PermRead) {
		return JoinResult{}, ErrAccessDenied
	}

	sockets := r.memberSockets[member.UserID]
	firstJoin := len(sockets) == 0
	if sockets == nil {
		sockets = make(map[string]struct{})
		r.memberSockets[member.UserID] = sockets
	}
	sockets[member.SocketID] = struct{}{}

	if firstJoin {
		m := member
		m.Status = types.UserStatusOnline
		r.members[member.UserID] = &m
	} else {
		r.members[member.UserID].LastSeen = time.Now()
	}

	// Open rooms grant read and write on join. Private-room members
	// keep exactly the grants an admin gave them, so a read-only grant
	// stays read-only.
	if r.roomType != types.RoomTypePrivate {
		r.grant(member.UserID, types.PermRead, types.PermWrite)
	}

	if historyLimit <= 0 || historyLimit > len(r.history) {
		historyLimit = len(r.history)
	}
	history := make([]types.ChatMessage, historyLimit)
	copy(history, r.history[len(r.history)-historyLimit:])

	return JoinResult{
		FirstJoin: firstJoin,
		Member:    *r.members[member.UserID],
		Room:      r.snapshot(),
		History:   history,
	}, nil
}

// LeaveResult reports the outcome of removing one socket from a room.
type LeaveResult struct {
	FullyLeft      bool
	RemainingUsers int
	ReleasedLocks  []types.ResourceLock
}

// Leave removes one socket from the room. The membership record goes
// away, locks are released, only when the user's last socket leaves.
func (reg *Registry) Leave(roomID, userID, socketID string) (LeaveResult, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return LeaveResult{}, ErrRoomNotFound
	}

	sockets := r.memberSockets[userID]
	if _, joined := sockets[socketID]; !joined {
		return LeaveResult{}, ErrNotInRoom
	}
	delete(sockets, socketID)
	if len(sockets) > 0 {
		return LeaveResult{RemainingUsers: len(r.members)}, nil
	}

	delete(r.memberSockets, userID)
	delete(r.members, userID)
	released := r.releaseLocks(userID)
	if len(r.members) == 0 {
		r.emptySince = time.Now()
	}

	return LeaveResult{
		FullyLeft:      true,
		RemainingUsers: len(r.members),
		ReleasedLocks:  released,
	}, nil
}

func (r *room) releaseLocks(userID string) []types.ResourceLock {
	var released []types.ResourceLock
	for key, lock := range r.locks {
		if lock.UserID == userID {
			released = append(released, lock)
			delete(r.locks, key)
		}
	}
	return released
}

// DroppedRoom describes one room a disconnecting socket fully left.
type DroppedRoom struct {
	RoomID         string
	RemainingUsers int
	ReleasedLocks  []types.ResourceLock
}

// DropSocket removes a socket from every room it joined, used on
// disconnect. Returns only rooms the user fully left.
func (reg *Registry) DropSocket(userID, socketID string) []DroppedRoom {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var dropped []DroppedRoom
	for roomID, r := range reg.rooms {
		sockets := r.memberSockets[userID]
		if _, joined := sockets[socketID]; !joined {
			continue
		}
		delete(sockets, socketID)
		if len(sockets) > 0 {
			continue
		}
		delete(r.memberSockets, userID)
		delete(r.members, userID)
		released := r.releaseLocks(userID)
		if len(r.members) == 0 {
			r.emptySince = time.Now()
		}
		dropped = append(dropped, DroppedRoom{
			RoomID:         roomID,
			RemainingUsers: len(r.members),
			ReleasedLocks:  released,
		})
	}
	return dropped
}

// IsMember reports whether the user currently has a socket in the room.
func (reg *Registry) IsMember(roomID, userID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return false
	}
	_, member := r.members[userID]
	return member
}

// HasPermission reports whether the user holds perm in the room. Admin
// implies every permission.
func (reg *Registry) HasPermission(roomID, userID, perm string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return false
	}
	return r.hasPermission(userID, perm)
}

// Grant adds permissions for a user without requiring membership.
func (reg *Registry) Grant(roomID, userID string, perms ...string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.grant(userID, perms...)
	return nil
}

// Lock attempts to acquire a resource lock. First writer wins; the same
// user re-locking their own resource succeeds. On contention the
// current holder is returned.
func (reg *Registry) Lock(roomID string, lock types.ResourceLock) (bool, types.ResourceLock, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return false, types.ResourceLock{}, ErrRoomNotFound
	}

	key := lockKey(lock.ResourceType, lock.ResourceID)
	if held, exists := r.locks[key]; exists {
		if held.UserID == lock.UserID {
			return true, held, nil
		}
		return false, held, nil
	}
	lock.LockedAt = time.Now()
	r.locks[key] = lock
	return true, lock, nil
}

// Unlock releases a resource lock. Only the holder or a room admin may
// release it.
func (reg *Registry) Unlock(roomID, resourceType, resourceID, userID string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}

	key := lockKey(resourceType, resourceID)
	held, exists := r.locks[key]
	if !exists {
		return ErrNotLocked
	}
	if held.UserID != userID && !r.hasPermission(userID, types.PermAdmin) {
		return ErrUnlockDenied
	}
	delete(r.locks, key)
	return nil
}

// ForceUnlock releases a lock regardless of holder, for platform
// admins. Callers are responsible for the authorization decision.
func (reg *Registry) ForceUnlock(roomID, resourceType, resourceID string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	key := lockKey(resourceType, resourceID)
	if _, exists := r.locks[key]; !exists {
		return ErrNotLocked
	}
	delete(r.locks, key)
	return nil
}

// Locks returns a snapshot of the room's held locks.
func (reg *Registry) Locks(roomID string) []types.ResourceLock {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	locks := make([]types.ResourceLock, 0, len(r.locks))
	for _, l := range r.locks {
		locks = append(locks, l)
	}
	return locks
}

// AppendHistory records a chat message in the room's bounded ring.
func (reg *Registry) AppendHistory(roomID string, msg types.ChatMessage) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.appendHistory(msg, reg.historySize)
	return nil
}

// History returns up to limit most recent messages, oldest first.
func (reg *Registry) History(roomID string, limit int) []types.ChatMessage {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]types.ChatMessage, limit)
	copy(out, r.history[len(r.history)-limit:])
	return out
}

// Snapshot returns the room's public info, or an error if unknown.
func (reg *Registry) Snapshot(roomID string) (types.RoomInfo, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return types.RoomInfo{}, ErrRoomNotFound
	}
	return r.snapshot(), nil
}

// ActiveUsers lists the room's current members.
func (reg *Registry) ActiveUsers(roomID string) []types.RoomMember {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	return r.activeUsers()
}

// MemberIDs lists the user IDs with a live socket in the room.
func (reg *Registry) MemberIDs(roomID string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// PermissionHolders lists every user with any grant in the room,
// whether or not they are currently connected. This is the recipient
// set for offline queueing.
func (reg *Registry) PermissionHolders(roomID string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(r.permissions))
	for id := range r.permissions {
		ids = append(ids, id)
	}
	return ids
}

// ListRooms returns snapshots of every non-private room plus private
// rooms the user can read, for the connect handshake.
func (reg *Registry) ListRooms(userID string) []types.RoomInfo {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	infos := make([]types.RoomInfo, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		if r.roomType == types.RoomTypePrivate && !r.hasPermission(userID, types.PermRead) {
			continue
		}
		infos = append(infos, r.snapshot())
	}
	return infos
}

// Sweep deletes rooms that have had no members and no held locks for
// longer than ttl. Returns the IDs of deleted rooms.
func (reg *Registry) Sweep(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	var deleted []string
	for id, r := range reg.rooms {
		if len(r.members) == 0 && len(r.locks) == 0 && r.emptySince.Before(cutoff) {
			delete(reg.rooms, id)
			deleted = append(deleted, id)
		}
	}
	return deleted
}

// Stats returns room counts for the stats endpoint.
func (reg *Registry) Stats() (rooms, totalMembers int) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, r := range reg.rooms {
		totalMembers += len(r.members)
	}
	return len(reg.rooms), totalMembers
}
