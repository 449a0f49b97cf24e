package core

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"collabhub/internal/ratelimit"
	"collabhub/internal/room"
	"collabhub/pkg/types"
)

// handlerSpec binds an event type to its rate-limit class and handler.
// Events with an empty class are never limited.
type handlerSpec struct {
	class ratelimit.Class
	fn    func(*Core, *Client, *types.Event)
}

var handlers = map[types.EventType]handlerSpec{
	types.EventJoinRoom:       {fn: (*Core).handleJoinRoom},
	types.EventLeaveRoom:      {fn: (*Core).handleLeaveRoom},
	types.EventSendMessage:    {class: ratelimit.ClassMessage, fn: (*Core).handleSendMessage},
	types.EventTypingStart:    {class: ratelimit.ClassTyping, fn: (*Core).handleTypingStart},
	types.EventTypingStop:     {class: ratelimit.ClassTyping, fn: (*Core).handleTypingStop},
	types.EventCursorMoved:    {class: ratelimit.ClassCursor, fn: (*Core).handleCursorMoved},
	types.EventPlanUpdated:    {class: ratelimit.ClassPlanUpdate, fn: (*Core).handlePlanUpdated},
	types.EventLockResource:   {fn: (*Core).handleLockResource},
	types.EventUnlockResource: {fn: (*Core).handleUnlockResource},
	types.EventGetRoomInfo:    {fn: (*Core).handleGetRoomInfo},
	types.EventPing:           {fn: (*Core).handlePing},
}

// HandleEvent routes one inbound event through rate limiting to its
// handler. Unknown types produce an error event; the connection stays
// open for every outcome here.
func (c *Core) HandleEvent(client *Client, ev *types.Event) {
	c.connections.UpdateActivity(client.SocketID)

	spec, ok := handlers[ev.Type]
	if !ok {
		c.sendError(client.sender, types.CodeInvalidEvent, "unknown event type: "+string(ev.Type), 0)
		return
	}

	if spec.class != "" {
		if allowed, retry := c.limiter.CheckAndConsume(client.UserID, spec.class); !allowed {
			c.sendError(client.sender, types.CodeRateLimit, "rate limit exceeded", retry)
			return
		}
	}

	spec.fn(c, client, ev)
}

// decode unmarshals the envelope payload, reporting MISSING_DATA to
// the client on failure.
func (c *Core) decode(client *Client, ev *types.Event, dst any) bool {
	if len(ev.Data) == 0 {
		c.sendError(client.sender, types.CodeMissingData, "event payload is required", 0)
		return false
	}
	if err := json.Unmarshal(ev.Data, dst); err != nil {
		c.sendError(client.sender, types.CodeMissingData, "malformed event payload", 0)
		return false
	}
	return true
}

func (c *Core) handleJoinRoom(client *Client, ev *types.Event) {
	var p types.JoinRoomPayload
	if !c.decode(client, ev, &p) {
		return
	}
	if p.RoomID == "" {
		c.sendError(client.sender, types.CodeMissingRoomID, "room_id is required", 0)
		return
	}
	if !types.IsValidRoomID(p.RoomID) {
		c.sendError(client.sender, types.CodeJoinFailed, "invalid room ID", 0)
		return
	}

	if !c.rooms.Exists(p.RoomID) {
		if !room.AutoCreatable(p.RoomID) {
			c.sendError(client.sender, types.CodeRoomNotFound, "room does not exist", 0)
			return
		}
		if _, err := c.rooms.Create(p.RoomID, p.RoomName, room.TypeForRoomID(p.RoomID), client.UserID, nil); err != nil && !errors.Is(err, room.ErrRoomAlreadyExists) {
			c.sendError(client.sender, types.CodeJoinFailed, "failed to create room", 0)
			return
		}
		if c.sink != nil {
			c.sink.RecordRoomEvent("created", p.RoomID, client.UserID)
		}
	}

	now := time.Now()
	res, err := c.rooms.Join(p.RoomID, types.RoomMember{
		UserID:      client.UserID,
		SocketID:    client.SocketID,
		Name:        client.Name,
		Email:       client.Email,
		Status:      types.UserStatusOnline,
		ConnectedAt: now,
		LastSeen:    now,
	}, historyReplayLimit)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrAccessDenied):
			c.sendError(client.sender, types.CodeAccessDenied, "access to room denied", 0)
		case errors.Is(err, room.ErrRoomNotFound):
			c.sendError(client.sender, types.CodeRoomNotFound, "room does not exist", 0)
		default:
			c.sendError(client.sender, types.CodeJoinFailed, "failed to join room", 0)
		}
		return
	}

	c.send(client.sender, types.EventRoomJoined, p.RoomID, client.UserID, types.RoomJoinedPayload{
		RoomID:         p.RoomID,
		RoomInfo:       res.Room,
		MessageHistory: res.History,
		ActiveUsers:    res.Room.ActiveUsers,
	})

	if res.FirstJoin {
		c.broadcast(p.RoomID, types.EventUserJoined, client.UserID, types.UserJoinedPayload{
			User: res.Member,
			Room: res.Room,
		}, client.UserID, "")
	}
	if c.sink != nil {
		c.sink.RecordRoomEvent("joined", p.RoomID, client.UserID)
	}

	c.deliverQueued(client)
}

// deliverQueued replays the user's offline queue on join, oldest first.
func (c *Core) deliverQueued(client *Client) {
	queued := c.offline.Drain(client.UserID)
	for _, qm := range queued {
		c.send(client.sender, types.EventMessageReceived, qm.RoomID, qm.Message.UserID, types.MessageReceivedPayload{
			Message:  qm.Message,
			Queued:   true,
			QueuedAt: qm.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	if len(queued) > 0 {
		log.Printf("delivered queued messages: user=%s count=%d", client.UserID, len(queued))
	}
}

func (c *Core) handleLeaveRoom(client *Client, ev *types.Event) {
	var p types.LeaveRoomPayload
	if !c.decode(client, ev, &p) {
		return
	}
	if p.RoomID == "" {
		c.sendError(client.sender, types.CodeMissingRoomID, "room_id is required", 0)
		return
	}

	res, err := c.rooms.Leave(p.RoomID, client.UserID, client.SocketID)
	if err != nil {
		c.sendError(client.sender, types.CodeLeaveFailed, "not a member of this room", 0)
		return
	}

	c.send(client.sender, types.EventRoomLeft, p.RoomID, client.UserID, types.RoomLeftPayload{RoomID: p.RoomID})

	if res.FullyLeft {
		c.presence.ClearUser(p.RoomID, client.UserID)
		c.notifyUserLeft(p.RoomID, client.UserID, res.RemainingUsers, res.ReleasedLocks)
		if c.sink != nil {
			c.sink.RecordRoomEvent("left", p.RoomID, client.UserID)
		}
	}
}

func (c *Core) handleSendMessage(client *Client, ev *types.Event) {
	var p types.SendMessagePayload
	if !c.decode(client, ev, &p) {
		return
	}
	if err := p.Validate(); err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidRoomID):
			c.sendError(client.sender, types.CodeMissingRoomID, "valid room_id is required", 0)
		case errors.Is(err, types.ErrEmptyContent):
			c.sendError(client.sender, types.CodeMissingData, "message content is required", 0)
		case errors.Is(err, types.ErrContentTooLong):
			c.sendError(client.sender, types.CodeMessageTooLong, "message exceeds maximum length", 0)
		case errors.Is(err, types.ErrInvalidMessageType):
			c.sendError(client.sender, types.CodeInvalidType, "unsupported message type", 0)
		default:
			c.sendError(client.sender, types.CodeSendFailed, "invalid message", 0)
		}
		return
	}

	if !c.rooms.IsMember(p.RoomID, client.UserID) {
		c.sendError(client.sender, types.CodeAccessDenied, "join the room before sending messages", 0)
		return
	}
	if !c.rooms.HasPermission(p.RoomID, client.UserID, types.PermWrite) {
		c.sendError(client.sender, types.CodeNoWritePermission, "no write permission in this room", 0)
		return
	}

	msgType := types.MessageType(p.MessageType)
	if p.MessageType == "" {
		msgType = types.MessageTypeText
	}
	msg := types.ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    p.RoomID,
		UserID:    client.UserID,
		Content:   p.Content,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Metadata:  p.Metadata,
	}

	if err := c.rooms.AppendHistory(p.RoomID, msg); err != nil {
		c.sendError(client.sender, types.CodeSendFailed, "room is no longer available", 0)
		return
	}
	if c.sink != nil {
		c.sink.RecordMessage(&msg)
	}

	c.send(client.sender, types.EventMessageSent, p.RoomID, client.UserID, types.MessageSentPayload{
		MessageID: msg.ID,
		Timestamp: msg.Timestamp.Format(time.RFC3339),
	})

	// Exclude only the emitting socket; the sender's other tabs still
	// receive the message.
	c.broadcast(p.RoomID, types.EventMessageReceived, client.UserID, types.MessageReceivedPayload{
		Message: msg,
	}, "", client.SocketID)

	c.queueForOffline(p.RoomID, msg)
}

// queueForOffline stores the message for every permission holder of the
// room who has no open connection.
func (c *Core) queueForOffline(roomID string, msg types.ChatMessage) {
	for _, userID := range c.rooms.PermissionHolders(roomID) {
		if userID == msg.UserID || c.connections.IsUserOnline(userID) {
			continue
		}
		c.offline.Enqueue(userID, msg)
	}
}

func (c *Core) handleTypingStart(client *Client, ev *types.Event) {
	c.handleTyping(client, ev, true)
}

func (c *Core) handleTypingStop(client *Client, ev *types.Event) {
	c.handleTyping(client, ev, false)
}

func (c *Core) handleTyping(client *Client, ev *types.Event, typing bool) {
	var p types.TypingPayload
	if !c.decode(client, ev, &p) {
		return
	}
	if p.RoomID == "" {
		c.sendError(client.sender, types.CodeMissingRoomID, "room_id is required", 0)
		return
	}
	if !c.rooms.IsMember(p.RoomID, client.UserID) {
		c.sendError(client.sender, types.CodeAccessDenied, "join the room first", 0)
		return
	}

	typingUsers := c.presence.SetTyping(p.RoomID, client.UserID, typing)

	c.broadcast(p.RoomID, ev.Type, client.UserID, types.TypingEventPayload{
		UserID:      client.UserID,
		RoomID:      p.RoomID,
		TypingUsers: typingUsers,
	}, client.UserID, "")
}

func (c *Core) handleCursorMoved(client *Client, ev *types.Event) {
	var p types.CursorPayload
	if !c.decode(client, ev, &p) {
		return
	}
	if p.RoomID == "" {
		c.sendError(client.sender, types.CodeMissingRoomID, "room_id is required", 0)
		return
	}
	if p.X == nil || p.Y == nil {
		c.sendError(client.sender, types.CodeMissingData, "cursor coordinates are required", 0)
		return
	}
	if !c.rooms.IsMember(p.RoomID, client.UserID) {
		c.sendError(client.sender, types.CodeAccessDenied, "join the room first", 0)
		return
	}

	pos := c.presence.SetCursor(types.CursorPosition{
		UserID:         client.UserID,
		RoomID:         p.RoomID,
		X:              *p.X,
		Y:              *p.Y,
		ElementID:      p.ElementID,
		SelectionStart: p.SelectionStart,
		SelectionEnd:   p.SelectionEnd,
	})

	c.broadcast(p.RoomID, types.EventCursorMoved, client.UserID, types.CursorEventPayload{
		Cursor: pos,
	}, client.UserID, "")
}

// sessionRoomID maps a collaborative session to its backing room.
func sessionRoomID(sessionID string) string {
	return "planning_" + sessionID
}

func (c *Core) handlePlanUpdated(client *Client, ev *types.Event) {
	var p types.PlanUpdatePayload
	if !c.decode(client, ev, &p) {
		return
	}
	if err := p.Validate(); err != nil {
		c.sendError(client.sender, types.CodeInvalidOperation, "invalid plan operation", 0)
		return
	}

	roomID := sessionRoomID(p.SessionID)
	if !c.rooms.IsMember(roomID, client.UserID) {
		c.sendError(client.sender, types.CodeNotInSession, "join the planning session first", 0)
		return
	}
	if !c.rooms.HasPermission(roomID, client.UserID, types.PermWrite) {
		c.sendError(client.sender, types.CodeNoWritePermission, "no write permission in this session", 0)
		return
	}

	update := types.PlanUpdate{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		UserID:     client.UserID,
		Operation:  p.Operation,
		TargetType: p.TargetType,
		TargetID:   p.TargetID,
		Changes:    p.Changes,
		Timestamp:  time.Now().UTC(),
	}

	c.broadcast(roomID, types.EventPlanUpdated, client.UserID, types.PlanUpdateEventPayload{
		Update: update,
	}, client.UserID, "")

	c.send(client.sender, types.EventPlanUpdateProcessed, roomID, client.UserID, types.PlanUpdateProcessedPayload{
		SessionID:  p.SessionID,
		Operation:  p.Operation,
		TargetType: p.TargetType,
		TargetID:   p.TargetID,
	})
}

func (c *Core) handleLockResource(client *Client, ev *types.Event) {
	var p types.LockPayload
	if !c.decode(client, ev, &p) {
		return
	}
	if p.SessionID == "" || p.ResourceType == "" || p.ResourceID == "" {
		c.sendError(client.sender, types.CodeMissingData, "session_id, resource_type and resource_id are required", 0)
		return
	}

	roomID := sessionRoomID(p.SessionID)
	if !c.rooms.IsMember(roomID, client.UserID) {
		c.sendError(client.sender, types.CodeNotInSession, "join the planning session first", 0)
		return
	}

	ok, held, err := c.rooms.Lock(roomID, types.ResourceLock{
		ResourceType: p.ResourceType,
		ResourceID:   p.ResourceID,
		UserID:       client.UserID,
		UserName:     client.Name,
	})
	if err != nil {
		c.sendError(client.sender, types.CodeRoomNotFound, "session no longer exists", 0)
		return
	}
	if !ok {
		c.send(client.sender, types.EventResourceLockFailed, roomID, client.UserID, types.ResourceLockFailedPayload{
			ResourceType: p.ResourceType,
			ResourceID:   p.ResourceID,
			LockedBy:     held.UserID,
			Message:      "resource is locked by another user",
		})
		return
	}

	c.broadcast(roomID, types.EventResourceLocked, client.UserID, types.ResourceLockedPayload{
		ResourceType: held.ResourceType,
		ResourceID:   held.ResourceID,
		LockedBy:     held.UserID,
		LockedByName: held.UserName,
		LockedAt:     held.LockedAt.UTC().Format(time.RFC3339),
	}, "", "")
}

func (c *Core) handleUnlockResource(client *Client, ev *types.Event) {
	var p types.LockPayload
	if !c.decode(client, ev, &p) {
		return
	}
	if p.SessionID == "" || p.ResourceType == "" || p.ResourceID == "" {
		c.sendError(client.sender, types.CodeMissingData, "session_id, resource_type and resource_id are required", 0)
		return
	}

	roomID := sessionRoomID(p.SessionID)
	if !c.rooms.IsMember(roomID, client.UserID) {
		c.sendError(client.sender, types.CodeNotInSession, "join the planning session first", 0)
		return
	}

	err := c.rooms.Unlock(roomID, p.ResourceType, p.ResourceID, client.UserID)
	if errors.Is(err, room.ErrUnlockDenied) && client.Admin {
		// Platform admins may force-release any lock.
		err = c.rooms.ForceUnlock(roomID, p.ResourceType, p.ResourceID)
	}
	if err != nil {
		switch {
		case errors.Is(err, room.ErrNotLocked):
			c.sendError(client.sender, types.CodeNotLocked, "resource is not locked", 0)
		case errors.Is(err, room.ErrUnlockDenied):
			c.sendError(client.sender, types.CodeUnlockDenied, "lock is held by another user", 0)
		default:
			c.sendError(client.sender, types.CodeRoomNotFound, "session no longer exists", 0)
		}
		return
	}

	c.broadcast(roomID, types.EventResourceUnlocked, client.UserID, types.ResourceUnlockedPayload{
		ResourceType: p.ResourceType,
		ResourceID:   p.ResourceID,
		UnlockedBy:   client.UserID,
	}, "", "")
}

func (c *Core) handleGetRoomInfo(client *Client, ev *types.Event) {
	var p types.GetRoomInfoPayload
	if !c.decode(client, ev, &p) {
		return
	}
	if p.RoomID == "" {
		c.sendError(client.sender, types.CodeMissingRoomID, "room_id is required", 0)
		return
	}

	info, err := c.rooms.Snapshot(p.RoomID)
	if err != nil {
		c.sendError(client.sender, types.CodeRoomNotFound, "room does not exist", 0)
		return
	}
	if !c.rooms.IsMember(p.RoomID, client.UserID) &&
		!c.rooms.HasPermission(p.RoomID, client.UserID, types.PermRead) {
		c.sendError(client.sender, types.CodeAccessDenied, "no read permission in this room", 0)
		return
	}

	c.send(client.sender, types.EventRoomInfo, p.RoomID, client.UserID, types.RoomInfoPayload{
		Room:           info,
		ActiveUsers:    info.ActiveUsers,
		MessageHistory: c.rooms.History(p.RoomID, roomInfoHistoryLimit),
	})
}

func (c *Core) handlePing(client *Client, ev *types.Event) {
	c.send(client.sender, types.EventPong, "", client.UserID, types.PongPayload{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
