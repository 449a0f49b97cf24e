package types

import (
	"encoding/json"
	"time"
)

// RoomType classifies what a room is used for. Planning and content
// generation rooms carry collaborative-editing state (cursors, locks)
// in addition to chat.
type RoomType string

const (
	RoomTypeChat              RoomType = "chat"
	RoomTypePlanning          RoomType = "planning"
	RoomTypeContentGeneration RoomType = "content_generation"
	RoomTypePrivate           RoomType = "private"
)

// MessageType classifies chat message content.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeVoice  MessageType = "voice"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
	MessageTypeTyping MessageType = "typing"
	MessageTypeError  MessageType = "error"
)

// UserStatus is the presence status carried on room membership records.
type UserStatus string

const (
	UserStatusOnline  UserStatus = "online"
	UserStatusOffline UserStatus = "offline"
	UserStatusTyping  UserStatus = "typing"
	UserStatusAway    UserStatus = "away"
)

// Room permissions. PermAdmin implies every other permission.
const (
	PermAdmin  = "admin"
	PermRead   = "read"
	PermWrite  = "write"
	PermInvite = "invite"
)

// EventType identifies an envelope on the wire, both directions.
type EventType string

// Client-to-server events.
const (
	EventConnect        EventType = "connect"
	EventJoinRoom       EventType = "join_room"
	EventLeaveRoom      EventType = "leave_room"
	EventSendMessage    EventType = "send_message"
	EventTypingStart    EventType = "typing_start"
	EventTypingStop     EventType = "typing_stop"
	EventCursorMoved    EventType = "cursor_moved"
	EventPlanUpdated    EventType = "plan_updated"
	EventLockResource   EventType = "lock_resource"
	EventUnlockResource EventType = "unlock_resource"
	EventGetRoomInfo    EventType = "get_room_info"
	EventPing           EventType = "ping"
)

// Server-to-client events.
const (
	EventConnectionEstablished EventType = "connection_established"
	EventRoomJoined            EventType = "room_joined"
	EventRoomLeft              EventType = "room_left"
	EventUserJoined            EventType = "user_joined"
	EventUserLeft              EventType = "user_left"
	EventMessageSent           EventType = "message_sent"
	EventMessageReceived       EventType = "message_received"
	EventPlanUpdateProcessed   EventType = "plan_update_processed"
	EventResourceLocked        EventType = "resource_locked"
	EventResourceLockFailed    EventType = "resource_lock_failed"
	EventResourceUnlocked      EventType = "resource_unlocked"
	EventRoomInfo              EventType = "room_info"
	EventPong                  EventType = "pong"
	EventError                 EventType = "error"
)

// Error codes carried in error events. Severe codes (INVALID_ORIGIN,
// AUTH_FAILED) additionally terminate the transport.
const (
	CodeInvalidOrigin     = "INVALID_ORIGIN"
	CodeAuthFailed        = "AUTH_FAILED"
	CodeRateLimit         = "RATE_LIMIT"
	CodeMissingRoomID     = "MISSING_ROOM_ID"
	CodeMissingData       = "MISSING_DATA"
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeRoomNotFound      = "ROOM_NOT_FOUND"
	CodeJoinFailed        = "JOIN_FAILED"
	CodeLeaveFailed       = "LEAVE_FAILED"
	CodeMessageTooLong    = "MESSAGE_TOO_LONG"
	CodeInvalidType       = "INVALID_TYPE"
	CodeNoWritePermission = "NO_WRITE_PERMISSION"
	CodeSendFailed        = "SEND_FAILED"
	CodeInvalidOperation  = "INVALID_OPERATION"
	CodeNotInSession      = "NOT_IN_SESSION"
	CodeNotLocked         = "NOT_LOCKED"
	CodeUnlockDenied      = "UNLOCK_DENIED"
	CodeInvalidEvent      = "INVALID_EVENT"
)

// MaxMessageLength bounds chat message content in characters.
const MaxMessageLength = 2000

// Event is the JSON envelope every wire message travels in. Inbound
// payloads stay raw until the dispatcher decodes them into the typed
// payload for the event. Origin identifies the process that produced a
// broadcast so a pub/sub bridge can skip its own echoes.
type Event struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	EventID   string          `json:"event_id,omitempty"`
	Origin    string          `json:"origin,omitempty"`
}

// NewEvent builds an outbound envelope with the payload marshaled in place.
func NewEvent(t EventType, roomID, userID string, payload any) (*Event, error) {
	ev := &Event{
		Type:      t,
		RoomID:    roomID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		ev.Data = data
	}
	return ev, nil
}

// UserProfile is what the Auth collaborator resolves credentials into.
type UserProfile struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Admin  bool   `json:"admin,omitempty"`
}

// RoomMember is the per-room projection of a connected user: profile
// fields supplied at join time plus connection bookkeeping.
type RoomMember struct {
	UserID      string     `json:"user_id"`
	SocketID    string     `json:"socket_id"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	Status      UserStatus `json:"status"`
	ConnectedAt time.Time  `json:"connected_at"`
	LastSeen    time.Time  `json:"last_seen"`
}

// ChatMessage is immutable once created except for the soft edit fields
// and reactions. Retained only in the per-room history ring.
type ChatMessage struct {
	ID        string              `json:"id"`
	RoomID    string              `json:"room_id"`
	UserID    string              `json:"user_id"`
	Content   string              `json:"content"`
	Type      MessageType         `json:"message_type"`
	Timestamp time.Time           `json:"timestamp"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
	Edited    bool                `json:"edited,omitempty"`
	EditedAt  *time.Time          `json:"edited_at,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// TypingIndicator marks a user as typing in a room, last write wins.
type TypingIndicator struct {
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	StartedAt time.Time `json:"started_at"`
}

// CursorPosition is a user's cursor in a collaborative editing surface.
type CursorPosition struct {
	UserID         string    `json:"user_id"`
	RoomID         string    `json:"room_id"`
	X              float64   `json:"x"`
	Y              float64   `json:"y"`
	ElementID      string    `json:"element_id,omitempty"`
	SelectionStart *int      `json:"selection_start,omitempty"`
	SelectionEnd   *int      `json:"selection_end,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PlanUpdate is one collaborative edit operation against a planning target.
type PlanUpdate struct {
	ID         string         `json:"id"`
	RoomID     string         `json:"room_id"`
	UserID     string         `json:"user_id"`
	Operation  string         `json:"operation"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Changes    map[string]any `json:"changes,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ResourceLock is a mutual-exclusion token over one editing target.
// At most one holder exists per (room, resource type, resource id).
type ResourceLock struct {
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name,omitempty"`
	LockedAt     time.Time `json:"locked_at"`
}

// QueuedMessage holds a chat message for a member who had no open
// connections at broadcast time. Deleted after delivery.
type QueuedMessage struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	RoomID    string      `json:"room_id"`
	Message   ChatMessage `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
	Delivered bool        `json:"delivered"`
}

// RoomInfo is the snapshot of a room sent to clients.
type RoomInfo struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        RoomType       `json:"room_type"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UserCount   int            `json:"user_count"`
	ActiveUsers []RoomMember   `json:"active_users"`
	Settings    map[string]any `json:"settings,omitempty"`
}
