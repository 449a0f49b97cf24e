package types

// Typed payloads for each event. Inbound payloads are decoded from the
// envelope's raw data by the dispatcher; outbound payloads are marshaled
// by NewEvent.

// ConnectPayload carries the credentials presented on the first frame.
// Either a token or, when anonymous access is enabled, a user_id plus
// username pair.
type ConnectPayload struct {
	Token    string `json:"token,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name,omitempty"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"room_id"`
}

type SendMessagePayload struct {
	RoomID      string         `json:"room_id"`
	Content     string         `json:"content"`
	MessageType string         `json:"message_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type TypingPayload struct {
	RoomID string `json:"room_id"`
}

type CursorPayload struct {
	RoomID         string   `json:"room_id"`
	X              *float64 `json:"x"`
	Y              *float64 `json:"y"`
	ElementID      string   `json:"element_id,omitempty"`
	SelectionStart *int     `json:"selection_start,omitempty"`
	SelectionEnd   *int     `json:"selection_end,omitempty"`
}

type PlanUpdatePayload struct {
	SessionID  string         `json:"session_id"`
	Operation  string         `json:"operation"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Changes    map[string]any `json:"changes,omitempty"`
}

type LockPayload struct {
	SessionID    string `json:"session_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

type GetRoomInfoPayload struct {
	RoomID string `json:"room_id"`
}

// Server-side payloads.

type ConnectionEstablishedPayload struct {
	UserID         string     `json:"user_id"`
	SocketID       string     `json:"socket_id"`
	AvailableRooms []RoomInfo `json:"available_rooms"`
}

type RoomJoinedPayload struct {
	RoomID         string        `json:"room_id"`
	RoomInfo       RoomInfo      `json:"room_info"`
	MessageHistory []ChatMessage `json:"message_history"`
	ActiveUsers    []RoomMember  `json:"active_users"`
}

type RoomLeftPayload struct {
	RoomID string `json:"room_id"`
}

type UserJoinedPayload struct {
	User RoomMember `json:"user"`
	Room RoomInfo   `json:"room"`
}

type UserLeftPayload struct {
	UserID         string `json:"user_id"`
	RoomID         string `json:"room_id"`
	RemainingUsers int    `json:"remaining_users"`
}

type MessageSentPayload struct {
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

type MessageReceivedPayload struct {
	Message  ChatMessage `json:"message"`
	Queued   bool        `json:"queued,omitempty"`
	QueuedAt string      `json:"queued_at,omitempty"`
}

type TypingEventPayload struct {
	UserID      string   `json:"user_id"`
	RoomID      string   `json:"room_id"`
	TypingUsers []string `json:"typing_users"`
}

type CursorEventPayload struct {
	Cursor CursorPosition `json:"cursor"`
}

type PlanUpdateEventPayload struct {
	Update PlanUpdate `json:"update"`
}

type PlanUpdateProcessedPayload struct {
	SessionID  string `json:"session_id"`
	Operation  string `json:"operation"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
}

type ResourceLockedPayload struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	LockedBy     string `json:"locked_by,omitempty"`
	LockedByName string `json:"locked_by_name,omitempty"`
	LockedAt     string `json:"locked_at,omitempty"`
}

type ResourceLockFailedPayload struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	LockedBy     string `json:"locked_by"`
	Message      string `json:"message"`
}

type ResourceUnlockedPayload struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	UnlockedBy   string `json:"unlocked_by,omitempty"`
}

type RoomInfoPayload struct {
	Room           RoomInfo      `json:"room"`
	ActiveUsers    []RoomMember  `json:"active_users"`
	MessageHistory []ChatMessage `json:"message_history"`
}

type PongPayload struct {
	Timestamp string `json:"timestamp"`
}

type ErrorPayload struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
