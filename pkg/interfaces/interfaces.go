// Package interfaces defines the seams between the messaging core and
// its collaborators so components can be wired with mocks in tests and
// swapped in deployment (e.g. a different Auth service or pub/sub
// backend) without touching the core.
package interfaces

import "collabhub/pkg/types"

// Sender is one live transport session the core can write to. The
// implementation must serialize writes internally; the core calls
// WriteJSON from multiple goroutines.
type Sender interface {
	SocketID() string
	WriteJSON(v any) error
	Close() error
}

// Authenticator is the external Auth collaborator. Only its pass/fail
// contract is consumed here; token issuance lives elsewhere.
type Authenticator interface {
	Authenticate(credentials types.ConnectPayload) (*types.UserProfile, error)
	CheckOriginAllowed(origin string) bool
}

// EventSink receives fire-and-forget copies of messages and room
// lifecycle events for audit and history beyond the in-memory ring.
// Implementations must not block the caller.
type EventSink interface {
	RecordMessage(msg *types.ChatMessage)
	RecordRoomEvent(event, roomID, userID string)
	Close() error
}

// Broadcaster is the horizontal-scaling hook: room broadcasts are
// published to it and broadcasts from other processes are replayed into
// the local fan-out path. Implementations must not block the caller.
type Broadcaster interface {
	Publish(ev *types.Event)
	Close() error
}
