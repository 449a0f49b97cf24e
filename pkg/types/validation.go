package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// IsValidUserID checks the 1-64 character identifier format shared by
// user and socket IDs.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidRoomID checks the room identifier format.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 128 {
		return false
	}
	return idRegex.MatchString(roomID)
}

// IsValidMessageType reports whether t is one of the allowed chat
// message types.
func IsValidMessageType(t string) bool {
	switch MessageType(t) {
	case MessageTypeText, MessageTypeVoice, MessageTypeImage,
		MessageTypeSystem, MessageTypeTyping, MessageTypeError:
		return true
	default:
		return false
	}
}

// IsValidRoomType reports whether t is an allowed room class.
func IsValidRoomType(t string) bool {
	switch RoomType(t) {
	case RoomTypeChat, RoomTypePlanning, RoomTypeContentGeneration, RoomTypePrivate:
		return true
	default:
		return false
	}
}

// IsValidPlanOperation reports whether op is an allowed collaborative
// edit operation.
func IsValidPlanOperation(op string) bool {
	switch op {
	case "create", "update", "delete", "move", "reorder":
		return true
	default:
		return false
	}
}

// Validate checks a send_message payload before a ChatMessage is built
// from it. Content length is measured in characters, not bytes.
func (p *SendMessagePayload) Validate() error {
	if !IsValidRoomID(p.RoomID) {
		return ErrInvalidRoomID
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return ErrContentTooLong
	}
	if p.MessageType != "" && !IsValidMessageType(p.MessageType) {
		return ErrInvalidMessageType
	}
	return nil
}

// Validate checks a plan_updated payload.
func (p *PlanUpdatePayload) Validate() error {
	if p.SessionID == "" || p.Operation == "" || p.TargetType == "" || p.TargetID == "" {
		return ErrInvalidOperation
	}
	if !IsValidPlanOperation(p.Operation) {
		return ErrInvalidOperation
	}
	return nil
}
