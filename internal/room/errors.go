package room

import "errors"

var (
	ErrInvalidRoomID     = errors.New("invalid room ID")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrNotInRoom         = errors.New("user is not in room")
	ErrAccessDenied      = errors.New("access to room denied")
	ErrNotLocked         = errors.New("resource is not locked")
	ErrUnlockDenied      = errors.New("lock is held by another user")
)
