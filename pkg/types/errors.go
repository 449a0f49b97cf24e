package types

import "errors"

var (
	ErrInvalidRoomID      = errors.New("invalid room id")
	ErrInvalidUserID      = errors.New("invalid user id")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidRoomType    = errors.New("invalid room type")
	ErrInvalidOperation   = errors.New("invalid plan operation")
	ErrEmptyContent       = errors.New("message content is empty")
	ErrContentTooLong     = errors.New("message content exceeds maximum length")
)
