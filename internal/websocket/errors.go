package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrWriteBufferFull  = errors.New("write buffer is full")
)
