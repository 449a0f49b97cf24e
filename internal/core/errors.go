package core

import "errors"

var (
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrUnknownEvent = errors.New("unknown event type")
)
