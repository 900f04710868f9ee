package peerfilter

import "errors"

var (
	ErrInvalidRange   = errors.New("invalid ip range")
	ErrInvalidPattern = errors.New("invalid peer pattern")
)
