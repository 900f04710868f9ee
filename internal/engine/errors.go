package engine

import "errors"

var (
	ErrExecutorClosed = errors.New("executor closed")
	ErrSessionClosed  = errors.New("engine session closed")
	ErrNoMetadata     = errors.New("torrent metadata not received yet")
	ErrInvalidFile    = errors.New("invalid file index")
	ErrUnknownHandle  = errors.New("handle does not belong to this session")
)
