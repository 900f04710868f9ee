package torrent

import "errors"

var (
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrMaxPlaybacksReached = errors.New("maximum number of concurrent playbacks reached")
	ErrPlaybackNotFound    = errors.New("playback not found")
	ErrPlaybackNotReady    = errors.New("playback metadata not ready")
	ErrMetadataTimeout     = errors.New("timeout waiting for torrent metadata")
	ErrInvalidSource       = errors.New("exactly one of magnet or torrent file is required")
	ErrStartRejected       = errors.New("engine rejected the torrent")
	ErrInvalidFileIndex    = errors.New("invalid file index")
	ErrInvalidPieceIndex   = errors.New("invalid piece index")
	ErrInvalidOffset       = errors.New("offset outside torrent data")
	ErrManagerClosed       = errors.New("manager closed")
)
