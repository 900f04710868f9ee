// Package engine is the boundary between playback scheduling and a BitTorrent
// implementation. Everything the scheduler needs from the engine goes through
// Session and Handle, so scheduling can be driven by a fake in tests.
package engine

import (
	"io"
	"time"

	"seqtorrent/internal/peerfilter"
)

// HandleID identifies a handle within one session.
type HandleID uint64

// Handle is an opaque reference to one torrent inside the engine. All methods
// are asynchronous requests; results come back as events.
type Handle interface {
	ID() HandleID
	PostStatusUpdates()
	PostSaveResume()
	// SetPieceDeadline asks the engine to have the piece within deadline.
	SetPieceDeadline(index int, deadline time.Duration)
	ClearPieceDeadlines()
	AddTracker(url string, tier int, failLimit int)
	// SetWantedPieces replaces the set of pieces the engine may fetch.
	SetWantedPieces(indexes []int)
	// NewReader opens a reader over one file of the torrent. It fails until
	// metadata has been received.
	NewReader(fileIndex int) (io.ReadSeekCloser, error)
}

// Session owns the engine and every handle created from it.
type Session interface {
	// CreateTorrentHandle and CreateTorrentAddInfo have no effect on the
	// engine until StartDownload.
	CreateTorrentHandle() Handle
	CreateTorrentAddInfo() *AddInfo
	// StartDownload returns false when the engine rejects the torrent, for
	// example because it is already running or the source is unusable.
	StartDownload(h Handle, info *AddInfo, saveDir string) bool
	// ReleaseHandle drops the torrent. Releasing twice is harmless.
	ReleaseHandle(h Handle)
	ApplySettings(s Settings) error
	Resume()
	Pause()
	Events() <-chan Event
	Close() error
}

// Settings are engine-wide. Zero rate limits mean unlimited.
type Settings struct {
	DownloadRateLimit int64
	UploadRateLimit   int64
	MaxConnections    int
	PeerFilters       []peerfilter.Filter
}

// File is one file of a multi-file torrent, located in the concatenated
// piece space.
type File struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

// Layout is what becomes known once metadata arrives.
type Layout struct {
	Name        string `json:"name"`
	InfoHash    string `json:"infoHash"`
	PieceLength int64  `json:"pieceLength"`
	TotalLength int64  `json:"totalLength"`
	Files       []File `json:"files"`
}

// Status is a point-in-time transfer report for one torrent. Rates are zero
// when the engine does not compute them.
type Status struct {
	TotalSize       int64
	DownloadedBytes int64
	UploadedBytes   int64
	DownloadRate    int64
	UploadRate      int64
	Peers           int
	Finished        bool
}
