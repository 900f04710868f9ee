package torrent

import (
	"fmt"
	"time"

	"github.com/anacrolix/torrent/metainfo"

	"seqtorrent/internal/download"
	"seqtorrent/internal/engine"
)

// Source says where a playback comes from. Trackers are added on top of the
// configured ones, each in its own tier.
type Source struct {
	Magnet      string   `json:"magnet,omitempty"`
	TorrentFile string   `json:"torrentFile,omitempty"`
	Trackers    []string `json:"trackers,omitempty"`
}

func (s Source) validate() error {
	if (s.Magnet == "") == (s.TorrentFile == "") {
		return ErrInvalidSource
	}
	return nil
}

// infoHash identifies the torrent before the engine has seen it, so a second
// Add of the same content finds the first playback.
func (s Source) infoHash() (string, error) {
	if s.Magnet != "" {
		m, err := metainfo.ParseMagnetUri(s.Magnet)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		return m.InfoHash.HexString(), nil
	}
	mi, err := metainfo.LoadFromFile(s.TorrentFile)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	return mi.HashInfoBytes().HexString(), nil
}

func (s Source) apply(info *engine.AddInfo) {
	if s.Magnet != "" {
		info.SetMagnetURI(s.Magnet)
	} else {
		info.SetTorrentFilePath(s.TorrentFile)
	}
}

// PlaybackInfo is what the API reports about one playback.
type PlaybackInfo struct {
	ID           string                 `json:"id"`
	InfoHash     string                 `json:"infoHash"`
	Name         string                 `json:"name,omitempty"`
	Ready        bool                   `json:"ready"`
	Error        string                 `json:"error,omitempty"`
	Phase        string                 `json:"phase,omitempty"`
	Window       *download.Window       `json:"window,omitempty"`
	PieceCount   int                    `json:"pieceCount,omitempty"`
	PieceLength  int64                  `json:"pieceLength,omitempty"`
	Files        []engine.File          `json:"files,omitempty"`
	Stats        download.StatsSnapshot `json:"stats"`
	Peers        int                    `json:"peers"`
	AddedAt      time.Time              `json:"addedAt"`
	LastAccessed time.Time              `json:"lastAccessed"`
}

const (
	statsInterval = 1 * time.Minute
	maxRetries    = 3
	retryBackoff  = 100 * time.Millisecond
)
