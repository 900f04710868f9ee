package download

import (
	"sync"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/chansync/events"
)

// Sample is one status report from the engine. Rates of zero mean the engine
// did not report them and they are derived from the previous sample.
type Sample struct {
	TotalSize       int64
	DownloadedBytes int64
	UploadedBytes   int64
	DownloadRate    int64
	UploadRate      int64
	Finished        bool
	At              time.Time
}

// StatsSnapshot is a consistent copy of Stats.
type StatsSnapshot struct {
	TotalSize       int64     `json:"totalSize"`
	DownloadedBytes int64     `json:"downloadedBytes"`
	UploadedBytes   int64     `json:"uploadedBytes"`
	DownloadRate    int64     `json:"downloadRate"`
	UploadRate      int64     `json:"uploadRate"`
	Progress        float64   `json:"progress"`
	IsFinished      bool      `json:"isFinished"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Stats is the observable transfer state of one playback. The event pump
// writes it; anyone may read or wait on Changed.
type Stats struct {
	mu      sync.RWMutex
	cur     StatsSnapshot
	changed chansync.BroadcastCond
}

func (s *Stats) Update(sample Sample) {
	if sample.At.IsZero() {
		sample.At = time.Now()
	}

	s.mu.Lock()
	prev := s.cur
	next := StatsSnapshot{
		TotalSize:       sample.TotalSize,
		DownloadedBytes: sample.DownloadedBytes,
		UploadedBytes:   sample.UploadedBytes,
		DownloadRate:    sample.DownloadRate,
		UploadRate:      sample.UploadRate,
		UpdatedAt:       sample.At,
	}
	if !prev.UpdatedAt.IsZero() {
		if dt := sample.At.Sub(prev.UpdatedAt).Seconds(); dt > 0 {
			if next.DownloadRate == 0 {
				next.DownloadRate = rate(prev.DownloadedBytes, next.DownloadedBytes, dt)
			}
			if next.UploadRate == 0 {
				next.UploadRate = rate(prev.UploadedBytes, next.UploadedBytes, dt)
			}
		}
	}
	if next.TotalSize > 0 {
		next.Progress = float64(next.DownloadedBytes) / float64(next.TotalSize)
		if next.Progress > 1 {
			next.Progress = 1
		}
	}
	next.IsFinished = sample.Finished || (next.TotalSize > 0 && next.DownloadedBytes >= next.TotalSize)
	if next.IsFinished {
		next.Progress = 1
	}
	s.cur = next
	s.mu.Unlock()

	s.changed.Broadcast()
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Changed returns a channel closed on the next Update.
func (s *Stats) Changed() events.Signaled {
	return s.changed.Signaled()
}

func rate(prev, cur int64, seconds float64) int64 {
	if cur <= prev {
		return 0
	}
	return int64(float64(cur-prev) / seconds)
}
