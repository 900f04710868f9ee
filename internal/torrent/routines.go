package torrent

import (
	"time"
)

// statusRoutine asks the engine for a status report on every playback.
func (m *Manager) statusRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, p := range m.List() {
				p.handle.PostStatusUpdates()
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) resumeRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.ResumeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, p := range m.List() {
				if p.Controller() != nil {
					p.handle.PostSaveResume()
				}
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup(time.Now())
		case <-m.ctx.Done():
			return
		}
	}
}

// cleanup drops playbacks nobody has touched for torrent_timeout and those
// still without metadata after metadata_timeout. Playbacks with an open
// reader are never idle.
func (m *Manager) cleanup(now time.Time) {
	type expired struct {
		p      *Playback
		reason string
	}
	var drop []expired

	m.mu.Lock()
	for _, p := range m.playbacks {
		reason := ""
		switch {
		case p.readers.Load() > 0:
		case !p.isReady() && m.config.MetadataTimeout > 0 && now.Sub(p.AddedAt) > m.config.MetadataTimeout:
			reason = "metadata timeout"
		case m.config.TorrentTimeout > 0 && now.Sub(p.LastAccessed()) > m.config.TorrentTimeout:
			reason = "inactive"
		}
		if reason != "" && m.unregister(p) {
			drop = append(drop, expired{p, reason})
		}
	}
	m.mu.Unlock()

	for _, e := range drop {
		m.release(e.p, e.reason)
	}

	if err := m.store.Cleanup(); err != nil {
		m.Logger.Warn().Err(err).Msg("resume store cleanup failed")
	}
}

func (m *Manager) statsRoutine() {
	defer m.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var down, up, downRate, upRate int64
			playbacks := m.List()
			for _, p := range playbacks {
				s := p.stats.Snapshot()
				down += s.DownloadedBytes
				up += s.UploadedBytes
				downRate += s.DownloadRate
				upRate += s.UploadRate
			}
			m.Logger.Info().
				Int("active_playbacks", len(playbacks)).
				Int64("total_download", down).
				Int64("total_upload", up).
				Int64("download_speed", downRate).
				Int64("upload_speed", upRate).
				Int("resume_entries", m.store.Len()).
				Msg("Playback manager stats")
		case <-m.ctx.Done():
			return
		}
	}
}
