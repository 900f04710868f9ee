package torrent

import (
	"seqtorrent/internal/engine"
	"seqtorrent/internal/peerfilter"
)

// Settings returns the engine settings last applied through the manager.
func (m *Manager) Settings() engine.Settings {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	return m.settings
}

// ApplySettings replaces the engine-wide settings.
func (m *Manager) ApplySettings(s engine.Settings) error {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	if err := m.session.ApplySettings(s); err != nil {
		return err
	}
	m.settings = s
	m.Logger.Info().
		Int64("download_limit", s.DownloadRateLimit).
		Int64("upload_limit", s.UploadRateLimit).
		Int("max_connections", s.MaxConnections).
		Int("peer_filters", len(s.PeerFilters)).
		Msg("engine settings applied")
	return nil
}

// SetMaxConnections sets the per-torrent connection limit.
func (m *Manager) SetMaxConnections(maxConnections int) error {
	s := m.Settings()
	s.MaxConnections = maxConnections
	return m.ApplySettings(s)
}

// SetLimits sets the session rate limits in bytes per second. Zero means
// unlimited.
func (m *Manager) SetLimits(downloadLimit, uploadLimit int64) error {
	s := m.Settings()
	s.DownloadRateLimit = downloadLimit
	s.UploadRateLimit = uploadLimit
	return m.ApplySettings(s)
}

func (m *Manager) SetPeerFilters(filters []peerfilter.Filter) error {
	s := m.Settings()
	s.PeerFilters = filters
	return m.ApplySettings(s)
}
