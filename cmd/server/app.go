package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"seqtorrent/internal/config"
	"seqtorrent/internal/engine/anacrolix"
	"seqtorrent/internal/peerfilter"
	"seqtorrent/internal/storage"
	"seqtorrent/internal/torrent"
	"seqtorrent/pkg/logger"
)

// app is the engine session, resume store and manager shared by every
// command.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	manager *torrent.Manager
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logger.NewLogger(cfg.LogLevel, cfg.LogConsole), nil
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	filters, err := peerfilter.Build(ctx, cfg.PeerFilters, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build peer filters: %w", err)
	}

	sessCfg := anacrolix.DefaultConfig()
	sessCfg.ListenPort = cfg.ListenPort
	sessCfg.NoDHT = cfg.NoDHT
	sessCfg.NoUpload = cfg.NoUpload
	sessCfg.Seed = !cfg.NoUpload
	sessCfg.MaxConnections = cfg.MaxConnections
	sessCfg.DownloadRateLimit = cfg.DownloadRateLimit
	sessCfg.UploadRateLimit = cfg.UploadRateLimit
	sessCfg.UrgentDeadline = cfg.UrgentDeadline
	session, err := anacrolix.NewSession(sessCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start torrent session: %w", err)
	}

	store, err := storage.NewResumeStore(cfg.ResumeDir, cfg.ResumeCacheEntries, cfg.ResumeCacheBytes)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to open resume store: %w", err)
	}

	manager, err := torrent.NewManager(cfg, session, store, log)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to create playback manager: %w", err)
	}
	if len(filters) > 0 {
		if err := manager.SetPeerFilters(filters); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to apply peer filters: %w", err)
		}
	}

	return &app{cfg: cfg, log: log, manager: manager}, nil
}

func (a *app) Close() error {
	return a.manager.Close()
}

// parseSource treats anything that is not a magnet link as a torrent file.
func parseSource(arg string, trackers []string) torrent.Source {
	if strings.HasPrefix(arg, "magnet:") {
		return torrent.Source{Magnet: arg, Trackers: trackers}
	}
	return torrent.Source{TorrentFile: arg, Trackers: trackers}
}
