package torrent

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"seqtorrent/internal/config"
	"seqtorrent/internal/download"
	"seqtorrent/internal/engine"
	"seqtorrent/internal/storage"
)

// Manager owns every playback and is the only reader of the engine event
// stream.
type Manager struct {
	session engine.Session
	store   *storage.ResumeStore
	config  *config.Config
	Logger  zerolog.Logger

	opts   download.Options
	policy engine.DeadlinePolicy

	mu        sync.RWMutex
	playbacks map[string]*Playback
	byHash    map[string]*Playback
	byHandle  map[engine.HandleID]*Playback

	settingsMu sync.Mutex
	settings   engine.Settings

	limiter   *rate.Limiter
	semaphore chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewManager starts the event pump and background routines. The manager
// takes ownership of session and closes it in Close.
func NewManager(cfg *config.Config, session engine.Session, store *storage.ResumeStore, log zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		session: session,
		store:   store,
		config:  cfg,
		Logger:  log.With().Str("component", "manager").Logger(),
		opts: download.Options{
			WindowSize: cfg.WindowSize,
			HeaderSize: cfg.HeaderSize,
			FooterSize: cfg.FooterSize,
		},
		policy: engine.DeadlinePolicy{
			Base: cfg.DeadlineBase,
			Step: cfg.DeadlineStep,
		},
		playbacks: make(map[string]*Playback),
		byHash:    make(map[string]*Playback),
		byHandle:  make(map[engine.HandleID]*Playback),
		settings: engine.Settings{
			DownloadRateLimit: cfg.DownloadRateLimit,
			UploadRateLimit:   cfg.UploadRateLimit,
			MaxConnections:    cfg.MaxConnections,
		},
		limiter:   rate.NewLimiter(rate.Every(10*time.Millisecond), 100),
		semaphore: make(chan struct{}, cfg.MaxPlaybacks),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.wg.Add(5)
	go m.pump()
	go m.statusRoutine()
	go m.cleanupRoutine()
	go m.resumeRoutine()
	go m.statsRoutine()

	return m, nil
}

func (m *Manager) Get(id string) (*Playback, error) {
	m.mu.RLock()
	p, ok := m.playbacks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrPlaybackNotFound
	}
	p.touch()
	return p, nil
}

// List returns playbacks oldest first.
func (m *Manager) List() []*Playback {
	m.mu.RLock()
	out := make([]*Playback, 0, len(m.playbacks))
	for _, p := range m.playbacks {
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out
}

func (m *Manager) register(p *Playback) {
	m.playbacks[p.ID] = p
	m.byHash[p.InfoHash] = p
	m.byHandle[p.handle.ID()] = p
	activePlaybacks.Inc()
}

// unregister reports false when p was already gone.
func (m *Manager) unregister(p *Playback) bool {
	if m.playbacks[p.ID] != p {
		return false
	}
	delete(m.playbacks, p.ID)
	delete(m.byHash, p.InfoHash)
	delete(m.byHandle, p.handle.ID())
	activePlaybacks.Dec()
	return true
}

func (m *Manager) lookupHandle(id engine.HandleID) *Playback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byHandle[id]
}

// Close releases every playback, then closes the engine session and waits
// for the background goroutines.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()

		m.mu.Lock()
		all := make([]*Playback, 0, len(m.playbacks))
		for _, p := range m.playbacks {
			all = append(all, p)
		}
		for _, p := range all {
			m.unregister(p)
		}
		m.mu.Unlock()

		var g errgroup.Group
		for _, p := range all {
			p := p
			g.Go(func() error {
				m.session.ReleaseHandle(p.handle)
				<-m.semaphore
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			m.Logger.Error().Err(err).Msg("Error releasing playbacks")
		}

		m.closeErr = m.session.Close()
		m.wg.Wait()

		if !m.config.KeepFiles {
			for _, p := range all {
				m.deleteFiles(p)
			}
		}
		m.Logger.Info().Int("playbacks", len(all)).Msg("manager closed")
	})
	return m.closeErr
}
