// Package anacrolix binds the engine boundary to github.com/anacrolix/torrent.
package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"seqtorrent/internal/engine"
	"seqtorrent/internal/peerfilter"
)

// Config holds client options that cannot change after the session starts.
type Config struct {
	ListenPort        int
	NoDHT             bool
	NoUpload          bool
	Seed              bool
	MaxConnections    int
	DownloadRateLimit int64
	UploadRateLimit   int64
	// Deadlines at or below UrgentDeadline map to the engine's highest
	// priority, later ones to high priority.
	UrgentDeadline time.Duration
	EventBuffer    int
}

func DefaultConfig() Config {
	return Config{
		ListenPort:     42069,
		Seed:           true,
		MaxConnections: 50,
		UrgentDeadline: time.Second,
		EventBuffer:    1024,
	}
}

// Session implements engine.Session. Every call into the anacrolix client
// happens on the session executor.
type Session struct {
	client *torrent.Client
	cfg    Config
	log    zerolog.Logger
	exec   *engine.Executor

	events chan engine.Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	blocklist *blocklist
	filters   atomic.Pointer[[]peerfilter.Filter]
	dlLimiter *rate.Limiter
	ulLimiter *rate.Limiter

	nextID   atomic.Uint64
	handles  map[engine.HandleID]*Handle // executor only
	paused   bool                        // executor only
	maxConns int                         // executor only

	closeOnce sync.Once
	closeErr  error
}

var _ engine.Session = (*Session)(nil)

func NewSession(cfg Config, log zerolog.Logger) (*Session, error) {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultConfig().MaxConnections
	}

	s := &Session{
		cfg:       cfg,
		log:       log.With().Str("component", "engine").Logger(),
		events:    make(chan engine.Event, cfg.EventBuffer),
		blocklist: newBlocklist(),
		dlLimiter: newLimiter(cfg.DownloadRateLimit),
		ulLimiter: newLimiter(cfg.UploadRateLimit),
		handles:   make(map[engine.HandleID]*Handle),
		maxConns:  cfg.MaxConnections,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = ""
	clientConfig.ListenPort = cfg.ListenPort
	clientConfig.NoDHT = cfg.NoDHT
	clientConfig.NoUpload = cfg.NoUpload
	clientConfig.Seed = cfg.Seed
	clientConfig.EstablishedConnsPerTorrent = cfg.MaxConnections
	clientConfig.HalfOpenConnsPerTorrent = cfg.MaxConnections / 2
	clientConfig.TorrentPeersHighWater = cfg.MaxConnections * 2
	clientConfig.TorrentPeersLowWater = cfg.MaxConnections
	clientConfig.DownloadRateLimiter = s.dlLimiter
	clientConfig.UploadRateLimiter = s.ulLimiter
	clientConfig.IPBlocklist = s.blocklist
	clientConfig.Callbacks.CompletedHandshake = s.onHandshake
	clientConfig.Callbacks.ReadExtendedHandshake = s.onExtendedHandshake

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("create torrent client: %w", err)
	}
	s.client = client
	s.exec = engine.NewExecutor(engine.DefaultExecutorQueue, s.log)

	return s, nil
}

func newLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
}

func setLimit(l *rate.Limiter, bytesPerSecond int64) {
	if bytesPerSecond <= 0 {
		l.SetLimit(rate.Inf)
		return
	}
	l.SetBurst(int(bytesPerSecond))
	l.SetLimit(rate.Limit(bytesPerSecond))
}

func (s *Session) CreateTorrentHandle() engine.Handle {
	return &Handle{
		id: engine.HandleID(s.nextID.Add(1)),
		s:  s,
	}
}

func (s *Session) CreateTorrentAddInfo() *engine.AddInfo {
	return engine.NewAddInfo()
}

func (s *Session) StartDownload(h engine.Handle, info *engine.AddInfo, saveDir string) bool {
	hh, ok := h.(*Handle)
	if !ok || hh.s != s || info == nil {
		return false
	}

	err := s.exec.Do(s.ctx, func() error {
		if hh.t != nil {
			return errors.New("handle already started")
		}
		spec, err := s.torrentSpec(info)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(saveDir, 0o755); err != nil {
			return fmt.Errorf("create save dir: %w", err)
		}
		spec.Storage = storage.NewFile(saveDir)

		t, isNew, err := s.client.AddTorrentSpec(spec)
		if err != nil {
			return fmt.Errorf("add torrent: %w", err)
		}
		if !isNew {
			return fmt.Errorf("torrent %s already running", t.InfoHash().HexString())
		}

		t.SetMaxEstablishedConns(s.maxConns)
		if s.paused {
			t.DisallowDataDownload()
		}
		hh.t = t
		hh.saveDir = saveDir
		hh.applyPendingTrackers()
		s.handles[hh.id] = hh

		ctx, cancel := context.WithCancel(s.ctx)
		hh.cancel = cancel
		s.wg.Add(1)
		go s.watch(ctx, hh.id, t)
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Uint64("handle", uint64(hh.id)).Str("kind", info.Kind().String()).Msg("start download rejected")
		return false
	}
	return true
}

// torrentSpec prefers saved resume data over the configured source.
func (s *Session) torrentSpec(info *engine.AddInfo) (*torrent.TorrentSpec, error) {
	if p := info.ResumeDataPath(); p != "" {
		if _, err := os.Stat(p); err == nil {
			mi, err := metainfo.LoadFromFile(p)
			if err == nil {
				return torrent.TorrentSpecFromMetaInfoErr(mi)
			}
			s.log.Warn().Err(err).Str("path", p).Msg("ignoring unreadable resume data")
		}
	}

	switch info.Kind() {
	case engine.KindMagnet:
		return torrent.TorrentSpecFromMagnetUri(info.Source())
	case engine.KindTorrentFile:
		mi, err := metainfo.LoadFromFile(info.Source())
		if err != nil {
			return nil, fmt.Errorf("load torrent file: %w", err)
		}
		return torrent.TorrentSpecFromMetaInfoErr(mi)
	default:
		return nil, errors.New("no torrent source set")
	}
}

func (s *Session) ReleaseHandle(h engine.Handle) {
	hh, ok := h.(*Handle)
	if !ok || hh.s != s {
		return
	}
	s.exec.Submit(func() {
		if hh.cancel != nil {
			hh.cancel()
		}
		if hh.t != nil {
			hh.t.Drop()
			hh.t = nil
		}
		delete(s.handles, hh.id)
	})
}

func (s *Session) ApplySettings(settings engine.Settings) error {
	setLimit(s.dlLimiter, settings.DownloadRateLimit)
	setLimit(s.ulLimiter, settings.UploadRateLimit)
	s.setPeerFilters(settings.PeerFilters)

	return s.exec.Do(s.ctx, func() error {
		if settings.MaxConnections > 0 {
			s.maxConns = settings.MaxConnections
			for _, h := range s.handles {
				h.t.SetMaxEstablishedConns(s.maxConns)
			}
		}
		return nil
	})
}

func (s *Session) Resume() {
	s.exec.Submit(func() {
		s.paused = false
		for _, h := range s.handles {
			h.t.AllowDataDownload()
		}
	})
}

func (s *Session) Pause() {
	s.exec.Submit(func() {
		s.paused = true
		for _, h := range s.handles {
			h.t.DisallowDataDownload()
		}
	})
}

func (s *Session) Events() <-chan engine.Event {
	return s.events
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.exec.Do(context.Background(), func() error {
			for id, h := range s.handles {
				h.t.Drop()
				h.t = nil
				delete(s.handles, id)
			}
			return nil
		})
		s.exec.Close()
		s.wg.Wait()
		close(s.events)
		s.closeErr = errors.Join(s.client.Close()...)
	})
	return s.closeErr
}

// emit blocks until the event is taken or the session closes. Only watcher
// goroutines use it.
func (s *Session) emit(ctx context.Context, ev engine.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// tryEmit never blocks, so executor tasks cannot stall behind a slow
// consumer. Status and resume reports are periodic and may be dropped.
func (s *Session) tryEmit(ev engine.Event) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Debug().Uint64("handle", uint64(ev.Handle())).Msgf("dropping %T, event queue full", ev)
	}
}

// watch reports metadata and piece completions for one torrent.
func (s *Session) watch(ctx context.Context, id engine.HandleID, t *torrent.Torrent) {
	defer s.wg.Done()

	select {
	case <-t.GotInfo():
	case <-t.Closed():
		return
	case <-ctx.Done():
		return
	}

	sub := t.SubscribePieceStateChanges()
	defer sub.Close()

	if !s.emit(ctx, engine.MetadataReceived{ID: id, Layout: layoutOf(t)}) {
		return
	}
	for i := 0; i < t.NumPieces(); i++ {
		if t.PieceState(i).Complete {
			if !s.emit(ctx, engine.PieceFinished{ID: id, Index: i}) {
				return
			}
		}
	}

	for {
		select {
		case v, ok := <-sub.Values:
			if !ok {
				return
			}
			if v.Complete {
				if !s.emit(ctx, engine.PieceFinished{ID: id, Index: v.Index}) {
					return
				}
			}
		case <-t.Closed():
			return
		case <-ctx.Done():
			return
		}
	}
}

func layoutOf(t *torrent.Torrent) engine.Layout {
	info := t.Info()
	files := t.Files()
	l := engine.Layout{
		Name:        t.Name(),
		InfoHash:    t.InfoHash().HexString(),
		PieceLength: info.PieceLength,
		TotalLength: t.Length(),
		Files:       make([]engine.File, 0, len(files)),
	}
	for i, f := range files {
		l.Files = append(l.Files, engine.File{
			Index:  i,
			Path:   f.Path(),
			Offset: f.Offset(),
			Length: f.Length(),
		})
	}
	return l
}
