package torrent

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"seqtorrent/internal/engine"
	"seqtorrent/internal/piece"
	"seqtorrent/internal/streaming"
)

// Add starts a playback, or returns the running one for the same torrent.
func (m *Manager) Add(ctx context.Context, src Source) (*Playback, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	if err := m.ctx.Err(); err != nil {
		return nil, ErrManagerClosed
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateLimitExceeded, err)
	}

	infoHash, err := src.infoHash()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if p, ok := m.byHash[infoHash]; ok {
		m.mu.Unlock()
		p.touch()
		return p, nil
	}
	select {
	case m.semaphore <- struct{}{}:
	default:
		m.mu.Unlock()
		return nil, ErrMaxPlaybacksReached
	}

	h := m.session.CreateTorrentHandle()
	info := m.session.CreateTorrentAddInfo()
	src.apply(info)
	if path, ok := m.store.Path(infoHash); ok {
		info.SetResumeDataPath(path)
	}
	p := newPlayback(uuid.NewString(), infoHash, h, filepath.Join(m.config.DownloadDir, infoHash))
	// Registered before starting so that metadata for a fast torrent finds it.
	m.register(p)
	m.mu.Unlock()

	log := m.Logger.With().Str("playback", p.ID).Str("infoHash", infoHash).Logger()

	if !m.session.StartDownload(h, info, p.saveDir) {
		m.mu.Lock()
		m.unregister(p)
		m.mu.Unlock()
		m.session.ReleaseHandle(h)
		<-m.semaphore
		startRejected.Inc()
		log.Warn().Str("kind", info.Kind().String()).Msg("start rejected")
		return nil, ErrStartRejected
	}

	trackers := append(append([]string(nil), m.config.Trackers...), src.Trackers...)
	for tier, url := range trackers {
		h.AddTracker(url, tier, m.config.TrackerFailLimit)
	}

	playbacksAdded.Inc()
	log.Info().
		Str("kind", info.Kind().String()).
		Bool("resume", info.ResumeDataPath() != "").
		Int("trackers", len(trackers)).
		Msg("playback started")
	return p, nil
}

// Remove stops a playback and releases its engine handle. Downloaded data is
// deleted unless the manager keeps files.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	p, ok := m.playbacks[id]
	if ok {
		m.unregister(p)
	}
	m.mu.Unlock()
	if !ok {
		return ErrPlaybackNotFound
	}
	m.release(p, "removed")
	return nil
}

func (m *Manager) release(p *Playback, reason string) {
	m.Logger.Info().Str("playback", p.ID).Str("infoHash", p.InfoHash).Str("reason", reason).Msg("Removing playback")
	m.session.ReleaseHandle(p.handle)
	<-m.semaphore
	if !m.config.KeepFiles {
		m.deleteFiles(p)
	}
}

// Seek moves the playback window to pieceIndex.
func (m *Manager) Seek(id string, pieceIndex int) error {
	p, err := m.Get(id)
	if err != nil {
		return err
	}
	c, pieces, err := p.readyController()
	if err != nil {
		return err
	}
	if pieceIndex < 0 || pieceIndex >= len(pieces) {
		return ErrInvalidPieceIndex
	}
	c.OnSeek(pieceIndex)
	return nil
}

// SeekOffset moves the window to the piece holding byte offset of the
// concatenated torrent data.
func (m *Manager) SeekOffset(id string, offset int64) (int, error) {
	p, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	c, pieces, err := p.readyController()
	if err != nil {
		return 0, err
	}
	if offset < 0 || offset >= piece.TotalSize(pieces) {
		return 0, ErrInvalidOffset
	}
	idx := piece.IndexAt(pieces, offset)
	c.OnSeek(idx)
	return idx, nil
}

// Resume re-asserts the current window to the engine.
func (m *Manager) Resume(id string) error {
	p, err := m.Get(id)
	if err != nil {
		return err
	}
	c, _, err := p.readyController()
	if err != nil {
		return err
	}
	c.OnTorrentResumed()
	return nil
}

func (m *Manager) PauseAll() {
	m.session.Pause()
	m.Logger.Info().Msg("session paused")
}

// ResumeAll resumes the session and re-asserts every window.
func (m *Manager) ResumeAll() {
	m.session.Resume()
	for _, p := range m.List() {
		if c := p.Controller(); c != nil {
			c.OnTorrentResumed()
		}
	}
	m.Logger.Info().Msg("session resumed")
}

// WaitReady blocks until metadata has been handled for id.
func (m *Manager) WaitReady(ctx context.Context, id string) (*Playback, error) {
	p, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if m.config.MetadataTimeout > 0 {
		t := time.NewTimer(m.config.MetadataTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-p.Ready():
	case <-timeout:
		return nil, ErrMetadataTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.ctx.Done():
		return nil, ErrManagerClosed
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// WaitPiece blocks until the piece is verified. It does not change what is
// requested; seek first if the piece is outside the window.
func (m *Manager) WaitPiece(ctx context.Context, id string, index int) error {
	p, err := m.Get(id)
	if err != nil {
		return err
	}
	_, pieces, err := p.readyController()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(pieces) {
		return ErrInvalidPieceIndex
	}

	pc := pieces[index]
	for {
		changed := pc.State.Changed()
		if pc.State.Load() == piece.Finished {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return ErrManagerClosed
		}
	}
}

// WaitPieces moves the window to first and waits for every piece up to last
// in order, calling onPiece after each one. Footer pieces are only requested
// again by a seek into the footer, so one is issued when the wait reaches a
// footer piece that is neither finished nor requested.
func (m *Manager) WaitPieces(ctx context.Context, id string, first, last int, onPiece func(index int)) error {
	p, err := m.Get(id)
	if err != nil {
		return err
	}
	c, pieces, err := p.readyController()
	if err != nil {
		return err
	}
	if first < 0 || last >= len(pieces) || first > last {
		return ErrInvalidPieceIndex
	}

	c.OnSeek(first)
	for i := first; i <= last; i++ {
		if i > c.LastIndex() && !c.IsDownloading(i) && pieces[i].State.Load() != piece.Finished {
			c.OnSeek(i)
		}
		if err := m.WaitPiece(ctx, id, i); err != nil {
			return err
		}
		if onPiece != nil {
			onPiece(i)
		}
	}
	return nil
}

// OpenFile waits for metadata and returns a reader over one file whose seeks
// move the playback window.
func (m *Manager) OpenFile(ctx context.Context, id string, fileIndex int) (io.ReadSeekCloser, engine.File, error) {
	p, err := m.WaitReady(ctx, id)
	if err != nil {
		return nil, engine.File{}, err
	}
	c, pieces, err := p.readyController()
	if err != nil {
		return nil, engine.File{}, err
	}
	layout, _ := p.Layout()
	if fileIndex < 0 || fileIndex >= len(layout.Files) {
		return nil, engine.File{}, ErrInvalidFileIndex
	}
	file := layout.Files[fileIndex]

	r, err := p.handle.NewReader(fileIndex)
	if err != nil {
		return nil, engine.File{}, fmt.Errorf("open file %d: %w", fileIndex, err)
	}
	p.readers.Add(1)
	return &trackedReader{
		Reader: streaming.NewReader(r, file, pieces, c, m.Logger.With().Str("playback", p.ID).Logger()),
		p:      p,
	}, file, nil
}

// trackedReader keeps its playback from being treated as idle while open.
type trackedReader struct {
	*streaming.Reader
	p    *Playback
	once sync.Once
}

func (r *trackedReader) Read(b []byte) (int, error) {
	r.p.touch()
	return r.Reader.Read(b)
}

func (r *trackedReader) Close() error {
	r.once.Do(func() {
		r.p.readers.Add(-1)
		r.p.touch()
	})
	return r.Reader.Close()
}
