package torrent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/boljen/go-bitmap"

	"seqtorrent/internal/download"
	"seqtorrent/internal/engine"
	"seqtorrent/internal/piece"
)

// Playback is one torrent being streamed: its engine handle plus, once
// metadata arrives, the piece list and the controller scheduling it.
type Playback struct {
	ID       string
	InfoHash string
	AddedAt  time.Time

	handle  engine.Handle
	saveDir string
	stats   download.Stats

	mu         sync.RWMutex
	layout     *engine.Layout
	pieces     []*piece.Piece
	controller *download.Controller
	err        error

	ready        chan struct{}
	readyOnce    sync.Once
	lastAccessed atomic.Int64
	peers        atomic.Int32
	readers      atomic.Int32
}

func newPlayback(id, infoHash string, h engine.Handle, saveDir string) *Playback {
	p := &Playback{
		ID:       id,
		InfoHash: infoHash,
		AddedAt:  time.Now(),
		handle:   h,
		saveDir:  saveDir,
		ready:    make(chan struct{}),
	}
	p.touch()
	return p
}

// Ready is closed once metadata has been handled, successfully or not.
func (p *Playback) Ready() <-chan struct{} { return p.ready }

func (p *Playback) Stats() *download.Stats { return &p.stats }

// Controller returns nil until metadata is received.
func (p *Playback) Controller() *download.Controller {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.controller
}

func (p *Playback) Pieces() []*piece.Piece {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pieces
}

func (p *Playback) Layout() (engine.Layout, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.layout == nil {
		return engine.Layout{}, false
	}
	return *p.layout, true
}

func (p *Playback) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *Playback) LastAccessed() time.Time {
	return time.Unix(0, p.lastAccessed.Load())
}

func (p *Playback) touch() {
	p.lastAccessed.Store(time.Now().UnixNano())
}

func (p *Playback) isReady() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

func (p *Playback) markReady(layout engine.Layout, pieces []*piece.Piece, c *download.Controller, err error) {
	p.mu.Lock()
	p.layout = &layout
	p.pieces = pieces
	p.controller = c
	p.err = err
	p.mu.Unlock()
	p.readyOnce.Do(func() { close(p.ready) })
}

// readyController fails when metadata is missing or could not be used.
func (p *Playback) readyController() (*download.Controller, []*piece.Piece, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, nil, p.err
	}
	if p.controller == nil {
		return nil, nil, ErrPlaybackNotReady
	}
	return p.controller, p.pieces, nil
}

func (p *Playback) Info() PlaybackInfo {
	info := PlaybackInfo{
		ID:           p.ID,
		InfoHash:     p.InfoHash,
		Ready:        p.isReady(),
		Stats:        p.stats.Snapshot(),
		Peers:        int(p.peers.Load()),
		AddedAt:      p.AddedAt,
		LastAccessed: p.LastAccessed(),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		info.Error = p.err.Error()
	}
	if p.layout != nil {
		info.Name = p.layout.Name
		info.PieceLength = p.layout.PieceLength
		info.Files = p.layout.Files
	}
	if p.controller != nil {
		w := p.controller.Snapshot()
		info.Window = &w
		info.Phase = p.controller.Phase().String()
		info.PieceCount = len(p.pieces)
	}
	return info
}

// Bitfield returns one bit per piece, set when the piece has finished
// downloading, and the piece count. It is empty before metadata.
func (p *Playback) Bitfield() (bitmap.Bitmap, int) {
	pieces := p.Pieces()
	b := bitmap.New(len(pieces))
	for i, pc := range pieces {
		if pc.State.Load() == piece.Finished {
			b.Set(i, true)
		}
	}
	return b, len(pieces)
}
