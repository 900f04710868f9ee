// Package streaming serves torrent files to players that read sequentially
// and seek at will. Seeks are forwarded to the piece scheduler so the bytes
// the player wants next are the ones requested next.
package streaming

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"seqtorrent/internal/engine"
	"seqtorrent/internal/piece"
)

var ErrClosed = errors.New("reader closed")

// SeekSink receives the piece a player jumped to. download.Controller
// implements it.
type SeekSink interface {
	IsDownloading(pieceIndex int) bool
	OnSeek(pieceIndex int)
}

// Reader wraps an engine reader for one file. A Seek only records the new
// position; the sink is told on the next Read. http.ServeContent seeks to the
// end to size the content and back again, and neither of those should move
// the window.
type Reader struct {
	mu     sync.Mutex
	r      io.ReadSeekCloser
	file   engine.File
	pieces []*piece.Piece
	sink   SeekSink
	log    zerolog.Logger

	pos     int64
	pending bool
	closed  bool
}

var _ io.ReadSeekCloser = (*Reader)(nil)

func NewReader(r io.ReadSeekCloser, file engine.File, pieces []*piece.Piece, sink SeekSink, log zerolog.Logger) *Reader {
	return &Reader{
		r:       r,
		file:    file,
		pieces:  pieces,
		sink:    sink,
		log:     log.With().Int("file", file.Index).Logger(),
		// The first Read may start anywhere in the torrent.
		pending: true,
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	if r.pending {
		r.pending = false
		r.notify(r.pos)
	}
	r.mu.Unlock()

	// The engine reader may block until the piece arrives; do not hold mu.
	n, err := r.r.Read(p)

	r.mu.Lock()
	r.pos += int64(n)
	r.mu.Unlock()
	return n, err
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	pos, err := r.r.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	if pos != r.pos {
		r.pending = true
	}
	r.pos = pos
	return pos, nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.r.Close()
}

// PieceAt maps a position inside the file to its piece, or -1 past the end.
func (r *Reader) PieceAt(pos int64) int {
	if pos < 0 || pos >= r.file.Length || len(r.pieces) == 0 {
		return -1
	}
	return piece.IndexAt(r.pieces, r.file.Offset+pos)
}

func (r *Reader) notify(pos int64) {
	idx := r.PieceAt(pos)
	if idx < 0 || r.sink == nil {
		return
	}
	if r.sink.IsDownloading(idx) {
		return
	}
	r.log.Debug().Int64("pos", pos).Int("piece", idx).Msg("player seek")
	r.sink.OnSeek(idx)
	seeksForwarded.Inc()
}
