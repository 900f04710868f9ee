package download

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"seqtorrent/internal/piece"
)

const (
	DefaultWindowSize = 8
	DefaultHeaderSize = 128 * 1024
	DefaultFooterSize = 128 * 1024
)

// Options tunes a Controller. HeaderSize and FooterSize are byte counts at the
// start and end of the torrent data that container formats need before
// playback can begin.
type Options struct {
	WindowSize int
	HeaderSize int64
	FooterSize int64
}

func DefaultOptions() Options {
	return Options{
		WindowSize: DefaultWindowSize,
		HeaderSize: DefaultHeaderSize,
		FooterSize: DefaultFooterSize,
	}
}

// Phase reports whether the container metadata is still being fetched.
type Phase int

const (
	PhaseMetadata Phase = iota
	PhaseSequential
)

func (p Phase) String() string {
	if p == PhaseSequential {
		return "sequential"
	}
	return "metadata"
}

// Window is a copy of the controller's request state.
type Window struct {
	Start  int   `json:"start"`
	End    int   `json:"end"`
	Pieces []int `json:"pieces"`
}

// Controller decides which pieces are requested from the engine. It keeps a
// window of at most WindowSize body pieces that only grows at its tail, plus
// the footer pieces while they are pending. Every change is pushed through
// Priorities.DownloadOnly.
//
// All methods are safe for concurrent use; engine completion events and
// player seeks typically arrive from different goroutines.
type Controller struct {
	mu sync.Mutex

	pieces     []*piece.Piece
	priorities piece.Priorities
	log        zerolog.Logger

	windowSize   int
	lastIndex    int
	headerPieces []int
	footerPieces []int

	windowStart int
	windowEnd   int
	// window holds requested body pieces in ascending order, footer holds
	// requested footer pieces. Together they are the downloading set.
	window []int
	footer []int
}

// NewController validates pieces and computes the initial request set: the
// first window of the body plus every footer piece.
func NewController(pieces []*piece.Piece, priorities piece.Priorities, opts Options, log zerolog.Logger) (*Controller, error) {
	if err := piece.Validate(pieces); err != nil {
		return nil, err
	}
	if opts.WindowSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindowSize, opts.WindowSize)
	}
	if priorities == nil {
		return nil, ErrNoPriorities
	}

	c := &Controller{
		pieces:     pieces,
		priorities: priorities,
		log:        log,
		windowSize: opts.WindowSize,
		windowEnd:  -1,
	}

	total := piece.TotalSize(pieces)
	if opts.FooterSize > 0 {
		footerStart := total - opts.FooterSize
		for i := len(pieces) - 1; i >= 0 && pieces[i].LastByte() >= footerStart; i-- {
			c.footerPieces = append([]int{i}, c.footerPieces...)
		}
	}
	c.lastIndex = len(pieces) - 1 - len(c.footerPieces)

	for i := 0; i <= c.lastIndex && pieces[i].Offset < opts.HeaderSize; i++ {
		c.headerPieces = append(c.headerPieces, i)
	}

	if err := c.checkRegions(); err != nil {
		return nil, err
	}

	c.fill()
	c.requestFooter(0)
	c.drainFinishedLeading()

	c.log.Debug().
		Int("pieces", len(pieces)).
		Int("lastIndex", c.lastIndex).
		Ints("header", c.headerPieces).
		Ints("footer", c.footerPieces).
		Ints("downloading", c.downloadingLocked()).
		Msg("download controller created")

	return c, nil
}

// checkRegions asserts that footer pieces never overlap the body window.
func (c *Controller) checkRegions() error {
	for _, i := range c.footerPieces {
		if i <= c.lastIndex {
			return fmt.Errorf("%w: footer piece %d, last body piece %d", ErrOverlappingRegions, i, c.lastIndex)
		}
	}
	for _, i := range c.headerPieces {
		if i > c.lastIndex {
			return fmt.Errorf("%w: header piece %d, last body piece %d", ErrOverlappingRegions, i, c.lastIndex)
		}
	}
	return nil
}

// OnTorrentResumed pushes the current request set again. The engine may have
// reset its priorities while the torrent was paused.
func (c *Controller) OnTorrentResumed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.push()
}

// OnSeek discards the current window and requests a new one starting at
// pieceIndex. Seeks to the first two pieces request the footer again, since
// playback restarting from the top needs the trailing index as well.
//
// Pieces already finished at the head of the new window are skipped, so the
// request set after a seek can start past pieceIndex. Callers that need a
// given piece should wait on its state rather than on its being requested.
func (c *Controller) OnSeek(pieceIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pieceIndex < 0 {
		pieceIndex = 0
	}
	seeksTotal.Inc()

	c.window = c.window[:0]
	c.footer = c.footer[:0]
	c.windowEnd = pieceIndex - 1
	if c.windowEnd > c.lastIndex {
		c.windowEnd = c.lastIndex
	}
	c.fill()

	switch {
	case pieceIndex <= 1:
		c.requestFooter(0)
	case pieceIndex > c.lastIndex:
		c.requestFooter(pieceIndex)
	}
	c.drainFinishedLeading()

	c.log.Debug().
		Int("piece", pieceIndex).
		Int("windowStart", c.windowStart).
		Int("windowEnd", c.windowEnd).
		Ints("downloading", c.downloadingLocked()).
		Msg("seek")

	c.push()
}

// OnPieceDownloaded handles a completion reported by the engine. Pieces that
// were not requested are ignored; duplicate and late events are expected.
// Only completion of the leading window piece moves the window, by one slot
// at the tail per piece removed.
func (c *Controller) OnPieceDownloaded(pieceIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pos := indexOf(c.footer, pieceIndex); pos >= 0 {
		c.footer = append(c.footer[:pos], c.footer[pos+1:]...)
		c.push()
		return
	}

	pos := indexOf(c.window, pieceIndex)
	if pos < 0 {
		staleEventsTotal.Inc()
		c.log.Debug().Int("piece", pieceIndex).Msg("ignoring completion of unrequested piece")
		return
	}
	if pos > 0 {
		return
	}

	c.window = c.window[1:]
	c.advance()
	c.drainFinishedLeading()
	c.push()
}

// IsDownloading reports whether pieceIndex is currently requested.
func (c *Controller) IsDownloading(pieceIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return indexOf(c.window, pieceIndex) >= 0 || indexOf(c.footer, pieceIndex) >= 0
}

// Snapshot returns the window bounds and the requested pieces.
func (c *Controller) Snapshot() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Window{Start: c.windowStart, End: c.windowEnd, Pieces: c.downloadingLocked()}
}

// Phase is PhaseMetadata until every header and footer piece has finished.
func (c *Controller) Phase() Phase {
	for _, i := range c.headerPieces {
		if c.pieces[i].State.Load() != piece.Finished {
			return PhaseMetadata
		}
	}
	for _, i := range c.footerPieces {
		if c.pieces[i].State.Load() != piece.Finished {
			return PhaseMetadata
		}
	}
	return PhaseSequential
}

func (c *Controller) LastIndex() int { return c.lastIndex }

func (c *Controller) HeaderPieces() []int { return append([]int(nil), c.headerPieces...) }

func (c *Controller) FooterPieces() []int { return append([]int(nil), c.footerPieces...) }

func (c *Controller) Pieces() []*piece.Piece { return c.pieces }

// fill replaces the window with the full range starting at the first
// requested piece, or right after windowEnd when nothing is requested.
func (c *Controller) fill() {
	nextStart := c.windowEnd + 1
	if len(c.window) > 0 {
		nextStart = c.window[0]
	}
	nextEnd := nextStart + c.windowSize - 1
	if nextEnd > c.lastIndex {
		nextEnd = c.lastIndex
	}

	c.window = c.window[:0]
	for i := nextStart; i <= nextEnd; i++ {
		c.window = append(c.window, i)
	}
	c.windowStart = nextStart
	if nextEnd >= nextStart {
		c.windowEnd = nextEnd
	}
}

// requestFooter adds the unfinished footer pieces at or after from.
func (c *Controller) requestFooter(from int) {
	for _, i := range c.footerPieces {
		if i < from || c.pieces[i].State.Load() == piece.Finished || indexOf(c.footer, i) >= 0 {
			continue
		}
		c.footer = append(c.footer, i)
	}
}

// advance extends the window tail by one slot if there is a piece left to
// fetch before the footer.
func (c *Controller) advance() {
	next := c.findNextDownloadingPiece()
	if next < 0 || next == c.windowEnd {
		c.syncStart()
		return
	}
	c.window = append(c.window, next)
	c.windowEnd = next
	windowAdvancesTotal.Inc()
	c.syncStart()
}

// drainFinishedLeading drops leading pieces that already finished. The engine
// will not report them again, so leaving them would stall the window.
func (c *Controller) drainFinishedLeading() {
	for len(c.window) > 0 && c.pieces[c.window[0]].State.Load() == piece.Finished {
		c.window = c.window[1:]
		c.advance()
	}
	c.syncStart()
}

func (c *Controller) findNextDownloadingPiece() int {
	for i := c.windowEnd + 1; i <= c.lastIndex; i++ {
		if c.pieces[i].State.Load() != piece.Finished {
			return i
		}
	}
	return -1
}

func (c *Controller) syncStart() {
	if len(c.window) > 0 {
		c.windowStart = c.window[0]
	} else {
		c.windowStart = c.windowEnd + 1
	}
}

func (c *Controller) downloadingLocked() []int {
	out := make([]int, 0, len(c.window)+len(c.footer))
	out = append(out, c.window...)
	return append(out, c.footer...)
}

func (c *Controller) push() {
	c.priorities.DownloadOnly(c.downloadingLocked())
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
