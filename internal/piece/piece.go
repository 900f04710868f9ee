package piece

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/chansync/events"
)

// State is the download state of a single piece as reported by the engine.
type State int32

const (
	NotAvailable State = iota
	Downloading
	Finished
)

func (s State) String() string {
	switch s {
	case NotAvailable:
		return "not_available"
	case Downloading:
		return "downloading"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StateCell holds a piece State that one goroutine writes and any number read
// without locking. Readers may observe a value slightly ahead of whatever
// bookkeeping they keep themselves.
type StateCell struct {
	v       atomic.Int32
	changed chansync.BroadcastCond
}

func (c *StateCell) Load() State {
	return State(c.v.Load())
}

// Store sets the state and wakes everything waiting on Changed if the value
// actually moved.
func (c *StateCell) Store(s State) {
	if State(c.v.Swap(int32(s))) != s {
		c.changed.Broadcast()
	}
}

// Changed returns a channel that is closed on the next transition.
func (c *StateCell) Changed() events.Signaled {
	return c.changed.Signaled()
}

// Piece describes one byte range of the concatenated torrent data. Index,
// Offset and Size never change after Build.
type Piece struct {
	Index  int
	Offset int64
	Size   int64

	State StateCell
}

// LastByte is the offset of the final byte covered by the piece.
func (p *Piece) LastByte() int64 {
	return p.Offset + p.Size - 1
}

func (p *Piece) String() string {
	return fmt.Sprintf("piece %d [%d, %d] %s", p.Index, p.Offset, p.LastByte(), p.State.Load())
}

// Build splits totalLength bytes into pieces of pieceLength; the last piece
// holds the remainder.
func Build(totalLength, pieceLength int64) ([]*Piece, error) {
	if totalLength <= 0 || pieceLength <= 0 {
		return nil, fmt.Errorf("%w: total=%d piece=%d", ErrInvalidLength, totalLength, pieceLength)
	}
	n := int((totalLength + pieceLength - 1) / pieceLength)
	pieces := make([]*Piece, n)
	for i := 0; i < n; i++ {
		offset := int64(i) * pieceLength
		size := pieceLength
		if rem := totalLength - offset; rem < size {
			size = rem
		}
		pieces[i] = &Piece{Index: i, Offset: offset, Size: size}
	}
	return pieces, nil
}

// Validate checks that pieces are sorted by index from zero and cover one
// contiguous byte range with no gaps or overlaps.
func Validate(pieces []*Piece) error {
	if len(pieces) == 0 {
		return ErrNoPieces
	}
	var next int64
	for i, p := range pieces {
		if p == nil {
			return fmt.Errorf("%w: nil piece at %d", ErrNotContiguous, i)
		}
		if p.Index != i {
			return fmt.Errorf("%w: piece at position %d has index %d", ErrNotContiguous, i, p.Index)
		}
		if p.Size <= 0 {
			return fmt.Errorf("%w: piece %d has size %d", ErrInvalidLength, i, p.Size)
		}
		if p.Offset != next {
			return fmt.Errorf("%w: piece %d starts at %d, want %d", ErrNotContiguous, i, p.Offset, next)
		}
		next = p.Offset + p.Size
	}
	return nil
}

// TotalSize is the byte length spanned by a validated piece list.
func TotalSize(pieces []*Piece) int64 {
	if len(pieces) == 0 {
		return 0
	}
	last := pieces[len(pieces)-1]
	return last.Offset + last.Size
}

// IndexAt returns the index of the piece containing offset, clamped to the
// first and last piece.
func IndexAt(pieces []*Piece, offset int64) int {
	if len(pieces) == 0 {
		return 0
	}
	i := sort.Search(len(pieces), func(i int) bool {
		return pieces[i].LastByte() >= offset
	})
	if i == len(pieces) {
		return len(pieces) - 1
	}
	return i
}
