package anacrolix

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/anacrolix/torrent"

	"seqtorrent/internal/engine"
)

type trackerRequest struct {
	url  string
	tier int
}

// Handle implements engine.Handle. Its fields are only touched on the
// session executor.
type Handle struct {
	id engine.HandleID
	s  *Session

	t               *torrent.Torrent
	saveDir         string
	cancel          context.CancelFunc
	wanted          map[int]struct{}
	deadlines       map[int]struct{}
	pendingTrackers []trackerRequest
}

var _ engine.Handle = (*Handle)(nil)

func (h *Handle) ID() engine.HandleID { return h.id }

func (h *Handle) ready() bool {
	if h.t == nil {
		return false
	}
	select {
	case <-h.t.GotInfo():
		return true
	default:
		return false
	}
}

func (h *Handle) PostStatusUpdates() {
	h.s.exec.Submit(func() {
		if !h.ready() {
			return
		}
		stats := h.t.Stats()
		length := h.t.Length()
		completed := h.t.BytesCompleted()
		h.s.tryEmit(engine.StatusUpdate{ID: h.id, Status: engine.Status{
			TotalSize:       length,
			DownloadedBytes: completed,
			UploadedBytes:   stats.BytesWrittenData.Int64(),
			Peers:           stats.ActivePeers,
			Finished:        length > 0 && completed >= length,
		}})
	})
}

// PostSaveResume reports the torrent metainfo. Together with the data already
// in saveDir it is enough to restart without fetching metadata from peers.
func (h *Handle) PostSaveResume() {
	h.s.exec.Submit(func() {
		if !h.ready() {
			return
		}
		var buf bytes.Buffer
		mi := h.t.Metainfo()
		if err := mi.Write(&buf); err != nil {
			h.s.log.Warn().Err(err).Uint64("handle", uint64(h.id)).Msg("failed to encode resume data")
			return
		}
		h.s.tryEmit(engine.ResumeData{ID: h.id, Data: buf.Bytes()})
	})
}

func (h *Handle) SetPieceDeadline(index int, deadline time.Duration) {
	h.s.exec.Submit(func() {
		if !h.ready() || index < 0 || index >= h.t.NumPieces() {
			return
		}
		prio := torrent.PiecePriorityHigh
		if deadline <= h.s.cfg.UrgentDeadline {
			prio = torrent.PiecePriorityNow
		}
		h.t.Piece(index).SetPriority(prio)
		if h.deadlines == nil {
			h.deadlines = make(map[int]struct{})
		}
		h.deadlines[index] = struct{}{}
	})
}

func (h *Handle) ClearPieceDeadlines() {
	h.s.exec.Submit(func() {
		if !h.ready() {
			return
		}
		for i := range h.deadlines {
			if _, ok := h.wanted[i]; ok {
				h.t.Piece(i).SetPriority(torrent.PiecePriorityNormal)
			} else {
				h.t.Piece(i).SetPriority(torrent.PiecePriorityNone)
			}
		}
		h.deadlines = nil
	})
}

// AddTracker adds url at tier. The engine has no per-tracker failure limit,
// so failLimit is not used.
func (h *Handle) AddTracker(url string, tier int, failLimit int) {
	h.s.exec.Submit(func() {
		h.pendingTrackers = append(h.pendingTrackers, trackerRequest{url: url, tier: tier})
		h.applyPendingTrackers()
	})
}

func (h *Handle) applyPendingTrackers() {
	if h.t == nil || len(h.pendingTrackers) == 0 {
		return
	}
	for _, tr := range h.pendingTrackers {
		tier := tr.tier
		if tier < 0 {
			tier = 0
		}
		tiers := make([][]string, tier+1)
		tiers[tier] = []string{tr.url}
		h.t.AddTrackers(tiers)
	}
	h.pendingTrackers = nil
}

// SetWantedPieces only touches pieces whose membership changed.
func (h *Handle) SetWantedPieces(indexes []int) {
	want := make(map[int]struct{}, len(indexes))
	for _, i := range indexes {
		want[i] = struct{}{}
	}
	h.s.exec.Submit(func() {
		if !h.ready() {
			return
		}
		n := h.t.NumPieces()
		for i := range h.wanted {
			if _, ok := want[i]; !ok && i < n {
				h.t.Piece(i).SetPriority(torrent.PiecePriorityNone)
			}
		}
		for i := range want {
			if _, ok := h.wanted[i]; !ok && i >= 0 && i < n {
				h.t.Piece(i).SetPriority(torrent.PiecePriorityNormal)
			}
		}
		h.wanted = want
	})
}

func (h *Handle) NewReader(fileIndex int) (io.ReadSeekCloser, error) {
	var r torrent.Reader
	err := h.s.exec.Do(h.s.ctx, func() error {
		if h.t == nil {
			return engine.ErrUnknownHandle
		}
		if !h.ready() {
			return engine.ErrNoMetadata
		}
		files := h.t.Files()
		if fileIndex < 0 || fileIndex >= len(files) {
			return engine.ErrInvalidFile
		}
		r = tuneReader(files[fileIndex].NewReader())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// tuneReader turns off the reader's own readahead so that only the wanted
// pieces set through SetWantedPieces get requested.
func tuneReader(r torrent.Reader) torrent.Reader {
	r.SetReadahead(0)
	r.SetResponsive()
	return r
}
