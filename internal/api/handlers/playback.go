package handlers

import (
	"net/http"
	"strconv"

	"github.com/boljen/go-bitmap"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	"seqtorrent/internal/piece"
	"seqtorrent/internal/torrent"
)

type seekRequest struct {
	Piece  *int   `json:"piece,omitempty"`
	Offset *int64 `json:"offset,omitempty"`
}

type seekResponse struct {
	Piece    int                  `json:"piece"`
	Playback torrent.PlaybackInfo `json:"playback"`
}

type bitfieldResponse struct {
	PieceCount int           `json:"pieceCount"`
	Finished   int           `json:"finished"`
	Bitfield   bitmap.Bitmap `json:"bitfield"`
}

type pieceResponse struct {
	Index  int    `json:"index"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	State  string `json:"state"`
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

// CreatePlayback adds a magnet or torrent file. With ?wait=true the response
// is delayed until metadata has been handled.
func CreatePlayback(tm *torrent.Manager, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var src torrent.Source
		if err := render.DecodeJSON(r.Body, &src); err != nil {
			badRequest(w, r, "invalid request body")
			return
		}

		p, err := tm.Add(r.Context(), src)
		if err != nil {
			log.Warn().Err(err).Msg("add playback failed")
			renderError(w, r, err)
			return
		}
		if wantsWait(r) {
			if _, err := tm.WaitReady(r.Context(), p.ID); err != nil {
				renderError(w, r, err)
				return
			}
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, p.Info())
	}
}

func ListPlaybacks(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playbacks := tm.List()
		out := make([]torrent.PlaybackInfo, 0, len(playbacks))
		for _, p := range playbacks {
			out = append(out, p.Info())
		}
		render.JSON(w, r, out)
	}
}

func GetPlayback(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := tm.Get(chi.URLParam(r, "id"))
		if err != nil {
			renderError(w, r, err)
			return
		}
		render.JSON(w, r, p.Info())
	}
}

func DeletePlayback(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := tm.Remove(chi.URLParam(r, "id")); err != nil {
			renderError(w, r, err)
			return
		}
		render.NoContent(w, r)
	}
}

// SeekPlayback moves the window to a piece index or to the piece holding a
// byte offset.
func SeekPlayback(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req seekRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			badRequest(w, r, "invalid request body")
			return
		}
		if (req.Piece == nil) == (req.Offset == nil) {
			badRequest(w, r, "exactly one of piece or offset is required")
			return
		}

		var (
			index int
			err   error
		)
		if req.Piece != nil {
			index = *req.Piece
			err = tm.Seek(id, index)
		} else {
			index, err = tm.SeekOffset(id, *req.Offset)
		}
		if err != nil {
			renderError(w, r, err)
			return
		}

		p, err := tm.Get(id)
		if err != nil {
			renderError(w, r, err)
			return
		}
		render.JSON(w, r, seekResponse{Piece: index, Playback: p.Info()})
	}
}

func ResumePlayback(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := tm.Resume(chi.URLParam(r, "id")); err != nil {
			renderError(w, r, err)
			return
		}
		render.NoContent(w, r)
	}
}

// GetBitfield reports which pieces have finished, one bit per piece.
func GetBitfield(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := tm.Get(chi.URLParam(r, "id"))
		if err != nil {
			renderError(w, r, err)
			return
		}
		if p.Controller() == nil {
			renderError(w, r, torrent.ErrPlaybackNotReady)
			return
		}

		bits, n := p.Bitfield()
		finished := 0
		for i := 0; i < n; i++ {
			if bits.Get(i) {
				finished++
			}
		}
		render.JSON(w, r, bitfieldResponse{PieceCount: n, Finished: finished, Bitfield: bits})
	}
}

// GetPiece returns one piece. With ?wait=true it blocks until the piece is
// verified or the request ends.
func GetPiece(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			badRequest(w, r, "invalid piece index")
			return
		}

		if wantsWait(r) {
			if err := tm.WaitPiece(r.Context(), id, index); err != nil {
				renderError(w, r, err)
				return
			}
		}

		p, err := tm.Get(id)
		if err != nil {
			renderError(w, r, err)
			return
		}
		pieces := p.Pieces()
		if pieces == nil {
			renderError(w, r, torrent.ErrPlaybackNotReady)
			return
		}
		if index < 0 || index >= len(pieces) {
			renderError(w, r, torrent.ErrInvalidPieceIndex)
			return
		}
		render.JSON(w, r, toPieceResponse(pieces[index]))
	}
}

func toPieceResponse(p *piece.Piece) pieceResponse {
	return pieceResponse{
		Index:  p.Index,
		Offset: p.Offset,
		Size:   p.Size,
		State:  p.State.Load().String(),
	}
}
