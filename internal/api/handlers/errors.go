package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"seqtorrent/internal/torrent"
)

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, torrent.ErrPlaybackNotFound):
		return http.StatusNotFound
	case errors.Is(err, torrent.ErrPlaybackNotReady):
		return http.StatusConflict
	case errors.Is(err, torrent.ErrInvalidSource),
		errors.Is(err, torrent.ErrInvalidFileIndex),
		errors.Is(err, torrent.ErrInvalidPieceIndex),
		errors.Is(err, torrent.ErrInvalidOffset):
		return http.StatusBadRequest
	case errors.Is(err, torrent.ErrRateLimitExceeded),
		errors.Is(err, torrent.ErrMaxPlaybacksReached):
		return http.StatusTooManyRequests
	case errors.Is(err, torrent.ErrStartRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, torrent.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, torrent.ErrMetadataTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, statusFor(err))
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: msg})
}
