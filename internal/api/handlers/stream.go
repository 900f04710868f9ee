package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"seqtorrent/internal/torrent"
	"seqtorrent/internal/utils"
)

// StreamFile serves one file of a playback with range support. Player seeks
// arrive as range requests and move the download window.
func StreamFile(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		fileID, err := strconv.Atoi(chi.URLParam(r, "fileID"))
		if err != nil {
			badRequest(w, r, "invalid file ID")
			return
		}

		reader, file, err := tm.OpenFile(r.Context(), id, fileID)
		if err != nil {
			renderError(w, r, err)
			return
		}
		defer reader.Close()

		fileInfo := utils.GetFileInfo(file.Path)
		w.Header().Set("Content-Type", fileInfo.MimeType)
		w.Header().Set("Content-Disposition", fileInfo.ContentDisposition)

		start := time.Now()
		http.ServeContent(w, r, fileInfo.Name, time.Time{}, reader)

		tm.Logger.Info().
			Str("playback", id).
			Int("fileID", fileID).
			Str("range", r.Header.Get("Range")).
			Dur("duration", time.Since(start)).
			Msg("Streaming completed")
	}
}
