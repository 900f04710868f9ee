package handlers

import (
	"net/http"

	"github.com/go-chi/render"

	"seqtorrent/internal/torrent"
)

type settingsPayload struct {
	DownloadRateLimit int64 `json:"downloadRateLimit"`
	UploadRateLimit   int64 `json:"uploadRateLimit"`
	MaxConnections    int   `json:"maxConnections"`
}

func PauseSession(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tm.PauseAll()
		render.NoContent(w, r)
	}
}

func ResumeSession(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tm.ResumeAll()
		render.NoContent(w, r)
	}
}

func GetSettings(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := tm.Settings()
		render.JSON(w, r, settingsPayload{
			DownloadRateLimit: s.DownloadRateLimit,
			UploadRateLimit:   s.UploadRateLimit,
			MaxConnections:    s.MaxConnections,
		})
	}
}

// UpdateSettings replaces the rate limits and connection cap. Peer filters
// are left as configured.
func UpdateSettings(tm *torrent.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settingsPayload
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			badRequest(w, r, "invalid request body")
			return
		}
		if req.DownloadRateLimit < 0 || req.UploadRateLimit < 0 || req.MaxConnections < 0 {
			badRequest(w, r, "limits must not be negative")
			return
		}

		s := tm.Settings()
		s.DownloadRateLimit = req.DownloadRateLimit
		s.UploadRateLimit = req.UploadRateLimit
		s.MaxConnections = req.MaxConnections
		if err := tm.ApplySettings(s); err != nil {
			renderError(w, r, err)
			return
		}
		render.JSON(w, r, req)
	}
}
