package torrent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activePlaybacks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seqtorrent_active_playbacks",
		Help: "Number of playbacks currently held by the manager",
	})

	playbacksAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqtorrent_playbacks_added_total",
		Help: "Number of playbacks started",
	})

	startRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqtorrent_start_rejected_total",
		Help: "Number of torrents the engine refused to start",
	})

	piecesFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqtorrent_pieces_finished_total",
		Help: "Number of verified pieces reported by the engine",
	})

	resumeSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqtorrent_resume_saves_total",
		Help: "Number of resume data blobs written",
	})
)
