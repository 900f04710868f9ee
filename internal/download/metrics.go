package download

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	seeksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqtorrent_seeks_total",
		Help: "Number of seeks handled by download controllers",
	})

	windowAdvancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqtorrent_window_advances_total",
		Help: "Number of pieces appended to a download window tail",
	})

	staleEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqtorrent_stale_piece_events_total",
		Help: "Piece completions ignored because the piece was not requested",
	})
)
