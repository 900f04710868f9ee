package streaming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var seeksForwarded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "seqtorrent_player_seeks_total",
	Help: "Player seeks that landed outside the download window",
})
