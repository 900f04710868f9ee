package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"seqtorrent/internal/piece"
)

var (
	fetchFile     string
	fetchTrackers []string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [magnet-link or torrent-file]",
	Short: "Download one file of a torrent in playback order",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchFile, "file", "f", "", "file to fetch, matched by name (default: largest file)")
	fetchCmd.Flags().StringSliceVar(&fetchTrackers, "tracker", nil, "extra tracker URL, repeatable")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.KeepFiles = true
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.manager.Add(ctx, parseSource(args[0], fetchTrackers))
	if err != nil {
		return err
	}
	fmt.Printf("Waiting for metadata of %s...\n", p.InfoHash)
	if _, err := a.manager.WaitReady(ctx, p.ID); err != nil {
		return err
	}

	layout, _ := p.Layout()
	file, err := pickFile(layout.Files, fetchFile)
	if err != nil {
		return err
	}
	pieces := p.Pieces()
	first := piece.IndexAt(pieces, file.Offset)
	last := piece.IndexAt(pieces, file.Offset+file.Length-1)
	if file.Length == 0 {
		last = first
	}

	fmt.Printf("Fetching %s (%d bytes, pieces %d-%d)\n", file.Path, file.Length, first, last)

	start := time.Now()
	total := last - first + 1
	err = a.manager.WaitPieces(ctx, p.ID, first, last, func(i int) {
		s := p.Stats().Snapshot()
		fmt.Printf("\rProgress: %.1f%% | Speed: %.1f MB/s | Peers: %d   ",
			float64(i-first+1)*100/float64(total),
			float64(s.DownloadRate)/1024/1024,
			p.Info().Peers)
	})
	if err != nil {
		return err
	}
	fmt.Printf("\nDone in %s: %s/%s\n", time.Since(start).Round(time.Second), cfg.DownloadDir, p.InfoHash)
	return nil
}
