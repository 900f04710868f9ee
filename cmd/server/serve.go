package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"seqtorrent/internal/api"
	"seqtorrent/internal/api/middleware"
)

var (
	playFile     string
	playPlayer   string
	playTrackers []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP streaming server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var playCmd = &cobra.Command{
	Use:   "play [magnet-link or torrent-file]",
	Short: "Serve a torrent and open its stream in a media player",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

func init() {
	playCmd.Flags().StringVarP(&playFile, "file", "f", "", "file to play, matched by name (default: largest file)")
	playCmd.Flags().StringVar(&playPlayer, "player", "", "player to open the stream with (default: system handler)")
	playCmd.Flags().StringSliceVar(&playTrackers, "tracker", nil, "extra tracker URL, repeatable")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveHTTP runs the API until ctx is done.
func serveHTTP(ctx context.Context, a *app) error {
	tracer, closer, err := middleware.InitTracer(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise tracer: %w", err)
	}
	defer closer.Close()

	router := api.NewRouter(a.cfg, a.log, a.manager, tracer)
	server := api.NewServer(a.cfg, router)

	a.log.Info().Str("port", a.cfg.Port).Msg("Server started")
	return api.RunServer(ctx, server, a.cfg.ShutdownTimeout)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	err = serveHTTP(ctx, a)
	log.Info().Msg("Shutting down gracefully")
	return err
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(ctx, a) })
	g.Go(func() error {
		p, err := a.manager.Add(ctx, parseSource(args[0], playTrackers))
		if err != nil {
			return err
		}
		fmt.Printf("Waiting for metadata of %s...\n", p.InfoHash)
		if _, err := a.manager.WaitReady(ctx, p.ID); err != nil {
			return err
		}
		layout, _ := p.Layout()
		file, err := pickFile(layout.Files, playFile)
		if err != nil {
			return err
		}

		url := fmt.Sprintf("http://localhost:%s/playbacks/%s/files/%d/stream", cfg.Port, p.ID, file.Index)
		fmt.Printf("Streaming %s\n%s\n", file.Path, url)
		if playPlayer != "" {
			err = open.RunWith(url, playPlayer)
		} else {
			err = open.Run(url)
		}
		if err != nil {
			log.Warn().Err(err).Msg("could not open player; open the URL manually")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Shutting down gracefully")
	return err
}
