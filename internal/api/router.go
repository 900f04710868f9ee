package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"seqtorrent/internal/api/handlers"
	"seqtorrent/internal/api/middleware"
	"seqtorrent/internal/config"
	"seqtorrent/internal/torrent"
)

func NewRouter(cfg *config.Config, log zerolog.Logger, tm *torrent.Manager, tracer opentracing.Tracer) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(gorillahandlers.ProxyHeaders)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recoverer(log))
	r.Use(middleware.RateLimiter(cfg))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.CorsMiddleware(cfg))
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(middleware.TracingMiddleware(tracer))
	r.Use(middleware.CircuitBreakerMiddleware(cfg, log))
	r.Use(middleware.CompressMiddleware)

	// Routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]interface{}{"status": "ok", "playbacks": len(tm.List())})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/playbacks", func(r chi.Router) {
		r.Post("/", handlers.CreatePlayback(tm, log))
		r.Get("/", handlers.ListPlaybacks(tm))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handlers.GetPlayback(tm))
			r.Delete("/", handlers.DeletePlayback(tm))
			r.Post("/seek", handlers.SeekPlayback(tm))
			r.Post("/resume", handlers.ResumePlayback(tm))
			r.Get("/pieces", handlers.GetBitfield(tm))
			r.Get("/pieces/{index}", handlers.GetPiece(tm))
			r.Get("/files/{fileID}/stream", handlers.StreamFile(tm))
		})
	})

	r.Route("/session", func(r chi.Router) {
		r.Post("/pause", handlers.PauseSession(tm))
		r.Post("/resume", handlers.ResumeSession(tm))
		r.Get("/settings", handlers.GetSettings(tm))
		r.Put("/settings", handlers.UpdateSettings(tm))
	})

	return r
}

func NewServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}
}

// RunServer serves until ctx is cancelled, then shuts down gracefully within
// shutdownTimeout.
func RunServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}
