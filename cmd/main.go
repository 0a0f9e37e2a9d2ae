package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidstore/internal/api"
	"vidstore/internal/config"
	fileutil "vidstore/internal/file"
	"vidstore/internal/metrics"
	"vidstore/internal/status"
	"vidstore/internal/transcode"
	"vidstore/internal/video"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCommand().Execute(); err != nil {
		log.Fatal().Err(err).Msg("vidstore failed")
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:           "vidstore",
		Short:         "Store uploaded videos and resize them in the background",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yml", "path to the YAML config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return fmt.Errorf("ensure data dir %s: %w", cfg.DataDir, err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("closing status store failed")
		}
	}()

	var engine *video.Engine
	m := metrics.New(cfg.MetricsEnabled, func() int { return engine.Registry().Len() })
	engine = buildEngine(cfg, store, m)
	if err := engine.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("startup recovery incomplete")
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	engine.SetBaseContext(baseCtx)

	router := setupRouter()
	wireAPI(router, engine, cfg, m)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("store", cfg.Store).Str("data_dir", cfg.DataDir).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		baseCancel()
		return fmt.Errorf("http server failed: %w", err)
	case <-waitForShutdownSignal():
	}

	gracefulShutdown(srv, baseCancel, engine, shutdownTimeout)
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (status.Store, error) { //nolint:ireturn
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := status.OpenSQLiteStore(ctx, cfg.SQLiteFile())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return status.NewFileStore(cfg.DataDir), nil
	}
}

func buildEngine(cfg config.Config, store status.Store, m *metrics.Metrics) *video.Engine {
	return video.NewEngineWithOptions(video.Options{
		DataDir:                 cfg.DataDir,
		AllowedExtensions:       cfg.AllowedExtensions,
		Store:                   store,
		Transcoder:              transcode.NewFFmpeg(cfg.FFmpegPath),
		TranscodeTimeout:        cfg.TranscodeTimeout,
		MaxConcurrentTranscodes: cfg.MaxConcurrentTranscodes,
		Metrics:                 m,
	})
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func wireAPI(router *gin.Engine, engine *video.Engine, cfg config.Config, m *metrics.Metrics) {
	opts := []api.Option{api.WithMaxUploadBytes(cfg.MaxUploadBytes())}
	if cfg.MetricsEnabled {
		opts = append(opts, api.WithMetricsHandler(m.Handler()))
	}
	apiHandler := api.NewAPI(engine, opts...)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	return quit
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, engine *video.Engine, timeout time.Duration) {
	log.Info().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !engine.WaitAll(ctx) {
		log.Warn().Msg("background operations did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
