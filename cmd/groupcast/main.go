package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/groupcast/groupcast/internal/config"
	"github.com/groupcast/groupcast/internal/httpserver"
	"github.com/groupcast/groupcast/internal/kurento"
	"github.com/groupcast/groupcast/internal/media"
	"github.com/groupcast/groupcast/internal/metrics"
	"github.com/groupcast/groupcast/internal/pionengine"
	"github.com/groupcast/groupcast/internal/room"
	"github.com/groupcast/groupcast/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting groupcast",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"media_engine", cfg.MediaEngine,
		"static_dir", cfg.StaticDir,
	)

	engine, err := newMediaEngine(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize media engine", "err", err)
		os.Exit(2)
	}
	defer engine.Close()

	m := metrics.New()
	rooms := room.NewRegistry(engine, logger, m)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	sig := signaling.New(cfg, logger, rooms, m)
	srv.Mux().Handle("GET /groupcall", sig)
	srv.Mux().Handle("GET /metrics", m.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		rooms.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()
	rooms.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func newMediaEngine(cfg config.Config, logger *slog.Logger) (media.Engine, error) {
	switch cfg.MediaEngine {
	case config.MediaEngineKurento:
		return kurento.Dial(context.Background(), cfg.KurentoWSURL, kurento.Options{
			RPCTimeout: cfg.EngineRPCTimeout,
			Logger:     logger,
		})
	case config.MediaEngineEmbedded:
		return pionengine.New(logger)
	default:
		// Validated by config.Load.
		return nil, fmt.Errorf("unknown media engine %q", cfg.MediaEngine)
	}
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}

	return commit, built
}
