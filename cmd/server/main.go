package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/talkhouse/talkhouse/internal/api"
	"github.com/talkhouse/talkhouse/internal/broker"
	"github.com/talkhouse/talkhouse/internal/channel"
	"github.com/talkhouse/talkhouse/internal/config"
	"github.com/talkhouse/talkhouse/internal/session"
	"github.com/talkhouse/talkhouse/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	publicDir := flag.String("public-dir", "", "serve the chat client static files from this directory (e.g. public); leave empty to disable")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("talkhouse-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"channels", cfg.Server.Channels,
		"default_channel", cfg.Server.DefaultChannel,
		"history_retention", cfg.Server.History.Retention,
		"history_window", cfg.Server.History.Window,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Channel histories and connected sessions, both in-memory for the
	// lifetime of the process.
	store := channel.NewStore(cfg.Server.Channels, cfg.Server.History.Retention, cfg.Server.History.Window)
	sessions := session.NewRegistry(cfg.Server.DefaultChannel, cfg.Server.Limits.UsernameMaxLen)

	// WebSocket hub and protocol broker reference each other: the broker
	// sends through the hub, the hub feeds inbound events to the broker.
	hub := ws.NewHub(logger)
	bk := broker.New(store, sessions, hub, cfg.Server.Limits, logger)
	hub.SetHandler(bk)

	// Hot-reload the input length limits on config changes. The channel
	// set and port are fixed at startup and need a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(c *config.Config) {
			bk.ApplyLimits(c.Server.Limits)
		})
		if err != nil {
			slog.Error("config watch stopped", "err", err)
		}
	}()

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(store, hub))
	httpMux.Handle("/ws", hub)

	// Optional: serve the chat client from a local directory.
	// Usage:  ./bin/talkhouse-server -config config.yaml -public-dir public
	if *publicDir != "" {
		httpMux.Handle("/", http.FileServer(http.Dir(*publicDir)))
		slog.Info("serving client static files", "dir", *publicDir)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("talkhouse-server shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
