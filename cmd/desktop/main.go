// Package main runs the slotboard desktop daemon. The desktop UI talks to it over REST
// and WebSocket on localhost.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/slotboard/cmd/desktop/handlers"
	"github.com/kimhsiao/slotboard/internal/app"
	"github.com/kimhsiao/slotboard/internal/config"
	"github.com/kimhsiao/slotboard/internal/logging"
	"github.com/kimhsiao/slotboard/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to slotboard.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "slotboard-desktop: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	logging.Init(logger)
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := NewWSHub()
	defer hub.Close()
	metrics := telemetry.NewCollector()
	a.Engine.SetEventHandler(telemetry.Fanout(hub, metrics))

	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      NewRouter(a, hub, metrics),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Desktop server listening", map[string]interface{}{"addr": cfg.Server.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down desktop server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewRouter builds the HTTP API over a running app.
func NewRouter(a *app.App, hub *WSHub, metrics *telemetry.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	syncHandler := handlers.NewSyncHandler(a.Engine, a.Scheduler, metrics)
	boardHandler := handlers.NewBoardHandler(a.Engine)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"slotboard-desktop"}`))
	})
	r.Route("/api/sync", syncHandler.Routes)
	r.Route("/api/board", boardHandler.Routes)
	r.Get("/ws", HandleWebSocket(hub))

	return r
}
