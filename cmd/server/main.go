package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	repo "github.com/Wyydra/yacall/internal/adapter/driven/persistence/memory"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/logging"
	"github.com/rs/zerolog"
)

func main() {
	addr := flag.String("addr", "", "listen address (env "+config.EnvAddr+")")
	logLevel := flag.String("log-level", "", "log level (env "+config.EnvLogLevel+")")
	static := flag.String("static", "", "directory served at /")
	flag.Parse()

	cfg, err := config.Load(config.Options{Addr: *addr, LogLevel: *logLevel})
	if err != nil {
		l := logging.Setup(zerolog.InfoLevel, true)
		l.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := logging.Setup(cfg.LogLevel, true)

	participants := repo.NewParticipantRepository()
	hub := ws.NewHub()

	relayService := service.NewRelayService(participants, hub)
	h := handler.NewHandler(relayService, hub)
	h.StaticDir = *static

	go hub.Run()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Info().Str("addr", cfg.Addr).Msg("Starting relay server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	l.Info().Msg("Server exited")
}
