package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/app/server/api"
	"possync/internal/app/server/config"
	"possync/internal/infrastructure/storage/postgres"
	"possync/internal/utils/logger"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)

	log.Info("starting possync server", slog.String("env", cfg.Env), slog.String("address", cfg.Server.RunAddress))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := postgres.New(cfg)
	if err != nil {
		log.Error("failed to init storage", slog.String("error", err.Error()))
		return
	}
	defer storage.Close()

	router := api.New(storage, cfg, log)

	server := &http.Server{
		Addr:    cfg.Server.RunAddress,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown gracefully", slog.String("error", err.Error()))
	}
}
