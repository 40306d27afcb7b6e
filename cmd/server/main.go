package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NickNameYouTuber/NIMeet/internal/config"
	"github.com/NickNameYouTuber/NIMeet/internal/logging"
	"github.com/NickNameYouTuber/NIMeet/internal/server"
	"github.com/NickNameYouTuber/NIMeet/internal/signaling"
)

func main() {
	logging.Init(slog.LevelInfo)

	cfg, err := config.Load(config.Options{})
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	hub := signaling.NewHub(slog.Default())
	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.NewRouter(hub),
	}

	go func() {
		slog.Info("starting signaling server", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "err", err)
	}
}
