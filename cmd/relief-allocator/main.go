package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DEVa-26/Disaster/common/logger"
	"github.com/DEVa-26/Disaster/internal/config"
	"github.com/DEVa-26/Disaster/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "relief-allocator")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	svc, err := service.NewReliefService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create relief allocator", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		_ = svc.Stop(context.Background())
		log.Fatal("Failed to start relief allocator", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-svc.Err():
		log.Error("HTTP server exited", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop relief allocator", zap.Error(err))
	}
}
