package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}).Named("sync-worker")
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunSyncWorker(ctx, cfg, os.Getenv("swaggerPath"), defaultWorkerFactories(), log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sync-worker stopped", zap.Error(err))
	}
}
