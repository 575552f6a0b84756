package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/logger"
	"go.uber.org/zap"
)

type syncAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   syncAPIOpts
	comp   *components
	log    *zap.Logger
}

func mustBootstrapSyncAPI() *syncAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}).Named("sync-api")

	httpAddr := cfg.TrackSync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	swaggerPath := os.Getenv("swaggerPath")

	comp, err := newComponents(cfg, swaggerPath, defaultFactories(), log)
	if err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &syncAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: syncAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         requestedTopic(cfg),
			consumerGroup: consumerGroup(cfg),
		},
		comp: comp,
		log:  log,
	}
}

func (a *syncAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.comp.close(shutdownCtx)
	_ = a.log.Sync()
}

func (a *syncAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.comp.consumer != nil {
		consumer = a.comp.consumer
	}
	return runSyncAPI(a.ctx, a.opts, a.comp.api.Routes(), a.comp.orch, consumer, a.log)
}
