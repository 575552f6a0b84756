package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/broker/kafka"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/scheduler"
	"go.uber.org/zap"
)

type workerFactories struct {
	newProducer func(cfg *config.Config) (p scheduler.Producer, closeFn func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newProducer: func(cfg *config.Config) (scheduler.Producer, func()) {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			p := kafka.NewProducer(brokers)
			return p, func() { _ = p.Close() }
		},
	}
}

func requestedTopic(cfg *config.Config) string {
	if cfg.Kafka.SyncRequestedTopicName == "" {
		return "sync.requested"
	}
	return cfg.Kafka.SyncRequestedTopicName
}

func buildScheduler(cfg *config.Config, producer scheduler.Producer, log *zap.Logger) *scheduler.Scheduler {
	accounts := make([]scheduler.Account, 0, len(cfg.TrackSync.WorkerAccounts))
	for _, a := range cfg.TrackSync.WorkerAccounts {
		mode := models.SyncMode(a.Mode)
		if mode != "" && !mode.Valid() {
			log.Warn("unknown sync mode in worker_accounts, using default",
				zap.String("account_id", a.AccountID), zap.String("mode", a.Mode))
			mode = ""
		}
		accounts = append(accounts, scheduler.Account{AccountID: a.AccountID, Mode: mode})
	}

	return scheduler.New(producer, requestedTopic(cfg), accounts, log).
		WithPlanner(scheduler.PlannerConfig{
			MinInterval: time.Duration(cfg.TrackSync.WorkerIntervalMinSeconds) * time.Second,
			MaxInterval: time.Duration(cfg.TrackSync.WorkerIntervalMaxSeconds) * time.Second,
		})
}

// RunSyncWorker runs the scheduler and its HTTP control surface until ctx is done.
func RunSyncWorker(ctx context.Context, cfg *config.Config, swaggerPath string, f workerFactories, log *zap.Logger) error {
	producer, closeFn := f.newProducer(cfg)
	if closeFn != nil {
		defer closeFn()
	}

	s := buildScheduler(cfg, producer, log)
	log.Info("sync scheduler configured", zap.Int("accounts", len(s.Accounts())))

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.TrackSync.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			scheduler:   s,
			cfg:         cfg,
			log:         log,
		})
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(ctx)
	}()

	select {
	case err := <-runErr:
		return err
	case err := <-httpErr:
		if err != nil {
			return err
		}
		return <-runErr
	}
}
