package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/api/syncapi"
	"github.com/BearBump/TrackSync/internal/broker/kafka"
	"github.com/BearBump/TrackSync/internal/cache/rediscache"
	"github.com/BearBump/TrackSync/internal/integrations/logistics"
	lfake "github.com/BearBump/TrackSync/internal/integrations/logistics/fake"
	lhttp "github.com/BearBump/TrackSync/internal/integrations/logistics/httpclient"
	"github.com/BearBump/TrackSync/internal/integrations/marketplace"
	mpfake "github.com/BearBump/TrackSync/internal/integrations/marketplace/fake"
	mphttp "github.com/BearBump/TrackSync/internal/integrations/marketplace/httpclient"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/BearBump/TrackSync/internal/services/matcher"
	"github.com/BearBump/TrackSync/internal/services/records"
	"github.com/BearBump/TrackSync/internal/services/stats"
	"github.com/BearBump/TrackSync/internal/services/syncer"
	"github.com/BearBump/TrackSync/internal/services/uploader"
	"github.com/BearBump/TrackSync/internal/storage"
	"github.com/BearBump/TrackSync/internal/storage/memstore"
	"github.com/BearBump/TrackSync/internal/storage/pgsync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	lockKeyPrefix      = "tracksync:lock:"
	rateLimitKeyPrefix = "tracksync:rl:"
)

// components is everything sync-api runs, built from config.
type components struct {
	orch     *syncer.Orchestrator
	api      *syncapi.API
	consumer *kafka.Consumer
	closers  []func()
}

type factories struct {
	newStorage  func(cfg *config.Config) (storage.Store, func(), error)
	newRegistry func() prometheus.Registerer
}

func defaultFactories() factories {
	return factories{
		newStorage: func(cfg *config.Config) (storage.Store, func(), error) {
			if cfg.TrackSync.Storage == "memory" {
				return memstore.New(), nil, nil
			}
			st, err := openPostgresWithRetry(postgresDSN(cfg), 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRegistry: func() prometheus.Registerer { return prometheus.DefaultRegisterer },
	}
}

func postgresDSN(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func openPostgresWithRetry(connString string, wait time.Duration) (*pgsync.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgsync.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	return nil, fmt.Errorf("postgres is not ready after %s: %w", wait, lastErr)
}

func newComponents(cfg *config.Config, swaggerPath string, f factories, log *zap.Logger) (*components, error) {
	tc := cfg.TrackSync
	c := &components{}

	st, closeDB, err := f.newStorage(cfg)
	if err != nil {
		return nil, err
	}
	if closeDB != nil {
		c.closers = append(c.closers, closeDB)
	}

	reg := f.newRegistry()
	m := metrics.New()
	m.MustRegister(reg)

	var lc logistics.Client = lfake.New()
	if tc.LogisticsBaseURL != "" {
		lc = lhttp.New(tc.LogisticsBaseURL, tc.LogisticsAPIKey)
	} else {
		log.Warn("logistics_base_url is empty, using in-memory logistics client")
	}
	var mc marketplace.Client = mpfake.New()
	if tc.MarketplaceBaseURL != "" {
		mc = mphttp.New(tc.MarketplaceBaseURL, tc.MarketplaceAPIKey, tc.MarketplaceQPS)
	} else {
		log.Warn("marketplace_base_url is empty, using in-memory marketplace client")
	}

	mt := matcher.New(matcher.Config{
		AcceptThreshold: tc.MatchAcceptThreshold,
		TimeWindow:      time.Duration(tc.MatchTimeWindowHours) * time.Hour,
		NameWeight:      tc.MatchNameWeight,
		TimeWeight:      tc.MatchTimeWeight,
		ProductWeight:   tc.MatchProductWeight,
	})
	if tc.MatchMargin != nil {
		mt.WithMargin(*tc.MatchMargin)
	}

	up := uploader.New(st, mc, log).
		WithConcurrency(tc.UploadConcurrency).
		WithMetrics(m)

	orch := syncer.New(st, lc, mc, mt, up, syncer.Config{
		OrdersHoursBack:    tc.OrdersHoursBack,
		DeliveriesLookback: time.Duration(tc.DeliveriesLookbackHours) * time.Hour,
		MaxSession:         time.Duration(tc.MaxSessionSeconds) * time.Second,
	}, log).WithMetrics(m)

	var redisPing func(ctx context.Context) error
	if cfg.Redis.Host != "" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		rc := rediscache.New(addr)
		c.closers = append(c.closers, func() { _ = rc.Close() })
		redisPing = rc.Ping
		orch.WithCursor(rc).WithLocker(rediscache.NewLocker(addr, lockKeyPrefix))
		up.WithRateLimit(rediscache.NewRateLimiter(addr, rateLimitKeyPrefix), tc.UploadRateLimitPerMinute)
	}

	if cfg.Kafka.Host != "" {
		brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
		producer := kafka.NewProducer(brokers)
		c.closers = append(c.closers, func() { _ = producer.Close() })
		orch.OnSession(syncer.NewEventMirror(producer, eventsTopic(cfg), log).Attach)

		c.consumer = kafka.NewConsumer(brokers, requestedTopic(cfg), consumerGroup(cfg))
		c.closers = append(c.closers, func() { _ = c.consumer.Close() })
	}

	var metricsHandler http.Handler = promhttp.Handler()
	if g, ok := reg.(prometheus.Gatherer); ok {
		metricsHandler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}

	api := syncapi.New(orch, up, records.New(st), stats.New(st), log).
		WithMetrics(metricsHandler)
	if swaggerPath != "" {
		api.WithSwagger(swaggerPath)
	}
	if redisPing != nil {
		api.WithReadiness("redis", redisPing)
	}

	c.orch = orch
	c.api = api
	return c, nil
}

// close stops running sessions first so that nothing writes to closed stores.
func (c *components) close(ctx context.Context) {
	_ = c.orch.Shutdown(ctx)
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func requestedTopic(cfg *config.Config) string {
	if cfg.Kafka.SyncRequestedTopicName == "" {
		return "sync.requested"
	}
	return cfg.Kafka.SyncRequestedTopicName
}

func eventsTopic(cfg *config.Config) string {
	if cfg.Kafka.SyncEventsTopicName == "" {
		return "sync.events"
	}
	return cfg.Kafka.SyncEventsTopicName
}

func consumerGroup(cfg *config.Config) string {
	if cfg.TrackSync.KafkaConsumerGroup == "" {
		return "sync-api"
	}
	return cfg.TrackSync.KafkaConsumerGroup
}
