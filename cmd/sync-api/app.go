package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/syncer"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type syncAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error
}

type sessionStarter interface {
	Start(ctx context.Context, req syncer.StartRequest) (*syncer.Session, error)
}

func runSyncAPI(ctx context.Context, opts syncAPIOpts, handler http.Handler, orch sessionStarter, consumer kafkaConsumer, log *zap.Logger) error {
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, handler, log)
	}()

	if consumer != nil {
		go func() {
			log.Info("kafka consumer started", zap.String("topic", opts.topic), zap.String("group", opts.consumerGroup))
			err := consumer.Consume(ctx, syncRequestHandler(orch, log))
			if err != nil && ctx.Err() == nil {
				log.Error("kafka consumer stopped", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// syncRequestHandler starts a session per sync.requested message. Requests that cannot start
// (account busy, bad payload) are logged and committed: the scheduler will ask again.
func syncRequestHandler(orch sessionStarter, log *zap.Logger) func(ctx context.Context, key, value []byte) error {
	return func(ctx context.Context, _ []byte, value []byte) error {
		var m messages.SyncRequested
		if err := json.Unmarshal(value, &m); err != nil {
			log.Warn("skip malformed sync request", zap.Error(err))
			return nil
		}
		s, err := orch.Start(ctx, syncer.StartRequest{AccountID: m.AccountID, Mode: models.SyncMode(m.Mode)})
		switch {
		case errors.Is(err, syncer.ErrSessionInProgress):
			log.Info("sync already running, request skipped",
				zap.String("account_id", m.AccountID), zap.String("source", m.Source))
		case err != nil:
			log.Warn("sync request rejected",
				zap.String("account_id", m.AccountID), zap.String("mode", m.Mode), zap.Error(err))
		default:
			log.Info("sync started from kafka",
				zap.String("session_id", s.ID), zap.String("account_id", m.AccountID), zap.String("source", m.Source))
		}
		return nil
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("HTTP server listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
