package uploader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/marketplace"
	"github.com/BearBump/TrackSync/internal/logger"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Repository interface {
	GetDelivery(ctx context.Context, id uint64) (*models.DeliveryRecord, error)
	GetPendingOrder(ctx context.Context, id uint64) (*models.PendingOrder, error)
	UpdateDeliveryStatus(ctx context.Context, upd models.DeliveryStatusUpdate) (*models.DeliveryRecord, error)
	MarkOrderUploaded(ctx context.Context, orderID uint64) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

var (
	ErrNotMatched  = errors.New("delivery is not matched")
	ErrRateLimited = errors.New("upload rate limit exceeded")
)

type Result struct {
	DeliveryID      uint64 `json:"delivery_id"`
	Success         bool   `json:"success"`
	AlreadyUploaded bool   `json:"already_uploaded,omitempty"`
	Permanent       bool   `json:"permanent,omitempty"`
	Error           string `json:"error,omitempty"`
}

type BulkResult struct {
	SuccessCount int      `json:"success_count"`
	FailedCount  int      `json:"failed_count"`
	Results      []Result `json:"results"`
}

type Uploader struct {
	repo        Repository
	marketplace marketplace.Client
	rl          RateLimiter
	log         *zap.Logger
	metrics     *metrics.Metrics

	concurrency        int
	rateLimitPerMinute int64

	orderLocks *keyedMutex
}

func New(repo Repository, mp marketplace.Client, log *zap.Logger) *Uploader {
	return &Uploader{
		repo:        repo,
		marketplace: mp,
		log:         logger.OrNop(log),
		concurrency: 4,
		orderLocks:  newKeyedMutex(),
	}
}

func (u *Uploader) WithConcurrency(n int) *Uploader {
	if n > 0 {
		u.concurrency = n
	}
	return u
}

// WithRateLimit caps submissions per account per minute across all instances.
func (u *Uploader) WithRateLimit(rl RateLimiter, perMinute int) *Uploader {
	if rl != nil && perMinute > 0 {
		u.rl = rl
		u.rateLimitPerMinute = int64(perMinute)
	}
	return u
}

func (u *Uploader) WithMetrics(m *metrics.Metrics) *Uploader {
	u.metrics = m
	return u
}

// Upload submits the tracking number of one matched delivery. It never resubmits a
// delivery or an order that is already uploaded.
func (u *Uploader) Upload(ctx context.Context, deliveryID uint64) Result {
	res, err := u.upload(ctx, deliveryID)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
	}
	return res
}

func (u *Uploader) upload(ctx context.Context, deliveryID uint64) (Result, error) {
	res := Result{DeliveryID: deliveryID}

	d, err := u.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return res, err
	}
	if d.Status == models.DeliveryStatusUploaded {
		u.metrics.Upload("already_uploaded")
		res.Success, res.AlreadyUploaded = true, true
		return res, nil
	}
	if d.Status != models.DeliveryStatusMatched || d.MatchedOrderID == nil {
		u.metrics.Upload("skipped")
		return res, errors.Wrapf(ErrNotMatched, "status %s", d.Status)
	}

	unlock := u.orderLocks.Lock(*d.MatchedOrderID)
	defer unlock()

	// перечитываем под локом: параллельная загрузка могла уже всё сделать
	d, err = u.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return res, err
	}
	if d.Status == models.DeliveryStatusUploaded {
		u.metrics.Upload("already_uploaded")
		res.Success, res.AlreadyUploaded = true, true
		return res, nil
	}
	if d.Status != models.DeliveryStatusMatched || d.MatchedOrderID == nil {
		u.metrics.Upload("skipped")
		return res, errors.Wrapf(ErrNotMatched, "status %s", d.Status)
	}

	order, err := u.repo.GetPendingOrder(ctx, *d.MatchedOrderID)
	if err != nil {
		return res, errors.Wrap(err, "load matched order")
	}
	if order.IsInvoiceUploaded {
		if _, err := u.repo.UpdateDeliveryStatus(ctx, models.DeliveryStatusUpdate{
			DeliveryID: d.ID,
			Status:     models.DeliveryStatusUploaded,
		}); err != nil {
			return res, errors.Wrap(err, "mark delivery uploaded")
		}
		u.metrics.Upload("already_uploaded")
		res.Success, res.AlreadyUploaded = true, true
		return res, nil
	}

	if err := u.allow(ctx, d.AccountID); err != nil {
		u.recordTransient(ctx, d.ID, err)
		return res, err
	}

	err = u.marketplace.SubmitTrackingNumber(ctx, marketplace.TrackingSubmission{
		AccountID:      d.AccountID,
		Order:          order.Ref(),
		CourierName:    d.CourierName,
		TrackingNumber: d.TrackingNumber,
	})
	switch {
	case errors.Is(err, marketplace.ErrRejected):
		msg := err.Error()
		if _, uerr := u.repo.UpdateDeliveryStatus(ctx, models.DeliveryStatusUpdate{
			DeliveryID:   d.ID,
			Status:       models.DeliveryStatusFailed,
			ErrorMessage: &msg,
		}); uerr != nil {
			u.log.Error("mark delivery failed", zap.Uint64("delivery_id", d.ID), zap.Error(uerr))
		}
		u.metrics.Upload("rejected")
		res.Permanent = true
		return res, err
	case err != nil:
		u.recordTransient(ctx, d.ID, err)
		return res, err
	}

	if err := u.repo.MarkOrderUploaded(ctx, order.ID); err != nil {
		return res, errors.Wrap(err, "mark order uploaded")
	}
	if _, err := u.repo.UpdateDeliveryStatus(ctx, models.DeliveryStatusUpdate{
		DeliveryID: d.ID,
		Status:     models.DeliveryStatusUploaded,
	}); err != nil {
		return res, errors.Wrap(err, "mark delivery uploaded")
	}

	u.metrics.Upload("uploaded")
	u.log.Info("tracking number uploaded",
		zap.Uint64("delivery_id", d.ID),
		zap.String("order_id", order.OrderID),
		zap.String("tracking_number", d.TrackingNumber))
	res.Success = true
	return res, nil
}

func (u *Uploader) allow(ctx context.Context, accountID string) error {
	if u.rl == nil {
		return nil
	}
	ok, n, err := u.rl.Allow(ctx, "upload:"+accountID, u.rateLimitPerMinute, time.Minute)
	if err != nil {
		// лимитер недоступен: не блокируем загрузку
		u.log.Warn("upload rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return errors.Wrapf(ErrRateLimited, "account %s: %d requests in the current minute", accountID, n)
	}
	return nil
}

// recordTransient keeps the delivery matched and stores the last error on it.
func (u *Uploader) recordTransient(ctx context.Context, deliveryID uint64, cause error) {
	u.metrics.Upload("transient")
	msg := cause.Error()
	if _, err := u.repo.UpdateDeliveryStatus(ctx, models.DeliveryStatusUpdate{
		DeliveryID:   deliveryID,
		Status:       models.DeliveryStatusMatched,
		ErrorMessage: &msg,
	}); err != nil {
		u.log.Error("record upload error", zap.Uint64("delivery_id", deliveryID), zap.Error(err))
	}
}

// BulkUpload runs Upload for every id with bounded parallelism. A failing item never stops
// the batch; items not started before ctx is done are reported as failed.
func (u *Uploader) BulkUpload(ctx context.Context, ids []uint64) BulkResult {
	results := make([]Result, len(ids))

	sem := make(chan struct{}, u.concurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = Result{DeliveryID: id, Error: fmt.Sprintf("not attempted: %v", ctx.Err())}
			continue
		}
		wg.Add(1)
		go func(i int, id uint64) {
			defer func() {
				<-sem
				wg.Done()
			}()
			results[i] = u.Upload(ctx, id)
		}(i, id)
	}
	wg.Wait()

	out := BulkResult{Results: results}
	for _, r := range results {
		if r.Success {
			out.SuccessCount++
		} else {
			out.FailedCount++
		}
	}
	return out
}

var _ Repository = (storage.Store)(nil)
