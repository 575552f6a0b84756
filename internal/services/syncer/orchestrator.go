package syncer

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/BearBump/TrackSync/internal/cache"
	"github.com/BearBump/TrackSync/internal/integrations/logistics"
	"github.com/BearBump/TrackSync/internal/integrations/marketplace"
	"github.com/BearBump/TrackSync/internal/logger"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/matcher"
	"github.com/BearBump/TrackSync/internal/services/uploader"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrAccountRequired   = errors.New("account id is required")
	ErrInvalidMode       = errors.New("invalid sync mode")
	ErrSessionInProgress = errors.New("sync already in progress for this account")
	ErrSessionNotFound   = errors.New("sync session not found")
	ErrAccountMismatch   = errors.New("delivery and pending order belong to different accounts")
)

const (
	msgNotAuthenticated = "logistics session is not authenticated, log in again"
	msgStopped          = "sync stopped"

	cursorKeyPrefix = "tracksync:cursor:"
	cursorTTL       = 30 * 24 * time.Hour
)

type Repository interface {
	ListDeliveries(ctx context.Context, filter models.DeliveryFilter) ([]*models.DeliveryRecord, error)
	GetDelivery(ctx context.Context, id uint64) (*models.DeliveryRecord, error)
	UpsertDelivery(ctx context.Context, in models.DeliveryInput) (*models.DeliveryRecord, bool, error)
	ApplyMatch(ctx context.Context, deliveryID, orderID uint64, confidence int) (*models.DeliveryRecord, error)
	ListPendingOrders(ctx context.Context, accountID string, onlyUnuploaded bool) ([]*models.PendingOrder, error)
	GetPendingOrder(ctx context.Context, id uint64) (*models.PendingOrder, error)
	UpsertPendingOrders(ctx context.Context, accountID string, in []models.PendingOrderInput) ([]*models.PendingOrder, error)
}

type Uploader interface {
	Upload(ctx context.Context, deliveryID uint64) uploader.Result
}

// AccountLocker guards an account across instances.
type AccountLocker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

type Config struct {
	OrdersHoursBack    int
	DeliveriesLookback time.Duration
	MaxSession         time.Duration
	HistoryLimit       int
}

func DefaultConfig() Config {
	return Config{
		OrdersHoursBack:    72,
		DeliveriesLookback: 72 * time.Hour,
		MaxSession:         30 * time.Minute,
		HistoryLimit:       100,
	}
}

type StartRequest struct {
	AccountID string
	Mode      models.SyncMode
}

type Orchestrator struct {
	repo        Repository
	logistics   logistics.Client
	marketplace marketplace.Client
	matcher     *matcher.Matcher
	uploader    Uploader

	cursor  cache.BytesCache
	locker  AccountLocker
	log     *zap.Logger
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time

	registry *registry

	observersMu sync.Mutex
	observers   []func(*Session)

	wg sync.WaitGroup
}

func New(repo Repository, lc logistics.Client, mc marketplace.Client, m *matcher.Matcher, up Uploader, cfg Config, log *zap.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.OrdersHoursBack <= 0 {
		cfg.OrdersHoursBack = def.OrdersHoursBack
	}
	if cfg.DeliveriesLookback <= 0 {
		cfg.DeliveriesLookback = def.DeliveriesLookback
	}
	if cfg.MaxSession <= 0 {
		cfg.MaxSession = def.MaxSession
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if m == nil {
		m = matcher.New(matcher.DefaultConfig())
	}
	return &Orchestrator{
		repo:        repo,
		logistics:   lc,
		marketplace: mc,
		matcher:     m,
		uploader:    up,
		log:         logger.OrNop(log).Named("syncer"),
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		registry:    newRegistry(cfg.HistoryLimit),
	}
}

// WithCursor remembers the last successful logistics fetch per account.
func (o *Orchestrator) WithCursor(c cache.BytesCache) *Orchestrator {
	o.cursor = c
	return o
}

func (o *Orchestrator) WithLocker(l AccountLocker) *Orchestrator {
	o.locker = l
	return o
}

func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// OnSession registers a callback invoked for every session right after it starts.
func (o *Orchestrator) OnSession(fn func(*Session)) {
	o.observersMu.Lock()
	o.observers = append(o.observers, fn)
	o.observersMu.Unlock()
}

// Start validates the request, reserves the account and runs the session in the background.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.AccountID == "" {
		return nil, ErrAccountRequired
	}
	if req.Mode == "" {
		req.Mode = models.SyncModeCollectAndMatch
	}
	if !req.Mode.Valid() {
		return nil, errors.Wrapf(ErrInvalidMode, "%q", req.Mode)
	}

	s := &Session{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Mode:      req.Mode,
		StartedAt: o.now(),
		state:     models.SyncStateIdle,
		stream:    newStream(o.now),
	}
	if !o.registry.reserve(s) {
		return nil, ErrSessionInProgress
	}
	if o.locker != nil {
		ok, err := o.locker.TryLock(ctx, req.AccountID, s.ID, o.cfg.MaxSession)
		switch {
		case err != nil:
			o.log.Warn("account lock unavailable, continuing with local registry only",
				zap.String("account_id", req.AccountID), zap.Error(err))
		case !ok:
			o.registry.drop(s)
			return nil, ErrSessionInProgress
		}
	}

	o.metrics.SessionStarted(string(s.Mode))
	o.log.Info("sync session started",
		zap.String("session_id", s.ID),
		zap.String("account_id", s.AccountID),
		zap.String("mode", string(s.Mode)))

	o.observersMu.Lock()
	observers := slices.Clone(o.observers)
	o.observersMu.Unlock()
	for _, fn := range observers {
		fn(s)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.MaxSession)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(runCtx, s)
	}()
	return s, nil
}

// Stop asks a running session to halt at the next item boundary. Stopping a finished
// session is a no-op.
func (o *Orchestrator) Stop(sessionID string) error {
	s, ok := o.registry.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.stopRequested.Store(true)
	return nil
}

func (o *Orchestrator) Session(sessionID string) (*Session, error) {
	s, ok := o.registry.get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ActiveSession returns the running session of the account, if any.
func (o *Orchestrator) ActiveSession(accountID string) (*Session, bool) {
	s, ok := o.registry.activeFor(accountID)
	if !ok || s.Terminal() {
		return nil, false
	}
	return s, true
}

// Shutdown stops every running session and waits for them to finish or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, s := range o.registry.running() {
		s.stopRequested.Store(true)
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ManualMatch links a pending delivery to a pending order chosen by an operator. It goes
// through the same store path as automatic matching.
func (o *Orchestrator) ManualMatch(ctx context.Context, deliveryID, orderID uint64) (*models.DeliveryRecord, error) {
	d, err := o.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	order, err := o.repo.GetPendingOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if d.AccountID != order.AccountID {
		return nil, ErrAccountMismatch
	}

	applied, err := o.applyMatch(ctx, d, order.ID, o.matcher.Score(d, order), "manual")
	if err != nil {
		return nil, err
	}
	o.log.Info("manual match applied",
		zap.Uint64("delivery_id", d.ID),
		zap.Uint64("pending_order_id", order.ID),
		zap.Int("confidence", *applied.MatchConfidence))
	return applied, nil
}

func (o *Orchestrator) applyMatch(ctx context.Context, d *models.DeliveryRecord, orderID uint64, confidence int, kind string) (*models.DeliveryRecord, error) {
	applied, err := o.repo.ApplyMatch(ctx, d.ID, orderID, confidence)
	if err != nil {
		return nil, err
	}
	o.metrics.Matched(kind, confidence)
	return applied, nil
}
