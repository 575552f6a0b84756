package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/logger"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	SourceScheduler = "scheduler"
	SourceManual    = "manual"

	publishAttempts = 3
)

type Producer interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type Account struct {
	AccountID string          `json:"account_id"`
	Mode      models.SyncMode `json:"mode"`
}

type accountState struct {
	Account
	dueAt     time.Time
	failCount int
}

// Scheduler periodically publishes sync.requested for the configured accounts.
type Scheduler struct {
	producer Producer
	topic    string
	planner  *Planner
	log      *zap.Logger
	now      func() time.Time

	tick time.Duration

	mu       sync.Mutex
	accounts []*accountState

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

// New drops accounts without an id and defaults an empty mode to collect_and_match.
// Every account is due right away.
func New(producer Producer, topic string, accounts []Account, log *zap.Logger) *Scheduler {
	now := time.Now().UTC()
	states := make([]*accountState, 0, len(accounts))
	for _, a := range accounts {
		if a.AccountID == "" {
			continue
		}
		if a.Mode == "" {
			a.Mode = models.SyncModeCollectAndMatch
		}
		states = append(states, &accountState{Account: a})
	}
	return &Scheduler{
		producer:          producer,
		topic:             topic,
		planner:           NewPlanner(DefaultPlannerConfig(), nil),
		log:               logger.OrNop(log).Named("scheduler"),
		now:               func() time.Time { return time.Now().UTC() },
		tick:              time.Second,
		accounts:          states,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: now.UnixNano(),
	}
}

func (s *Scheduler) WithTick(tick time.Duration) *Scheduler {
	if tick > 0 {
		s.tick = tick
	}
	return s
}

func (s *Scheduler) WithPlanner(cfg PlannerConfig) *Scheduler {
	s.planner = NewPlanner(cfg, nil)
	return s
}

func (s *Scheduler) Accounts() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Account)
	}
	return out
}

// Trigger requests a sync for every account right now (best-effort, non-blocking).
func (s *Scheduler) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	Accounts       int        `json:"accounts"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalPublished: s.totalPublished.Load(),
		TotalErrors:    s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.mu.Lock()
	st.Accounts = len(s.accounts)
	s.mu.Unlock()
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx, false)
		case <-s.triggerCh:
			s.runOnce(ctx, true)
		}
	}
}

// runOnce publishes for every due account; force ignores the schedule.
func (s *Scheduler) runOnce(ctx context.Context, force bool) {
	now := s.now()
	s.lastCycleUnixNano.Store(now.UnixNano())

	source := SourceScheduler
	if force {
		source = SourceManual
	}

	s.mu.Lock()
	due := make([]*accountState, 0, len(s.accounts))
	for _, a := range s.accounts {
		if force || !now.Before(a.dueAt) {
			due = append(due, a)
		}
	}
	s.mu.Unlock()

	for _, a := range due {
		if ctx.Err() != nil {
			return
		}
		err := s.publish(ctx, messages.SyncRequested{
			AccountID:   a.AccountID,
			Mode:        string(a.Mode),
			RequestedAt: now,
			Source:      source,
		})

		s.mu.Lock()
		if err != nil {
			a.failCount++
			a.dueAt = now.Add(s.planner.BackoffDelay(a.failCount))
		} else {
			a.failCount = 0
			a.dueAt = now.Add(s.planner.NextDelay())
		}
		next := a.dueAt
		s.mu.Unlock()

		if err != nil {
			s.totalErrors.Add(1)
			s.lastErrorMu.Lock()
			s.lastError = err.Error()
			s.lastErrorMu.Unlock()
			s.log.Error("publish sync request",
				zap.String("account_id", a.AccountID),
				zap.Time("retry_at", next),
				zap.Error(err))
			continue
		}
		s.totalPublished.Add(1)
		s.log.Debug("sync requested",
			zap.String("account_id", a.AccountID),
			zap.String("source", source),
			zap.Time("next_at", next))
	}
}

func (s *Scheduler) publish(ctx context.Context, msg messages.SyncRequested) error {
	var err error
	for i := 0; i < publishAttempts; i++ {
		if err = s.producer.PublishJSON(ctx, s.topic, msg.AccountID, msg); err == nil {
			return nil
		}
		// Kafka может быть не готова сразу после старта docker compose.
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "publish sync request")
		case <-time.After(time.Duration(100*(i+1)) * time.Millisecond):
		}
	}
	return errors.Wrap(err, "publish sync request")
}
