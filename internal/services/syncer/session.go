package syncer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
)

type Session struct {
	ID        string
	AccountID string
	Mode      models.SyncMode
	StartedAt time.Time

	stopRequested atomic.Bool
	stream        *Stream

	mu         sync.Mutex
	state      models.SyncState
	counters   models.SyncCounters
	finishedAt *time.Time
	err        string
}

type SessionSnapshot struct {
	ID         string              `json:"id"`
	AccountID  string              `json:"account_id"`
	Mode       models.SyncMode     `json:"mode"`
	State      models.SyncState    `json:"state"`
	Counters   models.SyncCounters `json:"counters"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Error      string              `json:"error,omitempty"`
	Events     int                 `json:"events"`
}

func (s *Session) Stream() *Stream { return s.stream }

func (s *Session) State() models.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Terminal() bool { return s.State().Terminal() }

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	snap := SessionSnapshot{
		ID:        s.ID,
		AccountID: s.AccountID,
		Mode:      s.Mode,
		State:     s.state,
		Counters:  s.counters,
		StartedAt: s.StartedAt,
		Error:     s.err,
	}
	if s.finishedAt != nil {
		t := *s.finishedAt
		snap.FinishedAt = &t
	}
	s.mu.Unlock()
	snap.Events = len(s.stream.Events())
	return snap
}

func (s *Session) setState(st models.SyncState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) count(f func(c *models.SyncCounters)) {
	s.mu.Lock()
	f(&s.counters)
	s.mu.Unlock()
}

func (s *Session) Counters() models.SyncCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *Session) finish(st models.SyncState, errMsg string, at time.Time) {
	s.mu.Lock()
	s.state = st
	s.err = errMsg
	s.finishedAt = &at
	s.mu.Unlock()
}
