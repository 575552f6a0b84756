package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
)

// Stream is the append-only event log of one session. Producers never block on readers:
// every subscriber walks the log at its own pace and is woken up on append.
type Stream struct {
	mu     sync.Mutex
	events []models.SyncEvent
	closed bool
	wake   chan struct{}
	now    func() time.Time
}

func newStream(now func() time.Time) *Stream {
	return &Stream{wake: make(chan struct{}), now: now}
}

// append adds an event and reports false once the stream has been closed.
func (s *Stream) append(typ models.SyncEventType, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events = append(s.events, models.SyncEvent{
		Seq:       len(s.events) + 1,
		Type:      typ,
		Data:      data,
		Timestamp: s.now(),
	})
	close(s.wake)
	s.wake = make(chan struct{})
	return true
}

// appendTerminal adds the last event and closes the stream in one step.
func (s *Stream) appendTerminal(typ models.SyncEventType, data any) bool {
	if !s.append(typ, data) {
		return false
	}
	s.close()
	return true
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.wake)
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) Events() []models.SyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SyncEvent(nil), s.events...)
}

// Subscribe replays the stream from the first event and then follows it. The channel is
// closed after the terminal event or when ctx is done.
func (s *Stream) Subscribe(ctx context.Context) <-chan models.SyncEvent {
	out := make(chan models.SyncEvent)
	go func() {
		defer close(out)
		next := 0
		for {
			s.mu.Lock()
			if next < len(s.events) {
				ev := s.events[next]
				s.mu.Unlock()
				select {
				case out <- ev:
					next++
				case <-ctx.Done():
					return
				}
				continue
			}
			if s.closed {
				s.mu.Unlock()
				return
			}
			wake := s.wake
			s.mu.Unlock()

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
