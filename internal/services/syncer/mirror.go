package syncer

import (
	"context"
	"encoding/json"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/logger"
	"go.uber.org/zap"
)

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

// EventMirror republishes every session event to Kafka, keyed by account.
type EventMirror struct {
	pub   Publisher
	topic string
	log   *zap.Logger
}

func NewEventMirror(pub Publisher, topic string, log *zap.Logger) *EventMirror {
	return &EventMirror{pub: pub, topic: topic, log: logger.OrNop(log).Named("mirror")}
}

// Attach follows the session stream until it closes. It is meant to be passed to
// Orchestrator.OnSession.
func (m *EventMirror) Attach(s *Session) {
	go func() {
		ctx := context.Background()
		for ev := range s.Stream().Subscribe(ctx) {
			data, err := json.Marshal(ev.Data)
			if err != nil {
				m.log.Error("marshal event data", zap.String("session_id", s.ID), zap.Error(err))
				continue
			}
			msg := messages.SyncEventMessage{
				SessionID: s.ID,
				AccountID: s.AccountID,
				Seq:       ev.Seq,
				Type:      string(ev.Type),
				Data:      data,
				Timestamp: ev.Timestamp,
			}
			if err := m.pub.PublishJSON(ctx, m.topic, s.AccountID, msg); err != nil {
				m.log.Warn("mirror sync event",
					zap.String("session_id", s.ID),
					zap.Int("seq", ev.Seq),
					zap.Error(err))
			}
		}
	}()
}
