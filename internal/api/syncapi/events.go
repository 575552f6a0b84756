package syncapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type eventFrame struct {
	Type      models.SyncEventType `json:"type"`
	Data      any                  `json:"data"`
	Timestamp time.Time            `json:"timestamp"`
}

// streamEvents replays the session from its first event and follows it until the terminal
// event or until the client goes away.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	s, err := a.orch.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.Stream().Subscribe(r.Context()) {
		b, err := json.Marshal(eventFrame{Type: ev.Type, Data: ev.Data, Timestamp: ev.Timestamp})
		if err != nil {
			a.log.Error("marshal sync event", zap.String("session_id", s.ID), zap.Int("seq", ev.Seq), zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, b); err != nil {
			return
		}
		flusher.Flush()
	}
}
