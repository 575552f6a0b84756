package syncapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/TrackSync/internal/logger"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/records"
	"github.com/BearBump/TrackSync/internal/services/syncer"
	"github.com/BearBump/TrackSync/internal/services/uploader"
	"github.com/BearBump/TrackSync/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

type Orchestrator interface {
	Start(ctx context.Context, req syncer.StartRequest) (*syncer.Session, error)
	Stop(sessionID string) error
	Session(sessionID string) (*syncer.Session, error)
	ActiveSession(accountID string) (*syncer.Session, bool)
	ManualMatch(ctx context.Context, deliveryID, orderID uint64) (*models.DeliveryRecord, error)
}

type BulkUploader interface {
	BulkUpload(ctx context.Context, ids []uint64) uploader.BulkResult
}

type StatsComputer interface {
	Compute(ctx context.Context, accountID string) (models.DeliveryStats, error)
}

// API exposes the sync pipeline over JSON and Server-Sent Events.
type API struct {
	orch    Orchestrator
	up      BulkUploader
	records *records.Service
	stats   StatsComputer
	log     *zap.Logger

	swaggerPath string
	metrics     http.Handler
	readiness   []readinessCheck
}

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

func New(orch Orchestrator, up BulkUploader, rec *records.Service, st StatsComputer, log *zap.Logger) *API {
	return &API{
		orch:    orch,
		up:      up,
		records: rec,
		stats:   st,
		log:     logger.OrNop(log).Named("api"),
	}
}

func (a *API) WithSwagger(path string) *API {
	a.swaggerPath = path
	return a
}

// WithMetrics mounts h (normally promhttp) at /metrics.
func (a *API) WithMetrics(h http.Handler) *API {
	a.metrics = h
	return a
}

// WithReadiness adds a dependency check to /readyz.
func (a *API) WithReadiness(name string, check func(ctx context.Context) error) *API {
	a.readiness = append(a.readiness, readinessCheck{name: name, check: check})
	return a
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.ready)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics)
	}
	if a.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, a.swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/swagger.json")))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/accounts/{accountID}/sync", a.startSync)
		r.Get("/accounts/{accountID}/orders", a.listOrders)

		r.Get("/sessions/{sessionID}", a.getSession)
		r.Get("/sessions/{sessionID}/events", a.streamEvents)
		r.Post("/sessions/{sessionID}/stop", a.stopSession)

		r.Get("/deliveries", a.listDeliveries)
		r.Post("/deliveries/upload", a.bulkUpload)
		r.Get("/deliveries/{deliveryID}", a.getDelivery)
		r.Post("/deliveries/{deliveryID}/match", a.manualMatch)

		r.Get("/stats", a.getStats)
	})
	return r
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	code := http.StatusOK
	checks := make(map[string]string, len(a.readiness))
	for _, c := range a.readiness {
		if err := c.check(ctx); err != nil {
			a.log.Warn("readiness check failed", zap.String("check", c.name), zap.Error(err))
			checks[c.name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		checks[c.name] = "ok"
	}
	status := "ok"
	if code != http.StatusOK {
		status = "unavailable"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

type startSyncRequest struct {
	Mode string `json:"mode"`
}

func (a *API) startSync(w http.ResponseWriter, r *http.Request) {
	var req startSyncRequest
	// тело необязательно: без него режим по умолчанию
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, errors.Wrapf(records.ErrInvalidArgument, "bad request body: %v", err))
		return
	}
	accountID := chi.URLParam(r, "accountID")

	s, err := a.orch.Start(r.Context(), syncer.StartRequest{
		AccountID: accountID,
		Mode:      models.SyncMode(req.Mode),
	})
	if errors.Is(err, syncer.ErrSessionInProgress) {
		body := map[string]any{"error": err.Error()}
		if cur, ok := a.orch.ActiveSession(accountID); ok {
			body["session_id"] = cur.ID
		}
		writeJSON(w, http.StatusConflict, body)
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.Snapshot())
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.orch.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *API) stopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := a.orch.Stop(id); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"session_id": id, "stop_requested": true})
}

type matchRequest struct {
	PendingOrderID uint64 `json:"pending_order_id"`
}

func (a *API) manualMatch(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := pathID(r, "deliveryID")
	if err != nil {
		a.writeError(w, err)
		return
	}
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.PendingOrderID == 0 {
		a.writeError(w, errors.Wrap(records.ErrInvalidArgument, "pending_order_id is required"))
		return
	}
	d, err := a.orch.ManualMatch(r.Context(), deliveryID, req.PendingOrderID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type uploadRequest struct {
	DeliveryIDs []uint64 `json:"delivery_ids"`
}

func (a *API) bulkUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := records.ValidateIDs(req.DeliveryIDs); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.up.BulkUpload(r.Context(), req.DeliveryIDs))
}

func (a *API) listDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := a.records.ListDeliveries(r.Context(), q.Get("account_id"), q.Get("status"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": nonNil(out)})
}

func (a *API) getDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "deliveryID")
	if err != nil {
		a.writeError(w, err)
		return
	}
	d, err := a.records.GetDelivery(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	onlyUnuploaded := false
	if v := r.URL.Query().Get("only_unuploaded"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			a.writeError(w, errors.Wrap(records.ErrInvalidArgument, "only_unuploaded must be a boolean"))
			return
		}
		onlyUnuploaded = b
	}
	out, err := a.records.ListPendingOrders(r.Context(), chi.URLParam(r, "accountID"), onlyUnuploaded)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": nonNil(out)})
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.stats.Compute(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, records.ErrInvalidArgument),
		errors.Is(err, syncer.ErrAccountRequired),
		errors.Is(err, syncer.ErrInvalidMode),
		errors.Is(err, syncer.ErrAccountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, syncer.ErrSessionNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncer.ErrSessionInProgress),
		errors.Is(err, storage.ErrOrderAlreadyClaimed),
		errors.Is(err, storage.ErrOrderAlreadyUploaded),
		errors.Is(err, storage.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(records.ErrInvalidArgument, "bad request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Wrapf(records.ErrInvalidArgument, "%s must be a positive integer", name)
	}
	return id, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
