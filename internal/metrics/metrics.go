package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the sync pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsStarted     *prometheus.CounterVec
	SessionsFinished    *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	DeliveriesCollected prometheus.Counter
	MatchesTotal        *prometheus.CounterVec
	MatchConfidence     prometheus.Histogram
	UploadsTotal        *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		SessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksync_sessions_started_total",
				Help: "Total number of sync sessions started",
			},
			[]string{"mode"},
		),
		SessionsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksync_sessions_finished_total",
				Help: "Total number of sync sessions by terminal state",
			},
			[]string{"outcome"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracksync_active_sessions",
				Help: "Number of sync sessions currently running",
			},
		),
		DeliveriesCollected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tracksync_deliveries_collected_total",
				Help: "Total number of newly collected delivery records",
			},
		),
		MatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksync_matches_total",
				Help: "Total number of applied matches",
			},
			[]string{"kind"}, // auto | manual
		),
		MatchConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tracksync_match_confidence",
				Help:    "Confidence of applied matches",
				Buckets: prometheus.LinearBuckets(50, 10, 6),
			},
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksync_uploads_total",
				Help: "Total number of tracking uploads by result",
			},
			[]string{"result"}, // uploaded | already_uploaded | transient | rejected | skipped
		),
	}
}

func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.SessionsStarted,
		m.SessionsFinished,
		m.ActiveSessions,
		m.DeliveriesCollected,
		m.MatchesTotal,
		m.MatchConfidence,
		m.UploadsTotal,
	)
}

func (m *Metrics) SessionStarted(mode string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(mode).Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(outcome).Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) Collected() {
	if m == nil {
		return
	}
	m.DeliveriesCollected.Inc()
}

func (m *Metrics) Matched(kind string, confidence int) {
	if m == nil {
		return
	}
	m.MatchesTotal.WithLabelValues(kind).Inc()
	m.MatchConfidence.Observe(float64(confidence))
}

func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
}
