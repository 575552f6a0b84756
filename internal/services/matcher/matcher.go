// Package matcher scores pending marketplace orders against a collected delivery and picks
// at most one of them. It has no side effects.
package matcher

import (
	"math"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
)

const (
	DefaultAcceptThreshold = 60
	DefaultMargin          = 10
	DefaultTimeWindow      = 7 * 24 * time.Hour
	DefaultNameWeight      = 60
	DefaultTimeWeight      = 30
	DefaultProductWeight   = 10

	maskedNameScore = 0.8
)

const (
	ReasonMatched        = "matched"
	ReasonNoCandidates   = "no candidates"
	ReasonBelowThreshold = "below threshold"
	ReasonAmbiguous      = "ambiguous"
)

type Config struct {
	AcceptThreshold int
	Margin          int
	TimeWindow      time.Duration
	NameWeight      int
	TimeWeight      int
	ProductWeight   int
}

func DefaultConfig() Config {
	return Config{
		AcceptThreshold: DefaultAcceptThreshold,
		Margin:          DefaultMargin,
		TimeWindow:      DefaultTimeWindow,
		NameWeight:      DefaultNameWeight,
		TimeWeight:      DefaultTimeWeight,
		ProductWeight:   DefaultProductWeight,
	}
}

type Matcher struct {
	cfg Config
}

// New fills zero fields of cfg with defaults.
func New(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = def.AcceptThreshold
	}
	if cfg.Margin <= 0 {
		cfg.Margin = def.Margin
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = def.TimeWindow
	}
	if cfg.NameWeight <= 0 && cfg.TimeWeight <= 0 && cfg.ProductWeight <= 0 {
		cfg.NameWeight, cfg.TimeWeight, cfg.ProductWeight = def.NameWeight, def.TimeWeight, def.ProductWeight
	}
	return &Matcher{cfg: cfg}
}

// WithMargin sets the required lead over the runner-up. Zero is a valid margin, so callers
// that read it from configuration use this instead of relying on New's defaults.
func (m *Matcher) WithMargin(margin int) *Matcher {
	if margin >= 0 {
		m.cfg.Margin = margin
	}
	return m
}

func (m *Matcher) Config() Config { return m.cfg }

// Eligible reports whether an order may still be matched to the delivery.
func Eligible(d *models.DeliveryRecord, o *models.PendingOrder) bool {
	if o == nil || o.IsInvoiceUploaded {
		return false
	}
	if o.ClaimedByDeliveryID != nil && *o.ClaimedByDeliveryID != d.ID {
		return false
	}
	return d.AccountID == "" || o.AccountID == "" || d.AccountID == o.AccountID
}

// Score rates one delivery/order pair on a 0..100 scale.
func (m *Matcher) Score(d *models.DeliveryRecord, o *models.PendingOrder) int {
	name := nameScore(d.ReceiverName, o.ReceiverName)
	proximity := m.timeScore(d.CollectedAt, o.OrderedAt)

	sum := float64(m.cfg.NameWeight)*name + float64(m.cfg.TimeWeight)*proximity
	total := float64(m.cfg.NameWeight + m.cfg.TimeWeight)
	if d.ProductName != "" && o.ProductName != "" {
		sum += float64(m.cfg.ProductWeight) * jaccard(tokens(d.ProductName), tokens(o.ProductName))
		total += float64(m.cfg.ProductWeight)
	}
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * sum / total))
}

func (m *Matcher) timeScore(collectedAt, orderedAt time.Time) float64 {
	if collectedAt.IsZero() || orderedAt.IsZero() {
		return 0
	}
	diff := collectedAt.Sub(orderedAt)
	if diff < 0 {
		diff = -diff
	}
	return math.Max(0, 1-float64(diff)/float64(m.cfg.TimeWindow))
}

// Match picks the best eligible candidate. The winner must score strictly above the accept
// threshold and beat the runner-up by at least the margin.
func (m *Matcher) Match(d *models.DeliveryRecord, candidates []*models.PendingOrder) models.MatchResult {
	res := models.MatchResult{DeliveryID: d.ID}

	var (
		best       *models.PendingOrder
		bestScore  = -1
		secondBest = -1
	)
	for _, o := range candidates {
		if !Eligible(d, o) {
			continue
		}
		s := m.Score(d, o)
		switch {
		case s > bestScore:
			secondBest = bestScore
			best, bestScore = o, s
		case s > secondBest:
			secondBest = s
		}
	}

	if best == nil {
		res.Reason = ReasonNoCandidates
		return res
	}
	res.Confidence = bestScore
	if bestScore <= m.cfg.AcceptThreshold {
		res.Reason = ReasonBelowThreshold
		return res
	}
	if secondBest >= 0 && bestScore-secondBest < m.cfg.Margin {
		res.Reason = ReasonAmbiguous
		return res
	}

	id := best.ID
	res.OrderID = &id
	res.Reason = ReasonMatched
	return res
}
