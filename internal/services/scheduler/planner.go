package scheduler

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	MinInterval time.Duration // default: 10 minutes
	MaxInterval time.Duration // default: 20 minutes

	Backoff1 time.Duration // default: 30 seconds
	Backoff2 time.Duration // default: 2 minutes
	Backoff3 time.Duration // default: 5 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MinInterval: 10 * time.Minute,
		MaxInterval: 20 * time.Minute,

		Backoff1: 30 * time.Second,
		Backoff2: 2 * time.Minute,
		Backoff3: 5 * time.Minute,
	}
}

// Planner decides when an account gets its next sync request.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// NextDelay is a uniform pick in [MinInterval, MaxInterval] with second granularity, so
// accounts configured together drift apart.
func (p *Planner) NextDelay() time.Duration {
	lo := p.cfg.MinInterval
	hi := p.cfg.MaxInterval
	if hi == lo {
		return lo
	}
	secMin := int(lo.Seconds())
	secMax := int(hi.Seconds())
	if secMax <= secMin {
		return lo
	}
	return time.Duration(secMin+p.r.Intn(secMax-secMin+1)) * time.Second
}

func (p *Planner) BackoffDelay(failCount int) time.Duration {
	switch {
	case failCount <= 1:
		return p.cfg.Backoff1
	case failCount == 2:
		return p.cfg.Backoff2
	default:
		return p.cfg.Backoff3
	}
}
