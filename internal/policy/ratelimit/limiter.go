// Package ratelimit paces requests to the upstream records site. Each lane is a
// single-token bucket evaluated against an injected clock, so politeness delays
// are deterministic under test.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/docket-scraper/internal/metrics"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Lane identifies an independent politeness interval.
type Lane string

// Pacing lanes.
const (
	LanePage   Lane = "page"
	LaneDetail Lane = "detail"
	LaneSource Lane = "source"
)

// Config holds the minimum spacing per lane. A zero interval disables the lane.
type Config struct {
	PageInterval   time.Duration
	DetailInterval time.Duration
	SourceInterval time.Duration
}

// Pacer spaces consecutive events within each lane.
type Pacer struct {
	mu      sync.Mutex
	clock   records.Clock
	sleeper records.Sleeper
	lanes   map[Lane]*rate.Limiter
}

// New creates a Pacer.
func New(cfg Config, clock records.Clock, sleeper records.Sleeper) *Pacer {
	p := &Pacer{
		clock:   clock,
		sleeper: sleeper,
		lanes:   make(map[Lane]*rate.Limiter),
	}
	p.addLane(LanePage, cfg.PageInterval)
	p.addLane(LaneDetail, cfg.DetailInterval)
	p.addLane(LaneSource, cfg.SourceInterval)
	return p
}

func (p *Pacer) addLane(lane Lane, interval time.Duration) {
	if interval <= 0 {
		return
	}
	p.lanes[lane] = rate.NewLimiter(rate.Every(interval), 1)
}

// Wait blocks until the lane's interval since its previous event has passed.
func (p *Pacer) Wait(ctx context.Context, rc *records.RunContext, lane Lane) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	limiter, ok := p.lanes[lane]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	now := p.clock.Now()
	reservation := limiter.ReserveN(now, 1)
	p.mu.Unlock()
	if !reservation.OK() {
		return fmt.Errorf("pacer lane %s cannot grant a token", lane)
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	metrics.ObservePacerWait(string(lane), delay)
	rc.Log().Debug("politeness delay", zap.String("lane", string(lane)), zap.Duration("delay", delay))
	if err := p.sleeper.Sleep(ctx, delay); err != nil {
		reservation.CancelAt(p.clock.Now())
		return fmt.Errorf("pacer wait %s: %w", lane, err)
	}
	return nil
}
