package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/services/tracker"
)

// Reconciler is the single reconciliation path every trigger converges on.
type Reconciler interface {
	RefreshAll(ctx context.Context) (*tracker.SweepResult, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Sweeper drives the periodic refresh sweep and accepts out-of-band
// triggers (manual refresh, webhook arrival). Overlap with an in-flight
// sweep is tolerated: every sweep re-fetches full authoritative state.
type Sweeper struct {
	store Reconciler

	rl                 RateLimiter
	rateLimitPerMinute int64

	interval  time.Duration
	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastSweepUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalSweeps         atomic.Int64
	totalFailedSweeps   atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

const defaultInterval = 4 * time.Hour

func New(store Reconciler) *Sweeper {
	return &Sweeper{
		store:             store,
		interval:          defaultInterval,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Sweeper) WithRateLimiter(rl RateLimiter, perMinute int64) *Sweeper {
	if rl != nil && perMinute > 0 {
		s.rl = rl
		s.rateLimitPerMinute = perMinute
	}
	return s
}

// Trigger forces an immediate sweep (best-effort, non-blocking). Used by the
// manual refresh action and by webhook arrival: the webhook is a hint that
// something changed, so one full sweep runs rather than a targeted fetch.
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt         time.Time  `json:"startedAt"`
	LastSweepAt       *time.Time `json:"lastSweepAt,omitempty"`
	LastTriggerAt     *time.Time `json:"lastTriggerAt,omitempty"`
	TotalSweeps       int64      `json:"totalSweeps"`
	TotalFailedSweeps int64      `json:"totalFailedSweeps"`
	LastError         string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:         time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalSweeps:       s.totalSweeps.Load(),
		TotalFailedSweeps: s.totalFailedSweeps.Load(),
	}
	if n := s.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastSweepUnixNano.Store(now.UnixNano())
	s.totalSweeps.Add(1)

	if s.rl != nil && s.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:ship24:%s", now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			slog.Warn("rate limiter unavailable, proceeding", "error", err.Error())
		} else if !allowed {
			// Too many sweeps this minute: pause briefly to unload the provider.
			slog.Warn("sweep rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	res, err := s.store.RefreshAll(ctx)
	if err != nil {
		s.totalFailedSweeps.Add(1)
		s.lastErrorMu.Lock()
		s.lastError = err.Error()
		s.lastErrorMu.Unlock()
		slog.Error("refresh sweep", "error", err.Error())
		return
	}

	s.lastErrorMu.Lock()
	s.lastError = ""
	s.lastErrorMu.Unlock()
	slog.Info("refresh sweep done", "updated", len(res.Records), "failed", len(res.Failures))
}
