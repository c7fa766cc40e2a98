package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"inquest/internal/metrics"
)

const (
	// Windows slower or flakier than this trigger a shrink.
	slowLatency  = 15 * time.Second
	errRateLimit = 0.10

	adjustInterval = 30 * time.Second
	minWindowCalls = 5
)

// AdaptivePermits bounds concurrent retrieval calls across every worker.
// When adaptive sizing is on, the effective permit count moves within
// [1, max] based on a rolling window of downstream latency and errors:
// sustained slow or failing windows shrink it, recovered windows grow it
// back. Adjustments happen at most once per adjustInterval.
type AdaptivePermits struct {
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu         sync.Mutex
	max        int
	current    int
	held       int // permits parked by the controller, max-current
	adaptive   bool
	lastAdjust time.Time

	// rolling window
	calls      int
	errs       int
	latencySum time.Duration
}

// NewAdaptivePermits creates a permit pool of the given size. adaptive
// false fixes the size permanently.
func NewAdaptivePermits(size int, adaptive bool, logger *zap.Logger) *AdaptivePermits {
	if size < 1 {
		size = 1
	}
	metrics.RetrievalPermits.Set(float64(size))
	return &AdaptivePermits{
		sem:        semaphore.NewWeighted(int64(size)),
		logger:     logger,
		max:        size,
		current:    size,
		adaptive:   adaptive,
		lastAdjust: time.Now(),
	}
}

// Acquire blocks until a permit is free or ctx is done.
func (p *AdaptivePermits) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release returns a permit.
func (p *AdaptivePermits) Release() {
	p.sem.Release(1)
}

// Current reports the effective permit count.
func (p *AdaptivePermits) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Observe records one downstream call and runs the sizing check.
func (p *AdaptivePermits) Observe(d time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.latencySum += d
	if err != nil {
		p.errs++
	}
	if !p.adaptive || p.calls < minWindowCalls || time.Since(p.lastAdjust) < adjustInterval {
		return
	}

	avg := p.latencySum / time.Duration(p.calls)
	errRate := float64(p.errs) / float64(p.calls)
	switch {
	case (avg > slowLatency || errRate > errRateLimit) && p.current > 1:
		// Park one permit. TryAcquire so the controller never blocks a
		// worker; a failed park retries on the next window.
		if p.sem.TryAcquire(1) {
			p.held++
			p.current--
			p.logger.Info("shrinking retrieval permits",
				zap.Int("permits", p.current),
				zap.Duration("avg_latency", avg),
				zap.Float64("error_rate", errRate))
		}
	case avg < slowLatency/2 && errRate < errRateLimit/2 && p.held > 0:
		p.sem.Release(1)
		p.held--
		p.current++
		p.logger.Info("growing retrieval permits", zap.Int("permits", p.current))
	}

	metrics.RetrievalPermits.Set(float64(p.current))
	p.lastAdjust = time.Now()
	p.calls, p.errs, p.latencySum = 0, 0, 0
}
