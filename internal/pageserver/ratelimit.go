package pageserver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTimeout   = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// peerLimiter enforces a per-peer token bucket. rps <= 0 disables limiting.
type peerLimiter struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

func newPeerLimiter(rps float64, burst int) *peerLimiter {
	if burst < 1 {
		burst = 1
	}
	return &peerLimiter{rps: rps, burst: burst, limiters: make(map[string]*limiterEntry)}
}

func (p *peerLimiter) allow(peer string) bool {
	if p.rps <= 0 {
		return true
	}
	p.mu.Lock()
	e, ok := p.limiters[peer]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.limiters[peer] = e
	}
	e.lastSeen = time.Now()
	p.mu.Unlock()

	return e.limiter.Allow()
}

// sweep drops limiters idle for longer than idle.
func (p *peerLimiter) sweep(idle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.limiters {
		if time.Since(e.lastSeen) > idle {
			delete(p.limiters, k)
			n++
		}
	}
	return n
}

func (p *peerLimiter) startSweeper(ctx context.Context) {
	go func() {
		tick := time.NewTicker(limiterSweepInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				p.sweep(limiterIdleTimeout)
			}
		}
	}()
}
