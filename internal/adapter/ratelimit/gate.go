// Package ratelimit enforces per-source upstream request budgets.
//
// Grants are paced evenly across the budget window (burst of one) rather
// than allowed to cluster at refill instants. Even pacing means any interval
// of one window length contains at most Capacity grants, however the
// interval is aligned.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/market-ingestor/internal/domain"
)

// Budget is one source's request quota: Capacity requests per Window.
type Budget struct {
	Capacity int
	Window   time.Duration
}

// Gate hands out request slots per source. Safe for concurrent use.
type Gate struct {
	mu       sync.RWMutex
	limiters map[domain.Source]*rate.Limiter
}

// NewGate builds a gate for the given budgets. Budgets with a non-positive
// capacity or window are ignored; sources without a budget are never limited.
func NewGate(budgets map[domain.Source]Budget) *Gate {
	g := &Gate{limiters: make(map[domain.Source]*rate.Limiter, len(budgets))}
	for source, b := range budgets {
		if b.Capacity <= 0 || b.Window <= 0 {
			continue
		}
		interval := b.Window / time.Duration(b.Capacity)
		g.limiters[source] = rate.NewLimiter(rate.Every(interval), 1)
	}
	return g
}

// Acquire asks for one request slot for source. It never blocks: the slot is
// either granted now, or denied along with the duration after which the next
// attempt will succeed.
func (g *Gate) Acquire(source domain.Source) (bool, time.Duration) {
	g.mu.RLock()
	limiter := g.limiters[source]
	g.mu.RUnlock()

	if limiter == nil {
		return true, 0
	}

	res := limiter.Reserve()
	if !res.OK() {
		return false, rate.InfDuration
	}
	if delay := res.Delay(); delay > 0 {
		// Hand the token back; the caller defers instead of waiting.
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// SetBudget installs or replaces one source's budget at runtime.
func (g *Gate) SetBudget(source domain.Source, b Budget) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b.Capacity <= 0 || b.Window <= 0 {
		delete(g.limiters, source)
		return
	}
	interval := b.Window / time.Duration(b.Capacity)
	g.limiters[source] = rate.NewLimiter(rate.Every(interval), 1)
}
