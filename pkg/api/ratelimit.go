package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gravewhisper/gravewhisper/pkg/store"
	"golang.org/x/time/rate"
)

const (
	rateLimitCleanupInterval = 5 * time.Minute
	rateLimitEntryTTL        = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiterMap struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
}

// newRateLimiterMap creates a per-IP token bucket set. Stale entries are
// swept until done is closed.
func newRateLimiterMap(requestsPerMinute int, done <-chan struct{}) *rateLimiterMap {
	rps := rate.Limit(float64(requestsPerMinute) / 60.0)

	rl := &rateLimiterMap{
		limiters: make(map[string]*ipLimiter, 64),
		rps:      rps,
		burst:    requestsPerMinute, // Allow burst up to the per-minute limit.
	}

	go rl.cleanup(done)

	return rl
}

func (rl *rateLimiterMap) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[ip] = &ipLimiter{
			limiter:  limiter,
			lastSeen: time.Now(),
		}

		return limiter
	}

	entry.lastSeen = time.Now()

	return entry.limiter
}

func (rl *rateLimiterMap) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, entry := range rl.limiters {
		if time.Since(entry.lastSeen) > rateLimitEntryTTL {
			delete(rl.limiters, ip)
		}
	}
}

func (rl *rateLimiterMap) cleanup(done <-chan struct{}) {
	ticker := time.NewTicker(rateLimitCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-done:
			return
		}
	}
}

// rateLimitMiddleware applies a per-IP token bucket. A nil map disables
// limiting.
func (s *server) rateLimitMiddleware(
	limiterMap *rateLimiterMap,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiterMap == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := limiterMap.getLimiter(extractIP(r))

			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate_limited"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// overQuota counts the caller's recent audit entries of action and
// reports whether limit is reached. Callers with an unknown IP are never
// limited. The check is advisory: it runs before the write it guards.
func (s *server) overQuota(
	ctx context.Context, action, ip, adminUserID string, limit int,
) (bool, error) {
	if !s.cfg.Server.RateLimit.Enabled || ip == "" || limit <= 0 {
		return false, nil
	}

	count, err := s.store.CountRecentAudit(ctx, store.AuditQuery{
		Action:      action,
		IP:          ip,
		AdminUserID: adminUserID,
		Since:       s.now().Add(-s.window),
	})
	if err != nil {
		return false, err
	}

	return count >= int64(limit), nil
}
