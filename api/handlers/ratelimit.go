package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/claimvault/api/metrics"
	"golang.org/x/time/rate"
)

// RateLimitError is the 429 response body.
type RateLimitError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // seconds
}

type RateLimiterConfig struct {
	Rate  rate.Limit
	Burst int
	Clock clockwork.Clock
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration
}

func (cfg *RateLimiterConfig) Validate() error {
	if cfg.Rate <= 0 {
		return errors.New("rate is required")
	}
	if cfg.Burst <= 0 {
		return errors.New("burst must be positive")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	return nil
}

// RateLimiter keeps one token bucket per key. Authenticated requests are
// keyed by caller wallet, anonymous ones by client IP.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg RateLimiterConfig) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RateLimiter{cfg: cfg, buckets: make(map[string]*bucket)}, nil
}

// Start evicts idle buckets until ctx is done.
func (rl *RateLimiter) Start(ctx context.Context) {
	go func() {
		ticker := rl.cfg.Clock.NewTicker(rl.cfg.IdleTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				rl.Evict()
			}
		}
	}()
}

// Reserve takes a token for key. When none is available it reports how
// long until one is, without consuming anything.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	now := rl.cfg.Clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Evict drops buckets idle for longer than IdleTTL and returns how many.
func (rl *RateLimiter) Evict() int {
	cutoff := rl.cfg.Clock.Now().Add(-rl.cfg.IdleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimitKey identifies the client a request is charged to.
func RateLimitKey(r *http.Request) string {
	if caller, ok := CallerFromContext(r.Context()); ok {
		return "wallet:" + caller.String()
	}
	return "ip:" + GetIPFromRequest(r)
}

// RateLimitMiddleware rejects requests over the limit with 429 and a
// Retry-After header.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := limiter.Reserve(RateLimitKey(r))
			if !ok {
				seconds := max(int((retryAfter + time.Second - 1) / time.Second), 1)
				metrics.RateLimitedTotal.Inc()

				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeJSON(w, http.StatusTooManyRequests, RateLimitError{
					Error:      "rate_limit_exceeded",
					Message:    "Too many requests. Please slow down.",
					RetryAfter: seconds,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIPFromRequest returns the client IP, preferring the first
// X-Forwarded-For hop, then X-Real-IP, then the connection address.
func GetIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
