package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type RateLimitConfig struct {
	Burst             int           // tokens available to a new client
	RefillPerIPPerMin int           // sustained requests per minute
	MaxEntries        int           // clients tracked at once, least recently seen evicted first
	IdleTTL           time.Duration // a client unseen this long starts over with a full bucket
	TrustProxy        bool          // resolve the client IP from proxy headers
}

type bucket struct {
	mu      sync.Mutex
	tokens  float64
	lastRef time.Time
}

// limiter is a token bucket per client IP. Buckets live in an expirable LRU,
// so memory stays bounded without a sweeper.
type limiter struct {
	rate     float64 // tokens per second
	capacity float64

	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucket]
	now     func() time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.RefillPerIPPerMin < 1 {
		cfg.RefillPerIPPerMin = 1
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	return &limiter{
		rate:     float64(cfg.RefillPerIPPerMin) / 60.0,
		capacity: float64(cfg.Burst),
		buckets:  expirable.NewLRU[string, *bucket](cfg.MaxEntries, nil, cfg.IdleTTL),
		now:      time.Now,
	}
}

func (l *limiter) bucketFor(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: l.capacity, lastRef: now}
	}
	// Add refreshes the idle deadline
	l.buckets.Add(key, b)
	return b
}

// allow takes one token for key. When the bucket is empty it reports how many
// seconds until the next token.
func (l *limiter) allow(key string) (ok bool, remaining int, retryAfterSec int) {
	now := l.now()
	b := l.bucketFor(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRef).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.rate)
		b.lastRef = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}

	sec := int(math.Ceil((1 - b.tokens) / l.rate))
	return false, 0, max(sec, 1)
}

// RateLimit throttles requests per client IP. Requests whose IP cannot be
// resolved share a single bucket.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	l := newLimiter(cfg)
	limit := strconv.Itoa(max(cfg.Burst, 1))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "unknown"
			if ip, ok := clientIP(r, cfg.TrustProxy); ok {
				key = ip.String()
			}

			ok, remaining, retry := l.allow(key)
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
