package auth

import (
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// RateLimiter counts attempts per client identity within a rolling window.
// It is a capability object handed to the request layer, not package state,
// and evicts expired buckets as it goes.
type RateLimiter struct {
	limit   int
	window  time.Duration
	buckets cmap.ConcurrentMap[string, *rateBucket]
}

type rateBucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewRateLimiter allows limit attempts per key within window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: cmap.New[*rateBucket](),
	}
}

// Allow records an attempt for key and reports whether it is within the
// limit. The window resets itself once it has fully elapsed. Expired buckets
// are evicted on the way in, so abandoned client identities don't accumulate
// for the life of the process.
func (r *RateLimiter) Allow(key string) bool {
	r.Evict()

	bucket, ok := r.buckets.Get(key)
	if !ok {
		r.buckets.SetIfAbsent(key, &rateBucket{})
		bucket, _ = r.buckets.Get(key)
	}

	now := time.Now()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if now.Sub(bucket.windowStart) > r.window {
		bucket.windowStart = now
		bucket.count = 0
	}
	bucket.count++
	return bucket.count <= r.limit
}

// Evict drops buckets whose window has fully expired. Allow runs it before
// every attempt; attempts are rate-limited by nature, so the scan stays cheap.
func (r *RateLimiter) Evict() {
	now := time.Now()
	for entry := range r.buckets.IterBuffered() {
		entry.Val.mu.Lock()
		expired := now.Sub(entry.Val.windowStart) > r.window
		entry.Val.mu.Unlock()
		if expired {
			r.buckets.Remove(entry.Key)
		}
	}
}
