package preview

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default rate limits per storefront (requests per second). The catalog
// source is local to the track object and needs no limiter.
var defaultRateLimits = map[SourceName]rate.Limit{
	SourceITunesISRC:   1,
	SourceITunesSearch: 1,
	SourceDeezerSearch: 5,
}

// RateLimiterMap holds one rate.Limiter per source, created once at startup.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[SourceName]*rate.Limiter
}

// NewRateLimiterMap creates all source rate limiters.
func NewRateLimiterMap() *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[SourceName]*rate.Limiter, len(defaultRateLimits)),
	}
	for name, limit := range defaultRateLimits {
		m.limiters[name] = rate.NewLimiter(limit, 1)
	}
	return m
}

// Wait blocks until the rate limiter for the given source allows a request,
// or the context is canceled.
func (m *RateLimiterMap) Wait(ctx context.Context, name SourceName) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
