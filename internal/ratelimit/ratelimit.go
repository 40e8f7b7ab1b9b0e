// Package ratelimit implements the per-IP token buckets described in spec
// §5: 60/min for point-to-point send, 10/min for broadcast.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config describes a single named rate limit.
type Config struct {
	RequestsPerMinute int
	Burst             int
}

// PerIPLimiter tracks one token bucket per client IP for a single named
// limit (e.g. "send" or "broadcast"). Bucket state lives in process memory,
// matching spec §5's "Shared resources" note.
type PerIPLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	cfg      Config
	lastSeen map[string]time.Time
}

// New builds a PerIPLimiter for the given config.
func New(cfg Config) *PerIPLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	return &PerIPLimiter{
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		cfg:      cfg,
	}
}

// Allow reports whether a request from ip is permitted right now, consuming
// a token if so.
func (p *PerIPLimiter) Allow(ip string) bool {
	return p.bucketFor(ip).Allow()
}

func (p *PerIPLimiter) bucketFor(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen[ip] = time.Now()
	b, ok := p.buckets[ip]
	if !ok {
		perSecond := rate.Limit(float64(p.cfg.RequestsPerMinute) / 60.0)
		b = rate.NewLimiter(perSecond, p.cfg.Burst)
		p.buckets[ip] = b
	}
	return b
}

// Sweep drops buckets for IPs unseen since before cutoff, bounding memory
// growth for long-running processes.
func (p *PerIPLimiter) Sweep(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ip, t := range p.lastSeen {
		if t.Before(cutoff) {
			delete(p.buckets, ip)
			delete(p.lastSeen, ip)
		}
	}
}

// Registry groups the named per-IP limiters the request surface needs.
type Registry struct {
	Send      *PerIPLimiter
	Broadcast *PerIPLimiter
}

// NewRegistry builds the standard set of request-surface rate limits from
// spec §5: 60/min send, 10/min broadcast.
func NewRegistry() *Registry {
	return &Registry{
		Send:      New(Config{RequestsPerMinute: 60, Burst: 60}),
		Broadcast: New(Config{RequestsPerMinute: 10, Burst: 10}),
	}
}
