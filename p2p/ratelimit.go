package p2p

import (
	"sync"
	"time"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter creates a bucket holding maxTokens that regains refillRate tokens every
// refillPeriod.
func NewRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return newRateLimiter(maxTokens, refillRate, refillPeriod, time.Now)
}

func newRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   now(),
		refillPeriod: refillPeriod,
		now:          now,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if refills := int(now.Sub(rl.lastRefill) / rl.refillPeriod); refills > 0 {
		rl.tokens = min(rl.maxTokens, rl.tokens+refills*rl.refillRate)
		rl.lastRefill = rl.lastRefill.Add(time.Duration(refills) * rl.refillPeriod)
	}
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

// PeerRateLimiter keeps one bucket per sender.
type PeerRateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*RateLimiter
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	now          func() time.Time
}

// NewPeerRateLimiter creates a new per-sender rate limiter
func NewPeerRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *PeerRateLimiter {
	return &PeerRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// Allow checks if a message from sender is allowed
func (p *PeerRateLimiter) Allow(sender string) bool {
	p.mu.Lock()
	limiter, ok := p.limiters[sender]
	if !ok {
		limiter = newRateLimiter(p.maxTokens, p.refillRate, p.refillPeriod, p.now)
		p.limiters[sender] = limiter
	}
	p.mu.Unlock()
	return limiter.Allow()
}

// Reset forgets every sender's bucket.
func (p *PeerRateLimiter) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiters = make(map[string]*RateLimiter)
}
