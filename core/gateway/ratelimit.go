package gateway

import (
	"sync"
	"time"
)

// tokenBucket rate-limits INGEST frames per connection. Refill is computed
// from elapsed time rather than a ticker goroutine so idle connections cost
// nothing.
type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64
	burst  float64
}

func newTokenBucket(rps, burst int) *tokenBucket {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &tokenBucket{
		tokens: float64(burst),
		last:   time.Now(),
		rate:   float64(rps),
		burst:  float64(burst),
	}
}

// Allow consumes one token if available. A nil bucket always allows.
func (b *tokenBucket) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
