package helpers

import (
	"sync"
	"time"

	"github.com/temoto/atomic_clock"
)

// Backoff computes retry delays growing by factor K from Min up to Max.
// Zero Max means no limit. Safe for concurrent use.
type Backoff struct {
	Min time.Duration
	Max time.Duration
	K   float64
	Res time.Duration // rounding for nice logs, default 1ms

	mu       sync.Mutex
	failures int
	delay    time.Duration
	failedAt atomic_clock.Clock
}

// Failure records failed attempt, returns delay before next one.
func (b *Backoff) Failure() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures == 0 {
		b.delay = b.Min
	} else {
		k := b.K
		if k < 1 {
			k = 1
		}
		b.delay = time.Duration(float64(b.delay) * k)
	}
	if b.Max != 0 && b.delay > b.Max {
		b.delay = b.Max
	}
	b.failures++
	b.failedAt.SetNow()
	return b.round(b.delay)
}

// Success resets delay to zero.
func (b *Backoff) Success() {
	b.mu.Lock()
	b.failures = 0
	b.delay = 0
	b.mu.Unlock()
}

// Failures since last Success.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Remaining part of current delay, zero when retry is due.
func (b *Backoff) Remaining() time.Duration {
	b.mu.Lock()
	delay := b.delay
	b.mu.Unlock()
	if delay == 0 {
		return 0
	}
	if since := atomic_clock.Since(&b.failedAt); since < delay {
		return b.round(delay - since)
	}
	return 0
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res <= 0 {
		res = time.Millisecond
	}
	return d / res * res
}
