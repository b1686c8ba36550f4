package exchange

import (
	"sync"
	"time"
)

// Limiter enforces a minimum interval between calls on one API channel.
// A single instance is shared by every caller of that channel across all
// accounts; ordering beyond the lock queue is not guaranteed.
type Limiter struct {
	minInterval time.Duration
	mu          sync.Mutex
	last        time.Time
	sleep       func(time.Duration)
	now         func() time.Time
}

func NewLimiter(callsPerSecond float64) *Limiter {
	return &Limiter{
		minInterval: time.Duration(float64(time.Second) / callsPerSecond),
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// Wait blocks until the minimum interval since the previous call has
// elapsed, then claims the slot.
func (l *Limiter) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elapsed := l.now().Sub(l.last); elapsed < l.minInterval {
		l.sleep(l.minInterval - elapsed)
	}
	l.last = l.now()
}
