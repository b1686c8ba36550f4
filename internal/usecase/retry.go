package usecase

import "time"

// RetryPolicy retries a failing call with exponential backoff. It is a
// plain value invoked by the caller; attempt and delay semantics are
// visible at the call site.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64

	sleep func(time.Duration)
}

func NewRetryPolicy(maxAttempts int, delay time.Duration, backoff float64) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Delay:       delay,
		Backoff:     backoff,
		sleep:       time.Sleep,
	}
}

// Do runs fn until it succeeds or attempts are exhausted, sleeping
// Delay×Backoff^n between attempts. Returns the last error.
func (p RetryPolicy) Do(fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	delay := p.Delay
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < p.MaxAttempts-1 {
			sleep(delay)
			delay = time.Duration(float64(delay) * p.Backoff)
		}
	}
	return err
}
