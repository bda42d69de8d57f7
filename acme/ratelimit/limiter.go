// Package ratelimit implements a CA-rate-limit-aware request wrapper: it
// honors Retry-After on 429/503 responses and otherwise backs off
// exponentially with jitter, sharing a single backoff window across
// concurrent callers of the same logical endpoint class so recovery doesn't
// trigger a thundering herd.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/acmego/acmeclient/acme/problems"
)

// Result is the minimal shape the Limiter needs from an attempt's response
// to decide whether to retry. Callers adapt their transport response into
// this.
type Result struct {
	StatusCode int
	// RetryAfterSeconds and RetryAfterOK mirror
	// transport.Response.RetryAfterSeconds.
	RetryAfterSeconds int
	RetryAfterOK      bool
}

// Limiter coordinates backoff across all callers. The zero value is not
// usable; use New.
type Limiter struct {
	base        time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu      sync.Mutex
	classes map[string]*classState
}

type classState struct {
	mu          sync.Mutex
	attempt     int
	windowUntil time.Time
}

// Config controls backoff tuning.
type Config struct {
	// Base is the initial backoff delay (attempt 1). Default 1s.
	Base time.Duration
	// MaxDelay caps a Retry-After delay and the computed backoff before
	// jitter, which can add up to a further 25%. Default 60s.
	MaxDelay time.Duration
	// MaxAttempts bounds retries per call to Do. Default 5.
	MaxAttempts int
}

// New builds a Limiter from Config, applying defaults for zero fields.
func New(conf Config) *Limiter {
	if conf.Base <= 0 {
		conf.Base = time.Second
	}
	if conf.MaxDelay <= 0 {
		conf.MaxDelay = 60 * time.Second
	}
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = 5
	}
	return &Limiter{
		base:        conf.Base,
		maxDelay:    conf.MaxDelay,
		maxAttempts: conf.MaxAttempts,
		classes:     map[string]*classState{},
	}
}

func (l *Limiter) stateFor(class string) *classState {
	l.mu.Lock()
	defer l.mu.Unlock()
	cs, ok := l.classes[class]
	if !ok {
		cs = &classState{}
		l.classes[class] = cs
	}
	return cs
}

// jitter returns a uniform multiplier in [1.0, 1.25).
func jitter() float64 {
	return 1 + rand.Float64()*0.25
}

func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<uint(attempt-1))
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return time.Duration(float64(d) * jitter())
}

func clamp(d, maxDelay time.Duration) time.Duration {
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Do executes attempt, retrying on 429/503 per the shared per-class backoff
// window, until it succeeds, a non-rate-limit result/error comes back, or
// the attempt budget is exhausted (in which case a *problems.Problem with
// Kind RateLimited is returned). ctx governs cancellation of the sleeps
// between attempts.
func (l *Limiter) Do(ctx context.Context, class string, attempt func() (Result, error)) (Result, error) {
	cs := l.stateFor(class)

	for {
		if err := l.waitForWindow(ctx, cs); err != nil {
			return Result{}, err
		}

		res, err := attempt()
		if err != nil {
			return res, err
		}

		if res.StatusCode != 429 && res.StatusCode != 503 {
			cs.mu.Lock()
			cs.attempt = 0
			cs.windowUntil = time.Time{}
			cs.mu.Unlock()
			return res, nil
		}

		cs.mu.Lock()
		cs.attempt++
		attemptNum := cs.attempt
		var delay time.Duration
		if res.RetryAfterOK {
			delay = clamp(time.Duration(res.RetryAfterSeconds)*time.Second, l.maxDelay)
		} else {
			delay = backoffDelay(l.base, l.maxDelay, attemptNum)
		}

		if attemptNum >= l.maxAttempts {
			retryAfterSecs := int(delay.Seconds())
			cs.attempt = 0
			cs.windowUntil = time.Time{}
			cs.mu.Unlock()
			return Result{}, problems.NewRateLimited(retryAfterSecs,
				"rate limit retry budget exhausted")
		}

		cs.windowUntil = time.Now().Add(delay)
		cs.mu.Unlock()
	}
}

// waitForWindow blocks until cs's shared backoff window (if any) has
// elapsed, or ctx is done.
func (l *Limiter) waitForWindow(ctx context.Context, cs *classState) error {
	cs.mu.Lock()
	until := cs.windowUntil
	cs.mu.Unlock()

	if until.IsZero() {
		return nil
	}
	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
