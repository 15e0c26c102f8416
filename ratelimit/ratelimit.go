// Package ratelimit spaces outbound requests per domain with an adaptive
// minimum delay: gentle multiplicative decay on success, aggressive
// growth on throttling responses.
package ratelimit

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Default delay bounds.
const (
	DefaultMinDelay = 5 * time.Second
	DefaultMaxDelay = 300 * time.Second
)

type domainState struct {
	delay       time.Duration
	lastRequest time.Time
	failures    int
}

// Limiter tracks one adaptive delay per domain. The zero value is not
// usable; construct with New.
type Limiter struct {
	mu       sync.Mutex
	domains  map[string]*domainState
	minDelay time.Duration
	maxDelay time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New returns a Limiter with the given delay floor and ceiling.
// Non-positive arguments fall back to the defaults.
func New(minDelay, maxDelay time.Duration) *Limiter {
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Limiter{
		domains:  make(map[string]*domainState),
		minDelay: minDelay,
		maxDelay: maxDelay,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait suspends the caller until the domain's current delay has elapsed
// since the previous request, with ±20% jitter applied to the residual
// wait. The domain's last-request time is bumped on return.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	l.mu.Lock()
	st := l.state(domain)
	elapsed := l.now().Sub(st.lastRequest)
	var wait time.Duration
	if !st.lastRequest.IsZero() && elapsed < st.delay {
		wait = st.delay - elapsed
		jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(wait))
		wait += jitter
		if wait < 0 {
			wait = 0
		}
	}
	l.mu.Unlock()

	if wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	st.lastRequest = l.now()
	l.mu.Unlock()
	return nil
}

// RecordSuccess decays the domain's delay by 10%, bounded by the floor,
// and clears the consecutive-failure count.
func (l *Limiter) RecordSuccess(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(domain)
	st.delay = time.Duration(float64(st.delay) * 0.9)
	if st.delay < l.minDelay {
		st.delay = l.minDelay
	}
	st.failures = 0
}

// RecordFailure grows the domain's delay: ×2 on 429, ×3 on 403 once three
// failures have accumulated, ×1.5 otherwise; bounded by the ceiling.
func (l *Limiter) RecordFailure(domain string, statusCode int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(domain)
	st.failures++

	factor := 1.5
	switch {
	case statusCode == http.StatusTooManyRequests:
		factor = 2
	case statusCode == http.StatusForbidden && st.failures >= 3:
		factor = 3
	}
	st.delay = time.Duration(float64(st.delay) * factor)
	if st.delay > l.maxDelay {
		st.delay = l.maxDelay
	}
}

// CurrentDelay returns the domain's current inter-request delay.
func (l *Limiter) CurrentDelay(domain string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state(domain).delay
}

// state returns the domain entry, creating it at the floor delay.
// Callers must hold l.mu.
func (l *Limiter) state(domain string) *domainState {
	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{delay: l.minDelay}
		l.domains[domain] = st
	}
	return st
}
