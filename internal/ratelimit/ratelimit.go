// Package ratelimit bounds SOS submissions per submitter with a sliding-window log.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/metrics"
)

const (
	DefaultWindow = time.Hour
	DefaultMax    = 3
)

// Decision is the outcome of one CheckAndRecord call.
type Decision struct {
	Allowed bool
	// Count of accepted submissions in the window, including this one when allowed.
	Count int
	// RetryAfter is how long until the oldest counted submission leaves the window.
	RetryAfter time.Duration
	// Token identifies the recorded entry for Forget. Empty when not allowed.
	Token string
}

// Store keeps the per-key log. Implementations must check and record atomically.
type Store interface {
	CheckAndRecord(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error)
	// Forget removes one recorded entry. Unknown tokens are ignored.
	Forget(ctx context.Context, key, token string) error
}

// Admission is a recorded submission that can still be taken back.
type Admission struct {
	Key   string
	Token string
}

// Limiter applies the configured window to a Store.
type Limiter struct {
	store Store
	now   func() time.Time

	mu     sync.RWMutex
	window time.Duration
	max    int
}

func New(store Store, window time.Duration, max int, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	l := &Limiter{store: store, now: now}
	l.SetConfig(window, max)
	return l
}

// SetConfig replaces the window and limit; zero values fall back to the defaults.
func (l *Limiter) SetConfig(window time.Duration, max int) {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	l.mu.Lock()
	l.window, l.max = window, max
	l.mu.Unlock()
}

func (l *Limiter) Config() (time.Duration, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.window, l.max
}

// Allow checks key against the current configuration.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	_, err := l.Admit(ctx, key)
	return err
}

// Admit is Allow returning the recorded entry, so a caller whose work then fails can Forget it.
func (l *Limiter) Admit(ctx context.Context, key string) (Admission, error) {
	window, max := l.Config()
	d, err := l.record(ctx, key, window, max)
	if err != nil {
		return Admission{}, err
	}
	return Admission{Key: key, Token: d.Token}, nil
}

// Forget gives back a slot taken by Admit.
func (l *Limiter) Forget(ctx context.Context, a Admission) error {
	if a.Key == "" || a.Token == "" {
		return nil
	}
	if err := l.store.Forget(ctx, a.Key, a.Token); err != nil {
		return apperrors.Wrap(err, "rate limiter store")
	}
	return nil
}

// CheckAndRecord fails with RateLimited when key already has max accepted submissions inside
// window; nothing is recorded then. Otherwise the submission is recorded.
func (l *Limiter) CheckAndRecord(ctx context.Context, key string, window time.Duration, max int) error {
	_, err := l.record(ctx, key, window, max)
	return err
}

func (l *Limiter) record(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	if key == "" {
		return Decision{}, apperrors.Validation(map[string]string{"submitter": "required"})
	}
	if window <= 0 || max <= 0 {
		return Decision{}, apperrors.Validation(map[string]string{"window": "window and max must be positive"})
	}
	d, err := l.store.CheckAndRecord(ctx, key, l.now(), window, max)
	if err != nil {
		return Decision{}, apperrors.Wrap(err, "rate limiter store")
	}
	metrics.G().RecordRateLimit("sos", d.Allowed)
	if !d.Allowed {
		return d, apperrors.Newf(apperrors.KindRateLimited,
			"at most %d submissions per %s", max, window).
			WithContext("retryAfter", fmt.Sprintf("%d", int(d.RetryAfter.Seconds()+0.999)))
	}
	return d, nil
}

// RetryAfter extracts the retry hint, in seconds, from a RateLimited error.
func RetryAfter(err error) string {
	var e *apperrors.Error
	if apperrors.As(err, &e) && e.Kind == apperrors.KindRateLimited {
		return e.ContextValue("retryAfter")
	}
	return ""
}
