// Package ratelimit implements the Feature rate limiter keyed
// by (featureUuid, channel), per spec.md §5. Unlike the legacy counter the
// source carried (which could drift and never reset after its window), this
// tracks a genuine 10-second rolling window of in-flight invocation
// tickets, per the spec.md §9 Open Question resolution.
package ratelimit

import (
	"sync"
	"time"

	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

const (
	// Window is the rolling window over which invocations are counted.
	Window = 10 * time.Second
	// MaxInFlight is the maximum concurrent invocations permitted per key
	// within Window before TooMany is returned.
	MaxInFlight = 10
)

type ticket struct {
	id      uint64
	started time.Time
}

// Limiter is a key-scoped concurrency limiter; cmd/antboxd builds one per
// tenant.
type Limiter struct {
	mu       sync.Mutex
	inFlight map[string][]ticket
	nextID   uint64
	now      func() time.Time
	window   time.Duration
	max      int
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithWindow overrides the rolling window, e.g. from a tenant's
// config.TenantConfig.RateLimitWindow.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithMaxInFlight overrides the per-key concurrency ceiling, e.g. from a
// tenant's config.TenantConfig.RateLimitMaxInFlt.
func WithMaxInFlight(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.max = n
		}
	}
}

// New builds a Limiter using the spec's defaults (10s window, 10 max),
// overridable per tenant via Option.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		inFlight: make(map[string][]ticket),
		now:      time.Now,
		window:   Window,
		max:      MaxInFlight,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func key(featureUUID, channel string) string { return featureUUID + "|" + channel }

func (l *Limiter) pruneLocked(k string) []ticket {
	cutoff := l.now().Add(-l.window)
	active := l.inFlight[k][:0]
	for _, t := range l.inFlight[k] {
		if t.started.After(cutoff) {
			active = append(active, t)
		}
	}
	l.inFlight[k] = active
	return active
}

// Acquire reserves a slot for (featureUUID, channel), returning a release
// function the caller must invoke exactly once on completion (success or
// error) to free the slot, per spec.md §5. Returns TooMany if the rolling
// window already holds max-or-more invocations for this key.
func (l *Limiter) Acquire(featureUUID, channel string) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(featureUUID, channel)
	active := l.pruneLocked(k)
	if len(active) >= l.max {
		return nil, antboxerrors.TooMany(k)
	}

	l.nextID++
	id := l.nextID
	l.inFlight[k] = append(active, ticket{id: id, started: l.now()})

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			list := l.inFlight[k]
			for i, t := range list {
				if t.id == id {
					l.inFlight[k] = append(list[:i], list[i+1:]...)
					break
				}
			}
		})
	}, nil
}

// Stats reports the current in-flight count for (featureUUID, channel),
// for introspection.
func (l *Limiter) Stats(featureUUID, channel string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pruneLocked(key(featureUUID, channel)))
}
