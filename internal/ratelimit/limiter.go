package ratelimit

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// window is one (scope, owner) counter. It is stored in the cache with the
// window's remaining span as its expiration.
type window struct {
	start time.Time
	count int
	span  time.Duration
}

func (w window) ended(now time.Time) bool {
	return !now.Before(w.start.Add(w.span))
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the current window resets.
	RetryAfter time.Duration
}

// Limiter counts requests per (scope, owner) in fixed windows. Ended windows
// are dropped from the cache by Allow at most once per evict interval; the
// cache janitor is not used.
type Limiter struct {
	mu     sync.Mutex
	scopes Scopes
	cache  *cache.Cache
	now    func() time.Time

	evictEvery time.Duration
	lastEvict  time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithEvictInterval sets how often ended windows are dropped.
func WithEvictInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.evictEvery = d
	}
}

// New creates a limiter.
func New(scopes Scopes, opts ...Option) *Limiter {
	l := &Limiter{
		scopes:     scopes,
		cache:      cache.New(cache.NoExpiration, 0),
		now:        time.Now,
		evictEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastEvict = l.now()
	return l
}

func key(scope, owner string) string {
	return scope + "\x00" + owner
}

// Allow records a request for owner in scope. Unknown scopes are unlimited.
func (l *Limiter) Allow(scope, owner string) Decision {
	s, ok := l.scopes[scope]
	if !ok {
		return Decision{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastEvict) >= l.evictEvery {
		l.evictLocked(now)
	}

	k := key(scope, owner)
	var w window
	if v, found := l.cache.Get(k); found {
		w = v.(window)
	}
	if w.span == 0 || w.ended(now) {
		w = window{start: now, span: s.Window()}
	}

	retry := w.start.Add(w.span).Sub(now)
	if w.count >= s.MaxRequests {
		return Decision{Allowed: false, RetryAfter: retry}
	}
	w.count++
	l.cache.Set(k, w, retry)
	return Decision{Allowed: true, Remaining: s.MaxRequests - w.count, RetryAfter: retry}
}

// Len returns the number of windows held, ended or not.
func (l *Limiter) Len() int {
	return l.cache.ItemCount()
}

// Evict drops windows that have ended.
func (l *Limiter) Evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictLocked(l.now())
}

func (l *Limiter) evictLocked(now time.Time) {
	l.cache.DeleteExpired()
	for k, item := range l.cache.Items() {
		if w, ok := item.Object.(window); ok && w.ended(now) {
			l.cache.Delete(k)
		}
	}
	l.lastEvict = now
}

// Close drops every window. Calling it more than once is safe.
func (l *Limiter) Close() {
	l.cache.Flush()
}
