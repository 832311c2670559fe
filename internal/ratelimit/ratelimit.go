// Package ratelimit implements per-credential request windows. Windows are
// not safe for concurrent use; the credential pool guards them with its lock.
package ratelimit

import "time"

// DefaultWindow is the provider quota period.
const DefaultWindow = time.Minute

// Window decides whether one credential may issue another request.
type Window interface {
	// Allow reports whether a request may be issued at now.
	Allow(now time.Time) bool
	// Record counts a request issued at now.
	Record(now time.Time)
	// WaitTime is how long until Allow turns true; zero when it already is.
	WaitTime(now time.Time) time.Duration
	// Count is the number of requests inside the current window.
	Count(now time.Time) int
	// Limit is the per-window request budget; zero or less means unlimited.
	Limit() int
}

// Kind selects a Window implementation.
type Kind string

const (
	KindSliding Kind = "sliding"
	KindFixed   Kind = "fixed"
)

// New returns a window of the given kind. Unknown kinds fall back to sliding.
func New(kind Kind, limit int, period time.Duration) Window {
	if period <= 0 {
		period = DefaultWindow
	}
	if kind == KindFixed {
		return NewFixed(limit, period)
	}
	return NewSliding(limit, period)
}

// Sliding keeps the timestamps of the last limit requests.
type Sliding struct {
	limit  int
	period time.Duration
	stamps []time.Time
}

func NewSliding(limit int, period time.Duration) *Sliding {
	return &Sliding{limit: limit, period: period}
}

func (s *Sliding) prune(now time.Time) {
	cutoff := now.Add(-s.period)
	i := 0
	for i < len(s.stamps) && !s.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[i:]...)
	}
}

func (s *Sliding) Allow(now time.Time) bool {
	if s.limit <= 0 {
		return true
	}
	s.prune(now)
	return len(s.stamps) < s.limit
}

func (s *Sliding) Record(now time.Time) {
	if s.limit <= 0 {
		return
	}
	s.prune(now)
	s.stamps = append(s.stamps, now)
	// Only the newest limit stamps can ever matter.
	if over := len(s.stamps) - s.limit; over > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[over:]...)
	}
}

func (s *Sliding) WaitTime(now time.Time) time.Duration {
	if s.Allow(now) {
		return 0
	}
	return s.stamps[0].Add(s.period).Sub(now)
}

func (s *Sliding) Count(now time.Time) int {
	s.prune(now)
	return len(s.stamps)
}

func (s *Sliding) Limit() int { return s.limit }

// Fixed counts requests in a window that starts with the first request and
// resets once the period has elapsed.
type Fixed struct {
	limit   int
	period  time.Duration
	count   int
	resetAt time.Time
}

func NewFixed(limit int, period time.Duration) *Fixed {
	return &Fixed{limit: limit, period: period}
}

func (f *Fixed) roll(now time.Time) {
	if !f.resetAt.IsZero() && !now.Before(f.resetAt) {
		f.count = 0
		f.resetAt = time.Time{}
	}
}

func (f *Fixed) Allow(now time.Time) bool {
	if f.limit <= 0 {
		return true
	}
	f.roll(now)
	return f.count < f.limit
}

func (f *Fixed) Record(now time.Time) {
	f.roll(now)
	if f.resetAt.IsZero() {
		f.resetAt = now.Add(f.period)
	}
	f.count++
}

func (f *Fixed) WaitTime(now time.Time) time.Duration {
	if f.Allow(now) {
		return 0
	}
	return f.resetAt.Sub(now)
}

func (f *Fixed) Count(now time.Time) int {
	f.roll(now)
	return f.count
}

func (f *Fixed) Limit() int { return f.limit }
