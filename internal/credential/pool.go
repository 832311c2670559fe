// Package credential rotates API keys for one provider under per-key rate
// limits and lazily detected quota exhaustion.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/valpere/tabletran/internal/ratelimit"
	"github.com/valpere/tabletran/internal/retry"
)

// ErrExhausted is returned by Acquire once every key has been marked exhausted.
var ErrExhausted = errors.New("all credentials exhausted")

// Key identifies one credential handed out by a pool.
type Key struct {
	Index int
	Token string
}

// Label is the 1-based key name used in logs; it never includes the token.
func (k Key) Label() string {
	return fmt.Sprintf("key #%d", k.Index+1)
}

// Options configures a Pool.
type Options struct {
	// RequestsPerMinute is the per-key budget inside Window; zero disables
	// rate limiting.
	RequestsPerMinute int
	Window            time.Duration
	WindowKind        ratelimit.Kind
	// ExhaustionCooldown re-enables an exhausted key once it has elapsed.
	// Zero keeps exhausted keys out for the lifetime of the pool.
	ExhaustionCooldown time.Duration
	Logger             *slog.Logger
}

type entry struct {
	key         Key
	window      ratelimit.Window
	exhausted   bool
	exhaustedAt time.Time
	requests    int
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Size      int
	Exhausted int
	Rotations int
	Waits     int
	Requests  []int
}

// Pool owns the credential list, the current-key pointer, the exhaustion set
// and every key's request window. All of it is guarded by mu.
type Pool struct {
	name     string
	cooldown time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	keys      []*entry
	current   int
	rotations int
	waits     int

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New builds a pool from tokens. Blank tokens are ignored; an empty pool is a
// configuration error.
func New(name string, tokens []string, opts Options) (*Pool, error) {
	p := &Pool{
		name:     name,
		cooldown: opts.ExhaustionCooldown,
		logger:   opts.Logger,
		now:      time.Now,
		sleep:    retry.Sleep,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		p.keys = append(p.keys, &entry{
			key:    Key{Index: len(p.keys), Token: tok},
			window: ratelimit.New(opts.WindowKind, opts.RequestsPerMinute, opts.Window),
		})
	}
	if len(p.keys) == 0 {
		return nil, fmt.Errorf("credential pool %q: no credentials configured", name)
	}
	return p, nil
}

func (p *Pool) Name() string { return p.name }

// Size is the number of credentials, exhausted or not.
func (p *Pool) Size() int { return len(p.keys) }

// Acquire returns a key that may issue a request now and reserves one request
// slot on it. When every live key is saturated it sleeps until the soonest
// window frees, without holding the lock. When every key is exhausted it
// returns ErrExhausted instead of blocking.
func (p *Pool) Acquire(ctx context.Context) (Key, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Key{}, err
		}

		p.mu.Lock()
		now := p.now()
		p.reviveLocked(now)

		if k, ok := p.pickLocked(now); ok {
			p.mu.Unlock()
			return k, nil
		}

		wait, idx := p.soonestLocked(now)
		if idx < 0 {
			p.mu.Unlock()
			return Key{}, ErrExhausted
		}
		p.waits++
		p.mu.Unlock()

		p.logger.Info("rate limit reached on every live key, waiting",
			"pool", p.name, "wait", wait.Round(time.Millisecond), "next", p.keys[idx].key.Label())
		if err := p.sleep(ctx, wait); err != nil {
			return Key{}, err
		}
	}
}

// pickLocked implements the first two acquire steps: keep the current key
// while it has budget, otherwise scan circularly for a usable one.
func (p *Pool) pickLocked(now time.Time) (Key, bool) {
	n := len(p.keys)
	for i := 0; i < n; i++ {
		j := (p.current + i) % n
		e := p.keys[j]
		if e.exhausted || !e.window.Allow(now) {
			continue
		}
		if j != p.current {
			from := p.keys[p.current].key
			p.current = j
			p.rotations++
			p.logger.Info("credential rotated",
				"pool", p.name, "from", from.Label(), "to", e.key.Label(),
				"reason", "rate limit")
		}
		p.recordLocked(e, now)
		return e.key, true
	}
	return Key{}, false
}

// soonestLocked finds the live key whose window frees first; idx is -1 when
// every key is exhausted.
func (p *Pool) soonestLocked(now time.Time) (time.Duration, int) {
	idx := -1
	var best time.Duration
	for i, e := range p.keys {
		if e.exhausted {
			continue
		}
		w := e.window.WaitTime(now)
		if idx < 0 || w < best {
			idx, best = i, w
		}
	}
	return best, idx
}

func (p *Pool) reviveLocked(now time.Time) {
	if p.cooldown <= 0 {
		return
	}
	for _, e := range p.keys {
		if e.exhausted && now.Sub(e.exhaustedAt) >= p.cooldown {
			e.exhausted = false
			p.logger.Info("credential re-enabled after cooldown", "pool", p.name, "key", e.key.Label())
		}
	}
}

func (p *Pool) recordLocked(e *entry, now time.Time) {
	e.window.Record(now)
	e.requests++
}

// RecordRequest counts a request issued with k outside Acquire.
func (p *Pool) RecordRequest(k Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.entry(k); e != nil {
		p.recordLocked(e, p.now())
	}
}

// MarkExhausted takes k out of rotation and moves the pointer past it.
// Marking an already exhausted key is a no-op, so concurrent workers hitting
// the same quota error do not double count.
func (p *Pool) MarkExhausted(k Key) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entry(k)
	if e == nil || e.exhausted {
		return
	}
	e.exhausted = true
	e.exhaustedAt = p.now()

	exhausted := p.exhaustedLocked()
	p.logger.Warn("credential quota exhausted",
		"pool", p.name, "key", k.Label(),
		"exhausted", fmt.Sprintf("%d/%d", exhausted, len(p.keys)))

	if p.current != k.Index {
		return
	}
	n := len(p.keys)
	for i := 1; i < n; i++ {
		j := (p.current + i) % n
		if !p.keys[j].exhausted {
			p.current = j
			p.logger.Info("credential rotated",
				"pool", p.name, "from", k.Label(), "to", p.keys[j].key.Label(),
				"reason", "quota")
			return
		}
	}
}

// Available reports whether at least one key is not exhausted.
func (p *Pool) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reviveLocked(p.now())
	return p.exhaustedLocked() < len(p.keys)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Size:      len(p.keys),
		Exhausted: p.exhaustedLocked(),
		Rotations: p.rotations,
		Waits:     p.waits,
		Requests:  make([]int, len(p.keys)),
	}
	for i, e := range p.keys {
		s.Requests[i] = e.requests
	}
	return s
}

func (p *Pool) exhaustedLocked() int {
	n := 0
	for _, e := range p.keys {
		if e.exhausted {
			n++
		}
	}
	return n
}

func (p *Pool) entry(k Key) *entry {
	if k.Index < 0 || k.Index >= len(p.keys) {
		return nil
	}
	return p.keys[k.Index]
}
