// Package tracker answers whether a (unit, language) pair is fully done, so
// completed languages are skipped without touching stage checkpoints.
package tracker

import (
	"sync"
)

// Source lists the units that already have a final output in a language.
type Source interface {
	Completed(lang string) (map[string]bool, error)
}

// Tracker caches, per language, the set of completed unit ids. A language is
// loaded from the source on first use and kept current by MarkCompleted.
type Tracker struct {
	src Source

	mu    sync.Mutex
	cache map[string]map[string]bool
}

func New(src Source) *Tracker {
	return &Tracker{src: src, cache: make(map[string]map[string]bool)}
}

func (t *Tracker) load(lang string) (map[string]bool, error) {
	if done, ok := t.cache[lang]; ok {
		return done, nil
	}
	done, err := t.src.Completed(lang)
	if err != nil {
		return nil, err
	}
	if done == nil {
		done = make(map[string]bool)
	}
	t.cache[lang] = done
	return done, nil
}

// IsFullyDone reports whether a final accepted output exists for the pair.
func (t *Tracker) IsFullyDone(unitID, lang string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	done, err := t.load(lang)
	if err != nil {
		return false, err
	}
	return done[unitID], nil
}

// MarkCompleted records a pair whose final output was just written.
func (t *Tracker) MarkCompleted(unitID, lang string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	done, err := t.load(lang)
	if err != nil {
		return err
	}
	done[unitID] = true
	return nil
}

// Count returns the number of completed units in lang.
func (t *Tracker) Count(lang string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	done, err := t.load(lang)
	if err != nil {
		return 0, err
	}
	return len(done), nil
}
