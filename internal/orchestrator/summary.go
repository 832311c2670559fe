package orchestrator

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// PairState is where a (unit, language) pair is in the pipeline.
type PairState int

const (
	NotStarted PairState = iota
	Stage1Done
	Stage2Done
	Stage3Done
	Accepted
	Dropped
	PermanentlyFailed
	Skipped
)

func (s PairState) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Stage1Done:
		return "stage1-done"
	case Stage2Done:
		return "stage2-done"
	case Stage3Done:
		return "stage3-done"
	case Accepted:
		return "accepted"
	case Dropped:
		return "dropped"
	case PermanentlyFailed:
		return "permanently-failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further stage runs for the pair in this run.
func (s PairState) Terminal() bool {
	return s >= Accepted
}

type langCounters struct {
	kept    *xsync.Counter
	dropped *xsync.Counter
	failed  *xsync.Counter
	skipped *xsync.Counter
}

// Summary counts terminal pair states per language. It is safe for
// concurrent use.
type Summary struct {
	langs   *xsync.Map[string, *langCounters]
	units   *xsync.Counter
	started time.Time
	elapsed time.Duration
}

func NewSummary() *Summary {
	return &Summary{
		langs:   xsync.NewMap[string, *langCounters](),
		units:   xsync.NewCounter(),
		started: time.Now(),
	}
}

func (s *Summary) counters(lang string) *langCounters {
	c, _ := s.langs.LoadOrCompute(lang, func() (*langCounters, bool) {
		return &langCounters{
			kept:    xsync.NewCounter(),
			dropped: xsync.NewCounter(),
			failed:  xsync.NewCounter(),
			skipped: xsync.NewCounter(),
		}, false
	})
	return c
}

// Record counts a pair that reached a terminal state. Non-terminal states
// are ignored.
func (s *Summary) Record(lang string, state PairState) {
	c := s.counters(lang)
	switch state {
	case Accepted:
		c.kept.Inc()
	case Dropped:
		c.dropped.Inc()
	case PermanentlyFailed:
		c.failed.Inc()
	case Skipped:
		c.skipped.Inc()
	}
}

func (s *Summary) unitDone() { s.units.Inc() }

func (s *Summary) finish() { s.elapsed = time.Since(s.started) }

// LangCounts is the per-language view of a Summary.
type LangCounts struct {
	Lang    string
	Kept    int
	Dropped int
	Failed  int
	Skipped int
}

// Total is the number of pairs counted for the language.
func (c LangCounts) Total() int {
	return c.Kept + c.Dropped + c.Failed + c.Skipped
}

// Lang returns the counts for one language.
func (s *Summary) Lang(lang string) LangCounts {
	c, ok := s.langs.Load(lang)
	if !ok {
		return LangCounts{Lang: lang}
	}
	return LangCounts{
		Lang:    lang,
		Kept:    int(c.kept.Value()),
		Dropped: int(c.dropped.Value()),
		Failed:  int(c.failed.Value()),
		Skipped: int(c.skipped.Value()),
	}
}

// Languages returns the counts of every language seen, sorted by code.
func (s *Summary) Languages() []LangCounts {
	var codes []string
	s.langs.Range(func(lang string, _ *langCounters) bool {
		codes = append(codes, lang)
		return true
	})
	sort.Strings(codes)

	out := make([]LangCounts, 0, len(codes))
	for _, code := range codes {
		out = append(out, s.Lang(code))
	}
	return out
}

// Totals sums the counts over every language.
func (s *Summary) Totals() LangCounts {
	var t LangCounts
	for _, c := range s.Languages() {
		t.Kept += c.Kept
		t.Dropped += c.Dropped
		t.Failed += c.Failed
		t.Skipped += c.Skipped
	}
	return t
}

// Units is the number of units the run went through.
func (s *Summary) Units() int { return int(s.units.Value()) }

// Elapsed is the wall time of the run, set when it returns.
func (s *Summary) Elapsed() time.Duration { return s.elapsed }
