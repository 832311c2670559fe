// Package orchestrator drives units through initial translation, refinement
// and back-translation, gates every pair on round-trip quality and writes
// the accepted outputs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/language"
	"github.com/valpere/tabletran/internal/output"
	"github.com/valpere/tabletran/internal/quality"
	"github.com/valpere/tabletran/internal/tracker"
	"github.com/valpere/tabletran/internal/unit"
)

// VerdictLedger keeps a queryable copy of every quality verdict.
type VerdictLedger interface {
	SaveVerdict(ctx context.Context, runID string, v quality.Verdict) error
}

// Options configures an Orchestrator. Failures and Ledger are optional.
type Options struct {
	Threshold float64
	// SkipFailed excludes pairs with a recorded permanent failure instead of
	// retrying them.
	SkipFailed bool
	Failures   checkpoint.FailureLog
	Ledger     VerdictLedger
	RunID      string
	Logger     *slog.Logger
}

type Orchestrator struct {
	runner  *Runner
	langs   []language.Target
	tracker *tracker.Tracker
	gate    quality.Gate
	out     *output.Writer
	opts    Options
	logger  *slog.Logger
}

func New(runner *Runner, langs []language.Target, tr *tracker.Tracker, out *output.Writer, opts Options) (*Orchestrator, error) {
	if len(langs) == 0 {
		return nil, errors.New("no target languages configured")
	}
	if opts.Threshold < 0 {
		return nil, fmt.Errorf("quality threshold %v must not be negative", opts.Threshold)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		runner:  runner,
		langs:   langs,
		tracker: tr,
		gate:    quality.Gate{Threshold: opts.Threshold},
		out:     out,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Run processes units one at a time. It stops between units when ctx is
// done and returns the summary so far together with the context error.
// Per-pair failures never abort the run.
func (o *Orchestrator) Run(ctx context.Context, units []*unit.Unit) (*Summary, error) {
	summary := NewSummary()
	defer summary.finish()

	for n, u := range units {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		o.logger.Info("processing unit", "unit", u.ID, "index", n+1, "of", len(units))
		o.processUnit(ctx, u, summary)
		summary.unitDone()
	}
	return summary, ctx.Err()
}

// pairs tracks the pipeline state of every language of one unit.
type pairs struct {
	state   map[string]PairState
	initial map[string]*unit.Unit
	refined map[string]*unit.Unit
	back    map[string]*unit.Unit
}

func (o *Orchestrator) processUnit(ctx context.Context, u *unit.Unit, summary *Summary) {
	p := pairs{
		state:   make(map[string]PairState),
		initial: make(map[string]*unit.Unit),
		refined: make(map[string]*unit.Unit),
		back:    make(map[string]*unit.Unit),
	}

	remaining := o.remaining(ctx, u, summary)
	if len(remaining) == 0 {
		o.logger.Debug("unit already complete", "unit", u.ID)
		return
	}
	for _, l := range remaining {
		p.state[l.Code] = NotStarted
	}

	// Stage 1, batched across languages.
	tasks := make([]Task, len(remaining))
	for i, l := range remaining {
		tasks[i] = Task{Original: u, Lang: l}
	}
	for i, res := range o.runner.Run(ctx, checkpoint.Initial, tasks) {
		l := remaining[i]
		if !res.OK() {
			o.fail(ctx, u, l, checkpoint.Initial, res.Err, &p, summary)
			continue
		}
		p.initial[l.Code] = res.Unit
		p.state[l.Code] = Stage1Done
	}

	// Stage 2, one language at a time.
	for _, l := range remaining {
		if p.state[l.Code] != Stage1Done {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		res := o.runner.Run(ctx, checkpoint.Refined, []Task{{Original: u, Input: p.initial[l.Code], Lang: l}})[0]
		if !res.OK() {
			o.fail(ctx, u, l, checkpoint.Refined, res.Err, &p, summary)
			continue
		}
		p.refined[l.Code] = res.Unit
		p.state[l.Code] = Stage2Done
	}

	// Stage 3, batched across the refined languages.
	var refined []language.Target
	tasks = tasks[:0]
	for _, l := range remaining {
		if p.state[l.Code] == Stage2Done {
			refined = append(refined, l)
			tasks = append(tasks, Task{Original: u, Input: p.refined[l.Code], Lang: l})
		}
	}
	if len(tasks) > 0 && ctx.Err() == nil {
		for i, res := range o.runner.Run(ctx, checkpoint.BackTranslated, tasks) {
			l := refined[i]
			if !res.OK() {
				o.fail(ctx, u, l, checkpoint.BackTranslated, res.Err, &p, summary)
				continue
			}
			p.back[l.Code] = res.Unit
			p.state[l.Code] = Stage3Done
		}
	}

	for _, l := range refined {
		if p.state[l.Code] != Stage3Done {
			continue
		}
		o.judge(ctx, u, l, &p, summary)
	}
}

// remaining returns the languages still to process for u. The source
// language is copied through and already finished pairs are counted as
// skipped.
func (o *Orchestrator) remaining(ctx context.Context, u *unit.Unit, summary *Summary) []language.Target {
	var out []language.Target
	for _, l := range o.langs {
		done, err := o.tracker.IsFullyDone(u.ID, l.Code)
		if err != nil {
			o.logger.Error("completion lookup failed", "unit", u.ID, "lang", l.Code, "error", err)
			summary.Record(l.Code, PermanentlyFailed)
			continue
		}
		if done {
			summary.Record(l.Code, Skipped)
			continue
		}

		if l.IsSource() {
			summary.Record(l.Code, o.passThrough(u, l))
			continue
		}

		if o.opts.SkipFailed && o.opts.Failures != nil {
			failed, err := o.opts.Failures.HasFailure(ctx, u.ID, l.Code)
			if err != nil {
				o.logger.Warn("failure lookup failed", "unit", u.ID, "lang", l.Code, "error", err)
			}
			if failed {
				o.logger.Info("skipping previously failed pair", "unit", u.ID, "lang", l.Code)
				summary.Record(l.Code, Skipped)
				continue
			}
		}
		out = append(out, l)
	}
	return out
}

// passThrough writes the source unit unchanged as its own final output.
func (o *Orchestrator) passThrough(u *unit.Unit, l language.Target) PairState {
	if err := o.out.WriteFinal(u.ID, l.Code, u); err != nil {
		o.logger.Error("final output write failed", "unit", u.ID, "lang", l.Code, "error", err)
		return PermanentlyFailed
	}
	if err := o.tracker.MarkCompleted(u.ID, l.Code); err != nil {
		o.logger.Warn("completion update failed", "unit", u.ID, "lang", l.Code, "error", err)
	}
	return Accepted
}

func (o *Orchestrator) judge(ctx context.Context, u *unit.Unit, l language.Target, p *pairs, summary *Summary) {
	v := o.gate.Evaluate(u.ID, l.Code, u, p.back[l.Code])

	if err := o.out.WriteVerdict(v); err != nil {
		o.logger.Error("quality metadata write failed", "unit", u.ID, "lang", l.Code, "error", err)
		p.state[l.Code] = PermanentlyFailed
		summary.Record(l.Code, PermanentlyFailed)
		return
	}
	if o.opts.Ledger != nil {
		if err := o.opts.Ledger.SaveVerdict(ctx, o.opts.RunID, v); err != nil {
			o.logger.Warn("verdict ledger write failed", "unit", u.ID, "lang", l.Code, "error", err)
		}
	}

	if !v.Kept() {
		o.logger.Info("translation dropped",
			"unit", u.ID, "lang", l.Code, "score", v.Score, "threshold", v.Threshold)
		p.state[l.Code] = Dropped
		summary.Record(l.Code, Dropped)
		return
	}

	if err := o.out.WriteFinal(u.ID, l.Code, p.refined[l.Code]); err != nil {
		o.logger.Error("final output write failed", "unit", u.ID, "lang", l.Code, "error", err)
		p.state[l.Code] = PermanentlyFailed
		summary.Record(l.Code, PermanentlyFailed)
		return
	}
	if err := o.tracker.MarkCompleted(u.ID, l.Code); err != nil {
		o.logger.Warn("completion update failed", "unit", u.ID, "lang", l.Code, "error", err)
	}
	o.logger.Info("translation kept", "unit", u.ID, "lang", l.Code, "score", v.Score)
	p.state[l.Code] = Accepted
	summary.Record(l.Code, Accepted)
}

// fail marks the pair permanently failed for this run. Cancellation of the
// run is not a failure: the pair is left to the next run. A backend timeout
// with the run still live is.
func (o *Orchestrator) fail(ctx context.Context, u *unit.Unit, l language.Target, stage checkpoint.Stage, err error, p *pairs, summary *Summary) {
	if ctx.Err() != nil {
		delete(p.state, l.Code)
		return
	}
	if err == nil {
		err = errors.New("no output")
	}

	o.logger.Error("pair permanently failed",
		"unit", u.ID, "lang", l.Code, "stage", stage.String(), "error", err)
	p.state[l.Code] = PermanentlyFailed
	summary.Record(l.Code, PermanentlyFailed)

	if o.opts.Failures != nil && !errors.Is(err, checkpoint.ErrStorage) {
		key := checkpoint.Key{UnitID: u.ID, Lang: l.Code, Stage: stage}
		if rerr := o.opts.Failures.RecordFailure(ctx, key, err.Error()); rerr != nil {
			o.logger.Warn("failure record write failed", "unit", u.ID, "lang", l.Code, "error", rerr)
		}
	}
}
