package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/language"
	"github.com/valpere/tabletran/internal/translator"
	"github.com/valpere/tabletran/internal/unit"
)

// StageBackends is the primary backend of a stage and its optional fallback.
type StageBackends struct {
	Primary  translator.Backend
	Fallback translator.Backend
}

// Task is one (unit, language) pair entering a stage.
type Task struct {
	// Original is the source-language unit.
	Original *unit.Unit
	// Input is the stage input. It is ignored for Initial, which always
	// starts from Original.
	Input *unit.Unit
	Lang  language.Target
}

func (t Task) key(stage checkpoint.Stage) checkpoint.Key {
	return checkpoint.Key{UnitID: t.Original.ID, Lang: t.Lang.Code, Stage: stage}
}

// Outcome is the result of one task. Exactly one of Unit and Err is set.
type Outcome struct {
	Unit *unit.Unit
	Err  error
	// Cached is true when the output came from an existing checkpoint.
	Cached bool
	// Backend names the backend that produced the output.
	Backend string
}

func (o Outcome) OK() bool { return o.Err == nil && o.Unit != nil }

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// PinNumeric copies numeric cells of the input into Initial and Refined
	// outputs.
	PinNumeric bool
	Logger     *slog.Logger
}

// Runner executes one stage over a set of tasks: checkpoints first, then the
// primary backend, then the fallback for whatever the primary failed.
type Runner struct {
	store      checkpoint.Store
	stages     map[checkpoint.Stage]StageBackends
	pinNumeric bool
	logger     *slog.Logger
}

func NewRunner(store checkpoint.Store, stages map[checkpoint.Stage]StageBackends, opts RunnerOptions) (*Runner, error) {
	for _, st := range checkpoint.Stages {
		if b, ok := stages[st]; !ok || b.Primary == nil {
			return nil, fmt.Errorf("stage %s: no primary backend", st)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		store:      store,
		stages:     stages,
		pinNumeric: opts.PinNumeric,
		logger:     logger,
	}, nil
}

// request builds the backend request for a task. Back-translation reverses
// the direction: the pair's language is the source and English the target.
func request(stage checkpoint.Stage, t Task, hasFallback bool) translator.Request {
	req := translator.Request{
		Stage:       stage,
		Unit:        t.Input,
		Original:    t.Original,
		Source:      language.Source,
		Target:      t.Lang,
		HasFallback: hasFallback,
	}
	switch stage {
	case checkpoint.Initial:
		req.Unit = t.Original
	case checkpoint.BackTranslated:
		req.Source, req.Target = t.Lang, language.Source
	}
	return req
}

// Run executes stage for every task and returns one outcome per task, in
// task order. Each success is checkpointed before it is reported; a failed
// checkpoint write turns the success into a storage failure.
func (r *Runner) Run(ctx context.Context, stage checkpoint.Stage, tasks []Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))

	var pending []int
	cached := 0
	for i, t := range tasks {
		u, err := r.store.Get(ctx, t.key(stage))
		switch {
		case err != nil:
			outcomes[i] = Outcome{Err: err}
		case u != nil:
			u.Context = t.Original.Context
			outcomes[i] = Outcome{Unit: u, Cached: true}
			cached++
		default:
			pending = append(pending, i)
		}
	}

	backends := r.stages[stage]
	failed := r.dispatch(ctx, stage, backends.Primary, backends.Fallback != nil, tasks, pending, outcomes)

	if len(failed) > 0 && backends.Fallback != nil && ctx.Err() == nil {
		r.logger.Info("retrying on fallback backend",
			"stage", stage.String(), "fallback", backends.Fallback.Name(), "units", len(failed))
		r.dispatch(ctx, stage, backends.Fallback, false, tasks, failed, outcomes)
	}

	succeeded, errs := 0, 0
	for _, o := range outcomes {
		if o.OK() {
			succeeded++
		} else {
			errs++
		}
	}
	r.logger.Info("stage finished",
		"stage", stage.String(), "tasks", len(tasks), "succeeded", succeeded,
		"cached", cached, "failed", errs)

	return outcomes
}

// dispatch sends the indexed tasks to b and fills their outcomes. It returns
// the indexes that failed on the backend, which are the fallback candidates.
// Storage failures are not retried elsewhere.
func (r *Runner) dispatch(ctx context.Context, stage checkpoint.Stage, b translator.Backend, hasFallback bool, tasks []Task, idx []int, outcomes []Outcome) []int {
	if len(idx) == 0 {
		return nil
	}

	reqs := make([]translator.Request, len(idx))
	for j, i := range idx {
		reqs[j] = request(stage, tasks[i], hasFallback)
	}

	var (
		mu     sync.Mutex
		failed []int
	)
	b.TranslateBatch(ctx, reqs, func(j int, out *unit.Unit, err error) {
		i := idx[j]
		t := tasks[i]

		if err == nil {
			err = r.commit(ctx, stage, t, reqs[j].Unit, out)
			if err == nil {
				outcomes[i] = Outcome{Unit: out, Backend: b.Name()}
				return
			}
			outcomes[i] = Outcome{Err: err, Backend: b.Name()}
			return
		}

		outcomes[i] = Outcome{Err: err, Backend: b.Name()}
		// A per-attempt timeout also unwraps to DeadlineExceeded, so only the
		// run's own context decides cancellation.
		if ctx.Err() == nil {
			r.logger.Warn("stage call failed",
				"stage", stage.String(), "unit", t.Original.ID, "lang", t.Lang.Code,
				"backend", b.Name(), "error", err)
			mu.Lock()
			failed = append(failed, i)
			mu.Unlock()
		}
	})
	return failed
}

func (r *Runner) commit(ctx context.Context, stage checkpoint.Stage, t Task, in, out *unit.Unit) error {
	if r.pinNumeric && stage != checkpoint.BackTranslated {
		unit.PinNumeric(in, out)
	}
	if err := r.store.Put(ctx, t.key(stage), out); err != nil {
		r.logger.Error("checkpoint write failed",
			"stage", stage.String(), "unit", t.Original.ID, "lang", t.Lang.Code, "error", err)
		return err
	}
	return nil
}
