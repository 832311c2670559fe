package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/language"
	"github.com/valpere/tabletran/internal/output"
	"github.com/valpere/tabletran/internal/quality"
	"github.com/valpere/tabletran/internal/tracker"
	"github.com/valpere/tabletran/internal/translator"
	"github.com/valpere/tabletran/internal/unit"
)

var (
	spanish = language.Target{Code: "es", Name: "Spanish"}
	french  = language.Target{Code: "fr", Name: "French"}
)

// fakeBackend answers every stage from fn and counts calls per stage.
type fakeBackend struct {
	name string
	fn   func(req translator.Request) (*unit.Unit, error)

	mu    sync.Mutex
	calls map[checkpoint.Stage]int
}

func newFakeBackend(name string, fn func(req translator.Request) (*unit.Unit, error)) *fakeBackend {
	return &fakeBackend{name: name, fn: fn, calls: make(map[checkpoint.Stage]int)}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Translate(ctx context.Context, req translator.Request) (*unit.Unit, error) {
	f.mu.Lock()
	f.calls[req.Stage]++
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeBackend) TranslateBatch(ctx context.Context, reqs []translator.Request, onResult func(int, *unit.Unit, error)) {
	for i, req := range reqs {
		out, err := f.Translate(ctx, req)
		onResult(i, out, err)
	}
}

func (f *fakeBackend) count(stage checkpoint.Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func mapCells(u *unit.Unit, fn func(string) string) *unit.Unit {
	out := u.Clone()
	for _, c := range out.Cells() {
		if !unit.IsNumeric(*c) {
			*c = fn(*c)
		}
	}
	return out
}

// roundTrip translates by tagging cells with the target code, refines by
// appending a marker and back-translates to the original exactly.
func roundTrip(req translator.Request) (*unit.Unit, error) {
	switch req.Stage {
	case checkpoint.Initial:
		return mapCells(req.Unit, func(s string) string { return req.Target.Code + ":" + s }), nil
	case checkpoint.Refined:
		return mapCells(req.Unit, func(s string) string { return s + "*" }), nil
	default:
		return req.Original.Clone(), nil
	}
}

func garbledBack(req translator.Request) (*unit.Unit, error) {
	if req.Stage != checkpoint.BackTranslated {
		return roundTrip(req)
	}
	out := req.Unit.Clone()
	for i, c := range out.Cells() {
		*c = fmt.Sprintf("%d", 9000+i)
	}
	return out, nil
}

func testTable() *unit.Unit {
	return unit.NewTable("T1", []string{"Country", "Capital"}, [][]string{
		{"Spain", "Madrid"},
		{"France", "Paris"},
		{"Italy", "Rome"},
	})
}

type harness struct {
	store    *checkpoint.FileStore
	out      *output.Writer
	primary  *fakeBackend
	fallback *fakeBackend
	langs    []language.Target
	opts     Options
	dir      string
}

func newHarness(t *testing.T, fn func(translator.Request) (*unit.Unit, error), langs ...language.Target) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(filepath.Join(dir, "checkpoints"))
	require.NoError(t, err)
	out, err := output.NewWriter(filepath.Join(dir, "final"), filepath.Join(dir, "meta"))
	require.NoError(t, err)
	return &harness{
		store:   store,
		out:     out,
		primary: newFakeBackend("primary", fn),
		langs:   langs,
		opts:    Options{Threshold: 0.4, Failures: store},
		dir:     dir,
	}
}

// readFinal loads the final output of a pair, or nil when none was written.
func (h *harness) readFinal(t *testing.T, like *unit.Unit, lang string) (*unit.Unit, error) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dir, "final", like.ID, lang+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return unit.Parse(like, data)
}

func (h *harness) run(t *testing.T, ctx context.Context, units ...*unit.Unit) (*Summary, error) {
	t.Helper()
	sb := StageBackends{Primary: h.primary}
	if h.fallback != nil {
		sb.Fallback = h.fallback
	}
	runner, err := NewRunner(h.store, map[checkpoint.Stage]StageBackends{
		checkpoint.Initial:        sb,
		checkpoint.Refined:        sb,
		checkpoint.BackTranslated: sb,
	}, RunnerOptions{PinNumeric: true})
	require.NoError(t, err)

	o, err := New(runner, h.langs, tracker.New(h.out), h.out, h.opts)
	require.NoError(t, err)
	return o.Run(ctx, units)
}

func TestOrchestrator_FullSuccess(t *testing.T) {
	h := newHarness(t, roundTrip, spanish)
	ctx := context.Background()

	summary, err := h.run(t, ctx, testTable())
	require.NoError(t, err)
	assert.Equal(t, LangCounts{Lang: "es", Kept: 1}, summary.Lang("es"))
	assert.Equal(t, 1, summary.Units())

	refined, err := h.store.Get(ctx, checkpoint.Key{UnitID: "T1", Lang: "es", Stage: checkpoint.Refined})
	require.NoError(t, err)
	require.NotNil(t, refined)
	assert.Equal(t, "es:Country*", refined.Columns[0])

	final, err := h.readFinal(t, testTable(), "es")
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, refined.Columns, final.Columns)
	assert.Equal(t, refined.Rows, final.Rows)

	v, ok, err := h.out.ReadVerdict("T1", "es")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, quality.Keep, v.Decision)
	assert.InDelta(t, 1.0, v.Score, 1e-9)
	assert.Equal(t, 0.4, v.Threshold)

	for _, st := range checkpoint.Stages {
		assert.Equal(t, 1, h.primary.count(st), st.String())
	}
}

func TestOrchestrator_GateRejection(t *testing.T) {
	h := newHarness(t, garbledBack, spanish)

	summary, err := h.run(t, context.Background(), testTable())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lang("es").Dropped)

	assert.False(t, h.out.Exists("T1", "es"))
	v, ok, err := h.out.ReadVerdict("T1", "es")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, quality.Drop, v.Decision)
	assert.InDelta(t, 0.0, v.Score, 1e-9)
}

func TestOrchestrator_ResumeAfterCrash(t *testing.T) {
	h := newHarness(t, roundTrip, spanish)
	ctx := context.Background()
	src := testTable()

	// Stage 1 and 2 finished before the crash.
	initial := mapCells(src, func(s string) string { return "es:" + s })
	refined := mapCells(initial, func(s string) string { return s + "*" })
	require.NoError(t, h.store.Put(ctx, checkpoint.Key{UnitID: "T1", Lang: "es", Stage: checkpoint.Initial}, initial))
	require.NoError(t, h.store.Put(ctx, checkpoint.Key{UnitID: "T1", Lang: "es", Stage: checkpoint.Refined}, refined))

	summary, err := h.run(t, ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lang("es").Kept)

	assert.Zero(t, h.primary.count(checkpoint.Initial))
	assert.Zero(t, h.primary.count(checkpoint.Refined))
	assert.Equal(t, 1, h.primary.count(checkpoint.BackTranslated))

	final, err := h.readFinal(t, src, "es")
	require.NoError(t, err)
	assert.Equal(t, refined.Rows, final.Rows)
}

func TestOrchestrator_FullyDoneMakesNoCalls(t *testing.T) {
	h := newHarness(t, roundTrip, spanish, french)
	ctx := context.Background()

	_, err := h.run(t, ctx, testTable())
	require.NoError(t, err)
	first := h.primary.total()
	assert.Equal(t, 6, first)

	summary, err := h.run(t, ctx, testTable())
	require.NoError(t, err)
	assert.Equal(t, first, h.primary.total())
	assert.Equal(t, LangCounts{Lang: "es", Skipped: 1}, summary.Lang("es"))
	assert.Equal(t, LangCounts{Lang: "fr", Skipped: 1}, summary.Lang("fr"))
}

func TestOrchestrator_FallbackBackend(t *testing.T) {
	h := newHarness(t, func(req translator.Request) (*unit.Unit, error) {
		if req.Stage == checkpoint.Initial {
			return nil, fmt.Errorf("%w: shape mismatch", translator.ErrValidation)
		}
		return roundTrip(req)
	}, spanish)
	h.fallback = newFakeBackend("fallback", roundTrip)

	summary, err := h.run(t, context.Background(), testTable())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lang("es").Kept)
	assert.Equal(t, 1, h.fallback.count(checkpoint.Initial))
	assert.Zero(t, h.fallback.count(checkpoint.Refined))
}

func TestOrchestrator_PermanentFailure(t *testing.T) {
	h := newHarness(t, func(req translator.Request) (*unit.Unit, error) {
		if req.Stage == checkpoint.Refined && req.Target.Code == "fr" {
			return nil, errors.New("all credentials exhausted")
		}
		return roundTrip(req)
	}, spanish, french)
	ctx := context.Background()

	summary, err := h.run(t, ctx, testTable())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lang("es").Kept)
	assert.Equal(t, 1, summary.Lang("fr").Failed)

	// The failed pair never reaches back-translation.
	assert.Equal(t, 1, h.primary.count(checkpoint.BackTranslated))

	failed, err := h.store.HasFailure(ctx, "T1", "fr")
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestOrchestrator_BackendTimeoutIsFailure(t *testing.T) {
	h := newHarness(t, roundTrip, spanish)
	ctx := context.Background()

	sb := StageBackends{Primary: hangingBackend(t)}
	runner, err := NewRunner(h.store, allStages(sb), RunnerOptions{})
	require.NoError(t, err)
	o, err := New(runner, h.langs, tracker.New(h.out), h.out, h.opts)
	require.NoError(t, err)

	summary, err := o.Run(ctx, []*unit.Unit{testTable()})
	require.NoError(t, err)
	assert.Equal(t, LangCounts{Lang: "es", Failed: 1}, summary.Lang("es"))

	failed, err := h.store.HasFailure(ctx, "T1", "es")
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestOrchestrator_SkipFailed(t *testing.T) {
	h := newHarness(t, roundTrip, spanish)
	ctx := context.Background()
	require.NoError(t, h.store.RecordFailure(ctx, checkpoint.Key{UnitID: "T1", Lang: "es", Stage: checkpoint.Initial}, "quota"))

	h.opts.SkipFailed = true
	summary, err := h.run(t, ctx, testTable())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lang("es").Skipped)
	assert.Zero(t, h.primary.total())

	// Retried by default.
	h.opts.SkipFailed = false
	summary, err = h.run(t, ctx, testTable())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lang("es").Kept)
}

func TestOrchestrator_SourceLanguagePassThrough(t *testing.T) {
	h := newHarness(t, roundTrip, language.Source, spanish)

	summary, err := h.run(t, context.Background(), testTable())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lang("en").Kept)

	final, err := h.readFinal(t, testTable(), "en")
	require.NoError(t, err)
	assert.Equal(t, testTable().Rows, final.Rows)

	// Only es went through the stages.
	assert.Equal(t, 1, h.primary.count(checkpoint.Initial))
	_, ok, err := h.out.ReadVerdict("T1", "en")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrchestrator_CanceledStopsBeforeNextUnit(t *testing.T) {
	h := newHarness(t, roundTrip, spanish)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.run(t, ctx, testTable())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Units())
	assert.Zero(t, h.primary.total())
}

func TestOrchestrator_QAUnits(t *testing.T) {
	h := newHarness(t, roundTrip, spanish)
	qa := unit.NewQA("T1_qa001", "Which country has Madrid as capital?", [][]string{{"Spain"}}, "lookup", testTable())

	summary, err := h.run(t, context.Background(), qa)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lang("es").Kept)

	final, err := h.readFinal(t, qa, "es")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(final.Question, "es:"))
	assert.Equal(t, "lookup", final.QuestionType)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, nil, nil, Options{})
	assert.Error(t, err)

	_, err = New(nil, []language.Target{spanish}, nil, nil, Options{Threshold: -1})
	assert.Error(t, err)
}
