// Package checkpoint records the output of every pipeline stage per
// (unit, language) so interrupted runs resume instead of re-calling backends.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/valpere/tabletran/internal/unit"
)

// ErrStorage wraps every failure to read or write durable state.
var ErrStorage = errors.New("checkpoint storage error")

// Stage is one step of the translation pipeline.
type Stage int

const (
	Initial Stage = iota + 1
	Refined
	BackTranslated
)

// Stages lists the pipeline steps in execution order.
var Stages = []Stage{Initial, Refined, BackTranslated}

var stageNames = map[Stage]string{
	Initial:        "step1_initial_translation",
	Refined:        "step2_refined_translation",
	BackTranslated: "step3_back_translation",
}

// Name is the stable on-disk name of the stage. Changing it breaks resume.
func (s Stage) Name() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage%d", int(s))
}

func (s Stage) String() string {
	switch s {
	case Initial:
		return "initial"
	case Refined:
		return "refined"
	case BackTranslated:
		return "back-translated"
	}
	return s.Name()
}

// ParseStage accepts either the short or the on-disk name.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages {
		if name == s.Name() || name == s.String() {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// Key addresses one checkpoint.
type Key struct {
	UnitID string
	Lang   string
	Stage  Stage
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.UnitID, k.Lang, k.Stage.Name())
}

// Store is durable per-key storage of stage outputs. Put must be atomic: a
// reader sees either the previous value or the new one, never a partial
// write. Get returns nil, nil when the key is absent.
type Store interface {
	Has(ctx context.Context, key Key) (bool, error)
	Get(ctx context.Context, key Key) (*unit.Unit, error)
	Put(ctx context.Context, key Key, u *unit.Unit) error
}

// FailureLog remembers pairs that failed permanently so a run may skip them.
type FailureLog interface {
	RecordFailure(ctx context.Context, key Key, reason string) error
	HasFailure(ctx context.Context, unitID, lang string) (bool, error)
}

func storageErr(op string, key Key, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrStorage, op, key, err)
}
