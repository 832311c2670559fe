// Package validator checks that a translated unit is in the expected target language.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/valpere/tabletran/internal/detector"
	"github.com/valpere/tabletran/internal/language"
	"github.com/valpere/tabletran/internal/unit"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter texts produce unreliable results and are accepted without validation.
const minValidationLength = 20

// ErrWrongLanguage is wrapped by every mismatch reported by Unit.
var ErrWrongLanguage = errors.New("translation is in the wrong language")

// Validator checks that a translated unit is written in its target language.
// The underlying detector is expensive to build; share one per run.
type Validator struct {
	det *detector.Detector
}

// NewFor creates a Validator whose detector only considers the registry's
// languages.
func NewFor(reg *language.Registry) *Validator {
	var codes []string
	for _, t := range reg.All() {
		if iso := isoOf(t); iso != "" {
			codes = append(codes, iso)
		}
	}
	return &Validator{det: detector.NewFor(codes)}
}

// check reports a mismatch between the detected language of text and iso.
// Short text and text whose language cannot be determined pass.
func (v *Validator) check(text, iso string) error {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minValidationLength {
		return nil
	}
	detected, ok := v.det.DetectISO(text)
	if !ok {
		return nil
	}
	if !strings.EqualFold(detected, iso) {
		return fmt.Errorf("%w: expected %s but detected %s", ErrWrongLanguage, iso, detected)
	}
	return nil
}

// Unit checks the translatable text of u against target. Numeric-only units,
// short text and languages the detector does not know pass.
func (v *Validator) Unit(u *unit.Unit, target language.Target) error {
	iso := isoOf(target)
	if iso == "" || !v.det.Supports(iso) {
		return nil
	}
	if err := v.check(u.Text(), iso); err != nil {
		return fmt.Errorf("unit %s: %w", u.ID, err)
	}
	return nil
}

func isoOf(t language.Target) string {
	tag, err := t.Tag()
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}
