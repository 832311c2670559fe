// Package detector identifies the language of translated cell text.
package detector

import (
	"strings"

	lingua "github.com/pemistahl/lingua-go"
)

// Detector wraps a lingua detector. Building one loads language models, so
// callers should share a single instance.
type Detector struct {
	detector lingua.LanguageDetector
	byISO    map[string]lingua.Language
}

// newAll builds a detector over every language lingua knows.
func newAll() *Detector {
	d := &Detector{byISO: isoIndex(lingua.AllLanguages())}
	d.detector = lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()
	return d
}

// NewFor builds a detector restricted to the given ISO 639-1 codes plus
// English. Codes lingua does not know are ignored; when fewer than two
// languages remain the detector falls back to every language.
func NewFor(codes []string) *Detector {
	all := isoIndex(lingua.AllLanguages())

	picked := map[lingua.Language]bool{lingua.English: true}
	for _, c := range codes {
		if l, ok := all[strings.ToLower(c)]; ok {
			picked[l] = true
		}
	}
	if len(picked) < 2 {
		return newAll()
	}

	langs := make([]lingua.Language, 0, len(picked))
	for l := range picked {
		langs = append(langs, l)
	}
	return &Detector{
		byISO: isoIndex(langs),
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(langs...).
			Build(),
	}
}

func isoIndex(langs []lingua.Language) map[string]lingua.Language {
	idx := make(map[string]lingua.Language, len(langs))
	for _, l := range langs {
		idx[strings.ToLower(l.IsoCode639_1().String())] = l
	}
	return idx
}

// Supports reports whether iso (ISO 639-1, any case) can be detected.
func (d *Detector) Supports(iso string) bool {
	_, ok := d.byISO[strings.ToLower(iso)]
	return ok
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the upper-case ISO 639-1 code of text.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}
