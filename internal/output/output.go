// Package output writes the records downstream collaborators consume: the
// final translated unit of every kept pair and the quality metadata of every
// gated pair.
package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/quality"
	"github.com/valpere/tabletran/internal/unit"
)

// Writer lays files out as <root>/<unit_id>/<lang>.json.
type Writer struct {
	finalRoot string
	metaRoot  string
}

func NewWriter(finalRoot, metaRoot string) (*Writer, error) {
	for _, dir := range []string{finalRoot, metaRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", checkpoint.ErrStorage, dir, err)
		}
	}
	return &Writer{finalRoot: finalRoot, metaRoot: metaRoot}, nil
}

func (w *Writer) finalPath(unitID, lang string) string {
	return filepath.Join(w.finalRoot, unitID, lang+".json")
}

func (w *Writer) metaPath(unitID, lang string) string {
	return filepath.Join(w.metaRoot, unitID, lang+".json")
}

// WriteFinal stores the accepted unit in the same payload shape as the input.
func (w *Writer) WriteFinal(unitID, lang string, u *unit.Unit) error {
	data, err := u.Payload()
	if err != nil {
		return fmt.Errorf("%w: encode final %s/%s: %v", checkpoint.ErrStorage, unitID, lang, err)
	}
	if err := writeIndented(w.finalPath(unitID, lang), data); err != nil {
		return fmt.Errorf("%w: write final %s/%s: %v", checkpoint.ErrStorage, unitID, lang, err)
	}
	return nil
}

// WriteVerdict stores the quality metadata record.
func (w *Writer) WriteVerdict(v quality.Verdict) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode verdict %s/%s: %v", checkpoint.ErrStorage, v.UnitID, v.Lang, err)
	}
	if err := checkpoint.WriteFileAtomic(w.metaPath(v.UnitID, v.Lang), data); err != nil {
		return fmt.Errorf("%w: write verdict %s/%s: %v", checkpoint.ErrStorage, v.UnitID, v.Lang, err)
	}
	return nil
}

// ReadVerdict loads a stored verdict; ok is false when none exists.
func (w *Writer) ReadVerdict(unitID, lang string) (quality.Verdict, bool, error) {
	var v quality.Verdict
	data, err := os.ReadFile(w.metaPath(unitID, lang))
	if errors.Is(err, fs.ErrNotExist) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("%w: read verdict %s/%s: %v", checkpoint.ErrStorage, unitID, lang, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("%w: decode verdict %s/%s: %v", checkpoint.ErrStorage, unitID, lang, err)
	}
	return v, true, nil
}

// Verdicts returns every stored verdict of lang, ordered by unit id.
func (w *Writer) Verdicts(lang string) ([]quality.Verdict, error) {
	entries, err := os.ReadDir(w.metaRoot)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", checkpoint.ErrStorage, w.metaRoot, err)
	}
	var out []quality.Verdict
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		v, ok, err := w.ReadVerdict(e.Name(), lang)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Exists reports whether a final output exists for the pair.
func (w *Writer) Exists(unitID, lang string) bool {
	_, err := os.Stat(w.finalPath(unitID, lang))
	return err == nil
}

// Completed returns the ids of every unit with a final output in lang.
func (w *Writer) Completed(lang string) (map[string]bool, error) {
	done := make(map[string]bool)
	entries, err := os.ReadDir(w.finalRoot)
	if errors.Is(err, fs.ErrNotExist) {
		return done, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", checkpoint.ErrStorage, w.finalRoot, err)
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if w.Exists(e.Name(), lang) {
			done[e.Name()] = true
		}
	}
	return done, nil
}

func writeIndented(path string, compact []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return err
	}
	return checkpoint.WriteFileAtomic(path, buf.Bytes())
}
