package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/quality"
	"github.com/valpere/tabletran/internal/unit"
)

func newWriter(t *testing.T) (*Writer, string, string) {
	t.Helper()
	root := t.TempDir()
	final, meta := filepath.Join(root, "final"), filepath.Join(root, "meta")
	w, err := NewWriter(final, meta)
	require.NoError(t, err)
	return w, final, meta
}

func TestWriteFinal_LayoutAndShape(t *testing.T) {
	w, final, _ := newWriter(t)
	u := unit.NewTable("T1", []string{"País"}, [][]string{{"España"}, {"Francia"}})

	require.NoError(t, w.WriteFinal("T1", "es", u))

	data, err := os.ReadFile(filepath.Join(final, "T1", "es.json"))
	require.NoError(t, err)
	var doc struct {
		Columns []string   `json:"columns"`
		Data    [][]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, u.Columns, doc.Columns)
	assert.Equal(t, u.Rows, doc.Data)

	assert.True(t, w.Exists("T1", "es"))
	assert.False(t, w.Exists("T1", "fr"))

	back, err := unit.Parse(u, data)
	require.NoError(t, err)
	assert.True(t, unit.SameShape(u, back))
}

func TestWriteVerdict_Schema(t *testing.T) {
	w, _, meta := newWriter(t)
	v := quality.Verdict{UnitID: "T1", Lang: "es", Score: 0.25, Threshold: 0.4, Decision: quality.Drop}

	require.NoError(t, w.WriteVerdict(v))

	data, err := os.ReadFile(filepath.Join(meta, "T1", "es.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "T1", doc["table_id"])
	assert.Equal(t, "es", doc["lang_code"])
	assert.Equal(t, 0.25, doc["bleu_score"])
	assert.Equal(t, 0.4, doc["threshold"])
	assert.Equal(t, "DROP", doc["decision"])

	got, ok, err := w.ReadVerdict("T1", "es")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, v, got)

	_, ok, err = w.ReadVerdict("T1", "fr")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleted(t *testing.T) {
	w, _, _ := newWriter(t)
	u := unit.NewTable("x", []string{"a"}, nil)

	require.NoError(t, w.WriteFinal("T1", "es", u))
	require.NoError(t, w.WriteFinal("T2", "es", u))
	require.NoError(t, w.WriteFinal("T2", "fr", u))

	es, err := w.Completed("es")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"T1": true, "T2": true}, es)

	fr, err := w.Completed("fr")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"T2": true}, fr)

	ja, err := w.Completed("ja_formal")
	require.NoError(t, err)
	assert.Empty(t, ja)
}

func TestVerdicts(t *testing.T) {
	w, _, meta := newWriter(t)

	empty, err := w.Verdicts("es")
	require.NoError(t, err)
	assert.Empty(t, empty)

	keep := quality.Verdict{UnitID: "T2", Lang: "es", Score: 0.9, Threshold: 0.4, Decision: quality.Keep}
	drop := quality.Verdict{UnitID: "T1", Lang: "es", Score: 0.1, Threshold: 0.4, Decision: quality.Drop}
	other := quality.Verdict{UnitID: "T1", Lang: "fr", Score: 0.5, Threshold: 0.4, Decision: quality.Keep}
	for _, v := range []quality.Verdict{keep, drop, other} {
		require.NoError(t, w.WriteVerdict(v))
	}

	es, err := w.Verdicts("es")
	require.NoError(t, err)
	assert.Equal(t, []quality.Verdict{drop, keep}, es)

	require.NoError(t, os.WriteFile(filepath.Join(meta, "T1", "es.json"), []byte("{broken"), 0o644))
	_, err = w.Verdicts("es")
	assert.ErrorIs(t, err, checkpoint.ErrStorage)
}
