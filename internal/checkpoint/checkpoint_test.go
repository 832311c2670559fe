package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/tabletran/internal/unit"
)

func TestStage_Names(t *testing.T) {
	assert.Equal(t, "step1_initial_translation", Initial.Name())
	assert.Equal(t, "step2_refined_translation", Refined.Name())
	assert.Equal(t, "step3_back_translation", BackTranslated.Name())

	s, err := ParseStage("step2_refined_translation")
	require.NoError(t, err)
	assert.Equal(t, Refined, s)

	s, err = ParseStage("back-translated")
	require.NoError(t, err)
	assert.Equal(t, BackTranslated, s)

	_, err = ParseStage("step4")
	assert.Error(t, err)
}

func TestFileStore_PutGetIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key := Key{UnitID: "T1", Lang: "es", Stage: Initial}
	u := unit.NewTable("T1", []string{"País", "Año"}, [][]string{{"España", "2020"}, {"Francia", "2021"}})

	ok, err := s.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Put(ctx, key, u))
	require.NoError(t, s.Put(ctx, key, u))

	ok, err = s.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, u.Columns, got.Columns)
	assert.Equal(t, u.Rows, got.Rows)
	assert.Equal(t, unit.KindTable, got.Kind)

	// Other stages and languages are independent keys.
	ok, err = s.Has(ctx, Key{UnitID: "T1", Lang: "fr", Stage: Initial})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_Layout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	key := Key{UnitID: "table_7", Lang: "ja_formal", Stage: BackTranslated}
	require.NoError(t, s.Put(ctx, key, unit.NewTable("table_7", []string{"a"}, nil)))

	_, err = os.Stat(filepath.Join(root, "table_7", "step3_back_translation_ja_formal.json"))
	assert.NoError(t, err)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Join(root, "table_7"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_ReadsLegacyPayload(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	dir := filepath.Join(root, "T9")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "step1_initial_translation_fr.json"),
		[]byte(`{"question":"Quel pays?","answer":[["France"]]}`), 0o644))

	got, err := s.Get(ctx, Key{UnitID: "T9", Lang: "fr", Stage: Initial})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, unit.KindQA, got.Kind)
	assert.Equal(t, "T9", got.ID)
	assert.Equal(t, "Quel pays?", got.Question)
}

func TestFileStore_CorruptFileIsStorageError(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	dir := filepath.Join(root, "T2")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "step1_initial_translation_es.json"), []byte("{"), 0o644))

	_, err = s.Get(ctx, Key{UnitID: "T2", Lang: "es", Stage: Initial})
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestFileStore_Failures(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	has, err := s.HasFailure(ctx, "T1", "es")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.RecordFailure(ctx, Key{UnitID: "T1", Lang: "es", Stage: Refined}, "quota"))
	require.NoError(t, s.RecordFailure(ctx, Key{UnitID: "T1", Lang: "es", Stage: Refined}, "quota again"))

	has, err = s.HasFailure(ctx, "T1", "es")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasFailure(ctx, "T1", "fr")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFileStore_CorruptFailureHistoryIsKept(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key := Key{UnitID: "T1", Lang: "es", Stage: Initial}
	require.NoError(t, s.RecordFailure(ctx, key, "quota"))
	path := s.failurePath("T1", "es")
	require.NoError(t, os.WriteFile(path, []byte("[{broken"), 0o644))

	err = s.RecordFailure(ctx, key, "quota again")
	assert.ErrorIs(t, err, ErrStorage)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[{broken", string(data))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a_b", safeName("a/b"))
	assert.Equal(t, "_", safeName(".."))
	assert.Equal(t, "_", safeName(""))
}
