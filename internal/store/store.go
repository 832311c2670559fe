package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/quality"
	"github.com/valpere/tabletran/internal/unit"
)

// Store is the SQLite checkpoint store. Besides stage outputs it keeps the
// quality verdicts, permanent failures and run history of the pipeline.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers from concurrent stage workers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	-- stage_checkpoints holds the output of every pipeline stage per pair
	CREATE TABLE IF NOT EXISTS stage_checkpoints (
		unit_id TEXT NOT NULL,
		lang TEXT NOT NULL,
		stage TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (unit_id, lang, stage)
	);

	-- quality_verdicts records the gate decision of every gated pair
	CREATE TABLE IF NOT EXISTS quality_verdicts (
		unit_id TEXT NOT NULL,
		lang TEXT NOT NULL,
		score REAL NOT NULL,
		threshold REAL NOT NULL,
		decision TEXT NOT NULL,
		run_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (unit_id, lang)
	);

	-- pair_failures lists pairs that exhausted every backend at some stage
	CREATE TABLE IF NOT EXISTS pair_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_id TEXT NOT NULL,
		lang TEXT NOT NULL,
		stage TEXT NOT NULL,
		reason TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT DEFAULT 'running',
		units INTEGER DEFAULT 0,
		kept INTEGER DEFAULT 0,
		dropped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_failures_pair ON pair_failures(unit_id, lang);
	CREATE INDEX IF NOT EXISTS idx_verdicts_lang ON quality_verdicts(lang);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeKey trims whitespace and applies Unicode NFC normalization so the
// same unit id always maps to the same row.
func normalizeKey(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

func storageErr(op string, key checkpoint.Key, err error) error {
	return fmt.Errorf("%w: %s %s: %v", checkpoint.ErrStorage, op, key, err)
}

func (s *Store) Has(ctx context.Context, key checkpoint.Key) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stage_checkpoints WHERE unit_id = ? AND lang = ? AND stage = ?`,
		normalizeKey(key.UnitID), key.Lang, key.Stage.Name()).Scan(&n)
	if err != nil {
		return false, storageErr("has", key, err)
	}
	return n > 0, nil
}

func (s *Store) Get(ctx context.Context, key checkpoint.Key) (*unit.Unit, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM stage_checkpoints WHERE unit_id = ? AND lang = ? AND stage = ?`,
		normalizeKey(key.UnitID), key.Lang, key.Stage.Name()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", key, err)
	}

	var u unit.Unit
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		return nil, storageErr("decode", key, err)
	}
	if u.ID == "" {
		u.ID = key.UnitID
	}
	return &u, nil
}

// Put upserts the stage output. A single statement is atomic in SQLite, so
// readers never observe a partial checkpoint.
func (s *Store) Put(ctx context.Context, key checkpoint.Key, u *unit.Unit) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return storageErr("encode", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stage_checkpoints (unit_id, lang, stage, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(unit_id, lang, stage) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		normalizeKey(key.UnitID), key.Lang, key.Stage.Name(), string(payload), time.Now(), time.Now())
	if err != nil {
		return storageErr("put", key, err)
	}
	return nil
}

func (s *Store) RecordFailure(ctx context.Context, key checkpoint.Key, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pair_failures (unit_id, lang, stage, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		normalizeKey(key.UnitID), key.Lang, key.Stage.Name(), reason, time.Now())
	if err != nil {
		return storageErr("record failure", key, err)
	}
	return nil
}

func (s *Store) HasFailure(ctx context.Context, unitID, lang string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pair_failures WHERE unit_id = ? AND lang = ?`,
		normalizeKey(unitID), lang).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: has failure %s/%s: %v", checkpoint.ErrStorage, unitID, lang, err)
	}
	return n > 0, nil
}

// Failure is a row from the pair_failures table.
type Failure struct {
	UnitID    string
	Lang      string
	Stage     string
	Reason    string
	CreatedAt time.Time
}

// ListFailures returns recorded failures, optionally filtered by language
// (pass an empty string to return everything).
func (s *Store) ListFailures(ctx context.Context, lang string) ([]Failure, error) {
	query := `SELECT unit_id, lang, stage, COALESCE(reason, ''), created_at FROM pair_failures`
	var args []interface{}
	if lang != "" {
		query += ` WHERE lang = ?`
		args = append(args, lang)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.UnitID, &f.Lang, &f.Stage, &f.Reason, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClearFailures forgets recorded failures so skip-failed runs retry them.
// An empty lang clears every language.
func (s *Store) ClearFailures(ctx context.Context, lang string) (int64, error) {
	query := `DELETE FROM pair_failures`
	var args []interface{}
	if lang != "" {
		query += ` WHERE lang = ?`
		args = append(args, lang)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveVerdict upserts the gate decision for a pair.
func (s *Store) SaveVerdict(ctx context.Context, runID string, v quality.Verdict) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quality_verdicts (unit_id, lang, score, threshold, decision, run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(unit_id, lang) DO UPDATE SET
			score = excluded.score, threshold = excluded.threshold,
			decision = excluded.decision, run_id = excluded.run_id, created_at = excluded.created_at`,
		normalizeKey(v.UnitID), v.Lang, v.Score, v.Threshold, string(v.Decision), runID, time.Now())
	if err != nil {
		return fmt.Errorf("%w: save verdict %s/%s: %v", checkpoint.ErrStorage, v.UnitID, v.Lang, err)
	}
	return nil
}

// ListVerdicts returns stored verdicts ordered by unit, optionally filtered
// by language.
func (s *Store) ListVerdicts(ctx context.Context, lang string) ([]quality.Verdict, error) {
	query := `SELECT unit_id, lang, score, threshold, decision FROM quality_verdicts`
	var args []interface{}
	if lang != "" {
		query += ` WHERE lang = ?`
		args = append(args, lang)
	}
	query += ` ORDER BY unit_id, lang`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []quality.Verdict
	for rows.Next() {
		var v quality.Verdict
		var decision string
		if err := rows.Scan(&v.UnitID, &v.Lang, &v.Score, &v.Threshold, &decision); err != nil {
			return nil, err
		}
		v.Decision = quality.Decision(decision)
		out = append(out, v)
	}
	return out, rows.Err()
}

// RunTotals are the counters stored when a run finishes.
type RunTotals struct {
	Units   int
	Kept    int
	Dropped int
	Failed  int
	Skipped int
}

// Run is a row from the runs table.
type Run struct {
	ID         string
	Status     string
	Totals     RunTotals
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// StartRun creates a run record and returns its id.
func (s *Store) StartRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES (?, 'running', ?)`, id, time.Now())
	return id, err
}

// FinishRun stores the run's totals and final status.
func (s *Store) FinishRun(ctx context.Context, id, status string, t RunTotals) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, units = ?, kept = ?, dropped = ?, failed = ?, skipped = ?, finished_at = ? WHERE id = ?`,
		status, t.Units, t.Kept, t.Dropped, t.Failed, t.Skipped, time.Now(), id)
	return err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, units, kept, dropped, failed, skipped, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Status, &r.Totals.Units, &r.Totals.Kept, &r.Totals.Dropped,
			&r.Totals.Failed, &r.Totals.Skipped, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarises what the store holds.
type Stats struct {
	Checkpoints map[string]int
	Verdicts    int
	Kept        int
	Dropped     int
	Failures    int
	Runs        int
}

// Stats returns checkpoint counts per stage and verdict, failure and run totals.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Checkpoints: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM stage_checkpoints GROUP BY stage`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Checkpoints[stage] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN decision = 'KEEP' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN decision = 'DROP' THEN 1 ELSE 0 END), 0)
		FROM quality_verdicts`).Scan(&stats.Verdicts, &stats.Kept, &stats.Dropped)
	if err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pair_failures`).Scan(&stats.Failures); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&stats.Runs); err != nil {
		return nil, err
	}
	return stats, nil
}
