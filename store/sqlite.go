package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentcouncil/core"
)

// DefaultHistoryLimit is used when History is called with a non-positive limit.
const DefaultHistoryLimit = 10

// SQLite stores records in a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOptions configure a SQLite store.
type SQLiteOptions struct {
	// Now stamps records that carry no timestamp of their own.
	Now func() time.Time
}

// NewSQLite opens (and migrates) the database at path, creating its directory.
func NewSQLite(path string, optFns ...func(o *SQLiteOptions)) (*SQLite, error) {
	opts := SQLiteOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL lets the history API read while runs are being written; the busy
	// timeout makes concurrent writers wait instead of failing with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &SQLite{db: db, now: opts.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id           TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			status       TEXT NOT NULL,
			payload      TEXT NOT NULL,
			started_at   INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_requester ON pipeline_runs(requester_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS consensus_results (
			id              TEXT PRIMARY KEY,
			requester_id    TEXT NOT NULL,
			question        TEXT NOT NULL,
			winning_choice  TEXT,
			agreement_ratio REAL NOT NULL,
			payload         TEXT NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			role         TEXT NOT NULL,
			agent_used   TEXT NOT NULL,
			status       TEXT NOT NULL,
			payload      TEXT NOT NULL,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_requester ON tasks(requester_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Record implements core.Recorder.
func (s *SQLite) Record(ctx context.Context, rec core.Record) error {
	switch r := rec.(type) {
	case *core.PipelineRun:
		return s.saveRun(ctx, r)
	case *core.ConsensusResult:
		return s.saveConsensus(ctx, r)
	case *core.TaskRecord:
		return s.saveTask(ctx, r)
	default:
		return fmt.Errorf("store: unsupported record kind %q", rec.RecordKind())
	}
}

func (s *SQLite) saveRun(ctx context.Context, r *core.PipelineRun) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode pipeline run: %w", err)
	}
	var completed *int64
	if !r.CompletedAt.IsZero() {
		v := r.CompletedAt.UnixNano()
		completed = &v
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, requester_id, status, payload, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			completed_at = excluded.completed_at`,
		r.ID, r.RequesterID, string(r.Status), string(payload), s.stamp(r.StartedAt), completed)
	if err != nil {
		return fmt.Errorf("save pipeline run: %w", err)
	}
	return nil
}

func (s *SQLite) saveConsensus(ctx context.Context, r *core.ConsensusResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode consensus result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consensus_results (id, requester_id, question, winning_choice, agreement_ratio, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), r.RequesterID, r.Question, r.WinningChoice, r.AgreementRatio, string(payload), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("save consensus result: %w", err)
	}
	return nil
}

func (s *SQLite) saveTask(ctx context.Context, r *core.TaskRecord) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, requester_id, role, agent_used, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, payload = excluded.payload`,
		id, r.RequesterID, string(r.Role), r.AgentUsed, string(r.Status), string(payload), s.stamp(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *SQLite) stamp(t time.Time) int64 {
	if t.IsZero() {
		t = s.now()
	}
	return t.UnixNano()
}

// History implements core.HistoryReader.
func (s *SQLite) History(ctx context.Context, requesterID string, limit int) ([]*core.PipelineRun, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM pipeline_runs
		WHERE requester_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, requesterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	runs := []*core.PipelineRun{}
	for rows.Next() {
		r, err := scanPayload[core.PipelineRun](rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun implements core.HistoryReader.
func (s *SQLite) GetRun(ctx context.Context, id string) (*core.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM pipeline_runs WHERE id = ?`, id)
	r, err := scanPayload[core.PipelineRun](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline run: %w", err)
	}
	return r, nil
}

// Tasks implements core.HistoryReader.
func (s *SQLite) Tasks(ctx context.Context, requesterID string, limit int) ([]*core.TaskRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM tasks
		WHERE requester_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, requesterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*core.TaskRecord{}
	for rows.Next() {
		t, err := scanPayload[core.TaskRecord](rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Prune deletes every record created before cutoff and returns how many rows
// were removed.
func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := cutoff.UnixNano()
	stmts := []string{
		`DELETE FROM pipeline_runs WHERE started_at < ?`,
		`DELETE FROM consensus_results WHERE created_at < ?`,
		`DELETE FROM tasks WHERE created_at < ?`,
	}

	var total int64
	for _, stmt := range stmts {
		res, err := s.db.ExecContext(ctx, stmt, ts)
		if err != nil {
			return total, fmt.Errorf("prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func scanPayload[T any](scanner interface{ Scan(dest ...any) error }) (*T, error) {
	var payload string
	if err := scanner.Scan(&payload); err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return nil, err
	}
	return v, nil
}
