// Package journal keeps a SQLite history of prompt runs and the check
// attempts made for each. It is a record only; batch resume decisions come
// from the state document.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/throw-if-null/vibe/internal/api"
)

var ErrNotFound = errors.New("not found")

const interruptedSummary = "interrupted: process exited before the run finished"

type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed and applies migrations.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000`)
	j := New(db)
	if err := j.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

func (j *Journal) Close() error { return j.db.Close() }

var migrations = []string{
	// v1
	`
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  prompt_path TEXT NOT NULL,
  directory TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  session_id TEXT NOT NULL DEFAULT '',
  error_summary TEXT NOT NULL DEFAULT '',
  started_at TEXT NOT NULL,
  finished_at TEXT
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
CREATE TABLE IF NOT EXISTS attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  attempt_num INTEGER NOT NULL,
  step_name TEXT NOT NULL,
  success INTEGER NOT NULL,
  exit_code INTEGER NOT NULL,
  recorded_at TEXT NOT NULL
);
`,
	// v2
	`ALTER TABLE attempts ADD COLUMN duration_ms INTEGER NOT NULL DEFAULT 0;`,
}

// Init runs migrations using PRAGMA user_version.
func (j *Journal) Init() error {
	var ver int
	if err := j.db.QueryRow(`PRAGMA user_version`).Scan(&ver); err != nil {
		return err
	}
	if ver >= len(migrations) {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := ver; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, len(migrations))); err != nil {
		return err
	}
	return tx.Commit()
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(time.RFC3339Nano)
}

// StartRun inserts a running run and returns its id.
func (j *Journal) StartRun(promptPath, directory string) (string, error) {
	id := uuid.NewString()
	err := withBusyRetry(func() error {
		_, err := j.db.Exec(`INSERT INTO runs (id, prompt_path, directory, status, started_at) VALUES (?, ?, ?, ?, ?)`,
			id, promptPath, directory, string(api.RunRunning), j.timestamp())
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun moves a run to a terminal status.
func (j *Journal) FinishRun(id string, status api.RunStatus, sessionID, errorSummary string) error {
	return withBusyRetry(func() error {
		res, err := j.db.Exec(`UPDATE runs SET status = ?, session_id = ?, error_summary = ?, finished_at = ? WHERE id = ?`,
			string(status), sessionID, errorSummary, j.timestamp(), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetSession records the assistant session id as soon as it is known.
func (j *Journal) SetSession(id, sessionID string) error {
	return withBusyRetry(func() error {
		_, err := j.db.Exec(`UPDATE runs SET session_id = ? WHERE id = ?`, sessionID, id)
		return err
	})
}

// RecordAttempt stores one step outcome of one supervisor attempt.
func (j *Journal) RecordAttempt(a api.Attempt) error {
	if a.RecordedAt == "" {
		a.RecordedAt = j.timestamp()
	}
	success := 0
	if a.Success {
		success = 1
	}
	return withBusyRetry(func() error {
		_, err := j.db.Exec(`INSERT INTO attempts (run_id, attempt_num, step_name, success, exit_code, duration_ms, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.RunID, a.AttemptNum, a.StepName, success, a.ExitCode, a.DurationMs, a.RecordedAt)
		return err
	})
}

const runColumns = `id, prompt_path, directory, status, session_id, error_summary, started_at, COALESCE(finished_at, '')`

func scanRun(sc interface{ Scan(...any) error }) (*api.Run, error) {
	var r api.Run
	var status string
	if err := sc.Scan(&r.ID, &r.PromptPath, &r.Directory, &status, &r.SessionID, &r.ErrorSummary, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = api.RunStatus(status)
	return &r, nil
}

// GetRun returns a run with its attempts.
func (j *Journal) GetRun(id string) (*api.Run, error) {
	r, err := scanRun(j.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := j.db.Query(`SELECT run_id, attempt_num, step_name, success, exit_code, duration_ms, recorded_at FROM attempts WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a api.Attempt
		var success int
		if err := rows.Scan(&a.RunID, &a.AttemptNum, &a.StepName, &success, &a.ExitCode, &a.DurationMs, &a.RecordedAt); err != nil {
			return nil, err
		}
		a.Success = success != 0
		r.Attempts = append(r.Attempts, a)
	}
	return r, rows.Err()
}

// ListRuns returns runs newest first. If limit <= 0, return all.
func (j *Journal) ListRuns(limit int) ([]*api.Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = j.db.Query(q+` LIMIT ?`, limit)
	} else {
		rows, err = j.db.Query(q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*api.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReconcileInterrupted marks runs still in running status as failed. Only one
// vibe process works a project at a time, so such runs belong to a process
// that died. Returns the number of runs updated.
func (j *Journal) ReconcileInterrupted() (int, error) {
	var n int64
	err := withBusyRetry(func() error {
		res, err := j.db.Exec(`UPDATE runs SET status = ?, error_summary = ?, finished_at = ? WHERE status = ?`,
			string(api.RunFailed), interruptedSummary, j.timestamp(), string(api.RunRunning))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func withBusyRetry(fn func() error) error {
	const maxRetries = 5
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isSqliteBusy(err) {
			return err
		}
		time.Sleep(time.Duration(10*(1<<i)) * time.Millisecond)
	}
	return lastErr
}

func isSqliteBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy") || strings.Contains(msg, "SQLITE_BUSY")
}
