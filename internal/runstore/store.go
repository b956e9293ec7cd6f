// Package runstore keeps workflow runs that are suspended at the approval point, so a
// later process can resume them by id.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

// FileName is the database file inside the project's state directory.
const FileName = "runs.db"

// ErrNotFound is returned by Load for an unknown or already consumed run.
var ErrNotFound = errors.New("suspended run not found")

// Run is a persisted suspended run. State is the workflow's own JSON encoding.
type Run struct {
	ID          string
	Cloud       cloud.Cloud
	ProjectPath string
	CreatedAt   time.Time
	State       []byte
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS suspended_runs (
    id           TEXT PRIMARY KEY,
    cloud        TEXT NOT NULL,
    project_path TEXT NOT NULL,
    state        TEXT NOT NULL,
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suspended_runs_created_at ON suspended_runs(created_at);
`

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	// One process, one writer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate run store: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts run, replacing any run with the same id.
func (s *Store) Save(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO suspended_runs (id, cloud, project_path, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Cloud), run.ProjectPath, string(run.State), run.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cloud, project_path, state, created_at FROM suspended_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return run, nil
}

// Delete removes a run. Deleting an unknown id returns ErrNotFound so callers can
// detect a run that was already consumed.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suspended_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns suspended runs, oldest first.
func (s *Store) List(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cloud, project_path, state, created_at FROM suspended_runs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run       Run
		cloudName string
		state     string
		createdAt string
	)
	if err := sc.Scan(&run.ID, &cloudName, &run.ProjectPath, &state, &createdAt); err != nil {
		return Run{}, err
	}
	run.Cloud = cloud.Cloud(cloudName)
	run.State = []byte(state)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	run.CreatedAt = t
	return run, nil
}
