package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/xpand/internal/pipeline"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("run not found")

// Store is the run ledger.
type Store struct {
	db *sql.DB
}

// Run is one ledger row.
type Run struct {
	Seq           int64     `json:"seq"`
	ID            string    `json:"id"`
	Policy        string    `json:"policy"`
	Package       string    `json:"package"`
	Target        string    `json:"target"`
	Toolchain     string    `json:"toolchain"`
	FinalState    string    `json:"final_state"`
	States        []string  `json:"states"`
	FailureCode   string    `json:"failure_code,omitempty"`
	FailureStage  string    `json:"failure_stage,omitempty"`
	FailureCount  int       `json:"failure_count"`
	Diagnostics   string    `json:"diagnostics,omitempty"`
	SourceDigest  string    `json:"source_digest,omitempty"`
	ExpandedBytes int       `json:"expanded_bytes"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Open creates or opens the ledger at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FromReport converts a pipeline report into a ledger row.
func FromReport(r *pipeline.Report) Run {
	states := make([]string, len(r.States))
	for i, st := range r.States {
		states[i] = st.String()
	}

	run := Run{
		ID:            r.RunID,
		Policy:        r.Policy.String(),
		Package:       r.Package,
		Target:        r.Target,
		Toolchain:     r.Toolchain,
		FinalState:    r.Final.String(),
		States:        states,
		FailureCount:  len(r.Failures),
		Diagnostics:   r.Diagnostics(),
		SourceDigest:  r.SourceDigest,
		ExpandedBytes: r.ExpandedBytes,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	if f := r.FirstFailure(); f != nil {
		run.FailureCode = string(f.Code)
		run.FailureStage = f.Stage.String()
	}
	return run
}

// Record appends a run. Recording the same id twice is a no-op.
func (s *Store) Record(ctx context.Context, run Run) error {
	states, err := json.Marshal(run.States)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, policy, package, target, toolchain, final_state, states,
		 failure_code, failure_stage, failure_count, diagnostics,
		 source_digest, expanded_bytes, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Policy,
		run.Package,
		run.Target,
		run.Toolchain,
		run.FinalState,
		string(states),
		run.FailureCode,
		run.FailureStage,
		run.FailureCount,
		run.Diagnostics,
		run.SourceDigest,
		run.ExpandedBytes,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

const selectRun = `
	SELECT seq, id, policy, package, target, toolchain, final_state, states,
	       failure_code, failure_stage, failure_count, diagnostics,
	       source_digest, expanded_bytes, started_at, finished_at
	FROM runs`

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := selectRun + ` ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Get returns the run with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run               Run
		states            string
		started, finished string
	)
	err := sc.Scan(
		&run.Seq, &run.ID, &run.Policy, &run.Package, &run.Target, &run.Toolchain,
		&run.FinalState, &states, &run.FailureCode, &run.FailureStage, &run.FailureCount,
		&run.Diagnostics, &run.SourceDigest, &run.ExpandedBytes, &started, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(states), &run.States); err != nil {
		return Run{}, fmt.Errorf("decode states of %s: %w", run.ID, err)
	}
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("decode started_at of %s: %w", run.ID, err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Run{}, fmt.Errorf("decode finished_at of %s: %w", run.ID, err)
	}
	return run, nil
}
