package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"kurz/internal/config"
	"kurz/internal/fsm"
	"kurz/internal/manifest"
	"kurz/internal/services"
)

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the run database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new run in the initial state.
func (s *Store) Create(ctx context.Context, spec RunSpec) (*Run, error) {
	spec.Normalize()
	if !spec.Valid() {
		return nil, services.Wrap(services.ErrValidation, "runstore", "create", "run spec needs a prompt and a known mode", nil)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	runID := uuid.NewString()

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}
	history := []fsm.HistoryEntry{{State: fsm.StateInit, At: now}}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
            run_id, spec_json, state, progress, history_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID,
		string(specJSON),
		string(fsm.StateInit),
		0.0,
		string(historyJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	return s.GetByID(ctx, runID)
}

// GetByID fetches one run, including its manifest and history.
func (s *Store) GetByID(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRun+" WHERE run_id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "runstore", "get", fmt.Sprintf("run %s not found", runID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// Update writes back a run's mutable columns.
func (s *Store) Update(ctx context.Context, run *Run) error {
	specJSON, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	historyJSON, err := json.Marshal(run.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	var manifestJSON any
	if run.Manifest != nil {
		data, err := json.Marshal(run.Manifest)
		if err != nil {
			return fmt.Errorf("marshal manifest: %w", err)
		}
		manifestJSON = string(data)
	}

	run.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET
            spec_json = ?, state = ?, progress = ?, manifest_json = ?,
            history_json = ?, error_message = ?, output_path = ?, updated_at = ?
        WHERE run_id = ?`,
		string(specJSON),
		string(run.State),
		run.Progress,
		manifestJSON,
		string(historyJSON),
		nullableString(run.ErrorMessage),
		nullableString(run.OutputPath),
		run.UpdatedAt.Format(time.RFC3339Nano),
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.RunID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "runstore", "update", fmt.Sprintf("run %s not found", run.RunID), nil)
	}
	return nil
}

// SetProgress persists the UI progress hint for a run.
func (s *Store) SetProgress(ctx context.Context, runID string, progress float64) error {
	_, err := s.db.ExecContext(
		ctx,
		"UPDATE runs SET progress = ?, updated_at = ? WHERE run_id = ?",
		progress,
		time.Now().UTC().Format(time.RFC3339Nano),
		runID,
	)
	if err != nil {
		return fmt.Errorf("set progress for %s: %w", runID, err)
	}
	return nil
}

// AppendLog records one run log line.
func (s *Store) AppendLog(ctx context.Context, runID, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		"INSERT INTO run_logs (run_id, message, created_at) VALUES (?, ?, ?)",
		runID,
		message,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append log for %s: %w", runID, err)
	}
	return nil
}

// Logs returns a run's log lines, oldest first.
func (s *Store) Logs(ctx context.Context, runID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT run_id, message, created_at FROM run_logs WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query logs for %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var createdRaw string
		if err := rows.Scan(&entry.RunID, &entry.Message, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		entry.CreatedAt = parseTimestamp(createdRaw)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// List returns runs filtered by state; no states means all runs.
// Results are ordered newest first.
func (s *Store) List(ctx context.Context, states ...fsm.State) ([]*Run, error) {
	query := selectRun
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		query += " WHERE state IN (" + makePlaceholders(len(states)) + ")"
		for _, state := range states {
			args = append(args, string(state))
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats returns a count of runs per state.
func (s *Store) Stats(ctx context.Context) (map[fsm.State]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(1) FROM runs GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[fsm.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats[fsm.State(state)] = count
	}
	return stats, rows.Err()
}

const selectRun = `SELECT
    run_id, spec_json, state, progress, manifest_json,
    history_json, error_message, output_path, created_at, updated_at
FROM runs`

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		runID        string
		specJSON     string
		stateStr     string
		progress     float64
		manifestJSON sql.NullString
		historyJSON  string
		errorMessage sql.NullString
		outputPath   sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&runID, &specJSON, &stateStr, &progress, &manifestJSON,
		&historyJSON, &errorMessage, &outputPath, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	run := &Run{
		RunID:        runID,
		State:        fsm.State(stateStr),
		Progress:     progress,
		ErrorMessage: errorMessage.String,
		OutputPath:   outputPath.String,
		CreatedAt:    parseTimestamp(createdRaw),
		UpdatedAt:    parseTimestamp(updatedRaw),
	}

	if err := json.Unmarshal([]byte(specJSON), &run.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec for %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &run.History); err != nil {
		return nil, fmt.Errorf("unmarshal history for %s: %w", runID, err)
	}
	if manifestJSON.Valid && manifestJSON.String != "" {
		var m manifest.Manifest
		if err := json.Unmarshal([]byte(manifestJSON.String), &m); err != nil {
			return nil, fmt.Errorf("unmarshal manifest for %s: %w", runID, err)
		}
		run.Manifest = &m
	}
	return run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimestamp(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
