package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed run history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Run Operations
// ============================================================================

// CreateRun inserts a new Run and sets its ID
func (s *Store) CreateRun(run *Run) error {
	if run.Status == "" {
		run.Status = StatusRunning
	}

	const query = `
		INSERT INTO runs (
			session_id, destination, start_time, planned, additions, removals,
			dry_run, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.SessionID, run.Destination, run.StartTime, run.Planned, run.Additions,
		run.Removals, run.DryRun, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateRun updates an existing Run by ID
func (s *Store) UpdateRun(run *Run) error {
	const query = `
		UPDATE runs SET
			destination = ?, start_time = ?, end_time = ?, planned = ?,
			additions = ?, removals = ?, dry_run = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	var endTime any
	if !run.EndTime.IsZero() {
		endTime = run.EndTime
	}

	result, err := s.db.Exec(
		query,
		run.Destination, run.StartTime, endTime, run.Planned,
		run.Additions, run.Removals, run.DryRun, run.Status, run.ErrorMessage,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %d", run.ID)
	}

	return nil
}

const runColumns = `id, session_id, destination, start_time, end_time, planned, additions,
	removals, dry_run, status, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var endTime sql.NullTime
	var session, errMsg sql.NullString
	err := row.Scan(
		&run.ID, &session, &run.Destination, &run.StartTime, &endTime, &run.Planned,
		&run.Additions, &run.Removals, &run.DryRun, &run.Status, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		run.EndTime = endTime.Time
	}
	run.SessionID = session.String
	run.ErrorMessage = errMsg.String
	return run, nil
}

// GetRunBySession retrieves the Run started by a session
func (s *Store) GetRunBySession(sessionID string) (*Run, error) {
	run, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE session_id = ?", sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found for session %s", sessionID)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a Run by ID
func (s *Store) GetRun(id int64) (*Run, error) {
	run, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs first. limit <= 0 returns all runs.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY start_time DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// ReleaseEvent Operations
// ============================================================================

// RecordEvent inserts a ReleaseEvent and sets its ID. A zero Time is set to now.
func (s *Store) RecordEvent(ev *ReleaseEvent) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	const query = `
		INSERT INTO release_events (
			run_id, release, digest, action, outcome, error_message, event_time
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		ev.RunID, ev.Release, ev.Digest, ev.Action, ev.Outcome, ev.ErrorMessage, ev.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to insert release event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	ev.ID = id
	return nil
}

// ListEvents returns the events of a run in the order they were recorded
func (s *Store) ListEvents(runID int64) ([]ReleaseEvent, error) {
	const query = `
		SELECT id, run_id, release, digest, action, outcome, error_message, event_time
		FROM release_events WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query release events: %w", err)
	}
	defer rows.Close()

	var events []ReleaseEvent
	for rows.Next() {
		var ev ReleaseEvent
		var digest, errMsg sql.NullString
		if err := rows.Scan(
			&ev.ID, &ev.RunID, &ev.Release, &digest, &ev.Action,
			&ev.Outcome, &errMsg, &ev.Time,
		); err != nil {
			return nil, fmt.Errorf("failed to scan release event: %w", err)
		}
		ev.Digest = digest.String
		ev.ErrorMessage = errMsg.String
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating release events: %w", err)
	}

	return events, nil
}

// CountEvents returns how many events with the given action and outcome were
// recorded across all runs.
func (s *Store) CountEvents(action, outcome string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM release_events WHERE action = ? AND outcome = ?",
		action, outcome,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count release events: %w", err)
	}
	return n, nil
}
