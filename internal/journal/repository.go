package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout has a fixed-width fraction so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// Run is one row of enrollment_runs.
type Run struct {
	ID         string     `json:"id"`
	StationID  string     `json:"station_id"`
	Port       string     `json:"port,omitempty"`
	Workbook   string     `json:"workbook,omitempty"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Persisted  bool       `json:"persisted"`
	OK         int        `json:"ok"`
	Fail       int        `json:"fail"`
	Skipped    int        `json:"skipped"`
	Error      string     `json:"error,omitempty"`
}

// Event is one row of enrollment_events.
type Event struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Class      string    `json:"class"`
	Index      int       `json:"index"`
	Row        int       `json:"row"`
	Address    int       `json:"address"`
	Status     string    `json:"status"`
	Phase      string    `json:"phase"`
	Identifier uint32    `json:"identifier,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter pages through runs.
type Filter struct {
	Limit  int // default 50, max 200
	Offset int
}

// Repository stores and lists journal entries.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	AppendEvent(ctx context.Context, ev *Event) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter Filter) ([]Run, error)
	ListEvents(ctx context.Context, runID string) ([]Event, error)
}

// SQLiteRepository is the Repository backed by the journal database.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateRun inserts run. StartedAt defaults to now.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollment_runs (id, station_id, port, workbook, state, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StationID, run.Port, run.Workbook, run.State,
		run.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records the final state and counts of run.
func (r *SQLiteRepository) FinishRun(ctx context.Context, run *Run) error {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE enrollment_runs
		 SET state = ?, finished_at = ?, persisted = ?, ok_count = ?, fail_count = ?, skip_count = ?, error = ?
		 WHERE id = ?`,
		run.State, finished.Format(timeLayout), boolToInt(run.Persisted),
		run.OK, run.Fail, run.Skipped, run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// AppendEvent inserts ev and sets its ID.
func (r *SQLiteRepository) AppendEvent(ctx context.Context, ev *Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var identifier any
	if ev.Identifier > 0 {
		identifier = int64(ev.Identifier)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollment_events
		 (run_id, class, target_index, row_ref, address, status, phase, identifier, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Class, ev.Index, ev.Row, ev.Address, ev.Status, ev.Phase,
		identifier, ev.Note, ev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event for run %s: %w", ev.RunID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

const runColumns = `id, station_id, port, workbook, state, started_at, finished_at,
	persisted, ok_count, fail_count, skip_count, error`

// GetRun returns one run or ErrRunNotFound.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM enrollment_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs, most recent first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, filter Filter) ([]Run, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM enrollment_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ListEvents returns the events of a run in insertion order.
func (r *SQLiteRepository) ListEvents(ctx context.Context, runID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, class, target_index, row_ref, address, status, phase, identifier, note, created_at
		 FROM enrollment_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var identifier sql.NullInt64
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Class, &ev.Index, &ev.Row, &ev.Address,
			&ev.Status, &ev.Phase, &identifier, &ev.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if identifier.Valid {
			ev.Identifier = uint32(identifier.Int64) //nolint:gosec // stored from a uint32
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt sql.NullString
	var persisted int

	err := s.Scan(&run.ID, &run.StationID, &run.Port, &run.Workbook, &run.State,
		&startedAt, &finishedAt, &persisted, &run.OK, &run.Fail, &run.Skipped, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	run.Persisted = persisted != 0
	return &run, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
