package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Run statuses stored alongside the poller's terminal statuses.
const (
	RunRunning = "running"
	RunFailed  = "failed"
)

// RunRecord is one persisted sweep run.
type RunRecord struct {
	ID           int64           `json:"id"`
	RunID        string          `json:"run_id"`
	SessionID    string          `json:"session_id"`
	TaskID       string          `json:"task_id,omitempty"`
	Status       string          `json:"status"`
	OutputNodeID int             `json:"output_node_id"`
	Total        int             `json:"total"`
	Completed    int             `json:"completed"`
	Request      json.RawMessage `json:"request"`
	Results      json.RawMessage `json:"results,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// RunSummary omits the request and result blobs for list views.
type RunSummary struct {
	RunID       string     `json:"run_id"`
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStore provides persistence for sweep runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// InsertRun creates the record when a run starts.
func (s *RunStore) InsertRun(rec RunRecord) error {
	if rec.Status == "" {
		rec.Status = RunRunning
	}
	query := `
		INSERT INTO genlab_runs (
			run_id, session_id, task_id, status, output_node_id, total, completed, request, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.RunID,
			rec.SessionID,
			nullStr(rec.TaskID),
			rec.Status,
			rec.OutputNodeID,
			rec.Total,
			rec.Completed,
			string(rec.Request),
			formatTime(rec.StartedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", rec.RunID, err)
	}
	return nil
}

// UpdateRun records progress or the final outcome of a run. completedAt is
// nil while the run is still going.
func (s *RunStore) UpdateRun(runID, status string, completed int, results json.RawMessage, errMsg string, completedAt *time.Time) error {
	query := `
		UPDATE genlab_runs
		SET status = ?, completed = ?, results = ?, error = ?, completed_at = ?
		WHERE run_id = ?
	`
	var completedAtStr *string
	if completedAt != nil {
		s := formatTime(*completedAt)
		completedAtStr = &s
	}
	var affected int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(query, status, completed, nullJSON(results), nullStr(errMsg), completedAtStr, runID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	if affected == 0 {
		return fmt.Errorf("updating run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// GetRun returns a run by id, or nil when it does not exist.
func (s *RunStore) GetRun(runID string) (*RunRecord, error) {
	query := `
		SELECT id, run_id, session_id, task_id, status, output_node_id, total, completed,
		       request, results, error, started_at, completed_at
		FROM genlab_runs
		WHERE run_id = ?
	`
	var rec RunRecord
	var taskID, request, results, errMsg, completedAt sql.NullString
	var startedAt string
	err := s.db.QueryRow(query, runID).Scan(
		&rec.ID, &rec.RunID, &rec.SessionID, &taskID, &rec.Status, &rec.OutputNodeID,
		&rec.Total, &rec.Completed, &request, &results, &errMsg, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}

	rec.TaskID = taskID.String
	rec.Request = jsonOrNil(request)
	rec.Results = jsonOrNil(results)
	rec.Error = errMsg.String
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at for run %s: %w", runID, err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at for run %s: %w", runID, err)
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// ListRuns returns the most recent runs first. limit is clamped to [1, 100]
// with 20 as the default.
func (s *RunStore) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT run_id, session_id, status, total, completed, started_at, completed_at
		FROM genlab_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rec RunSummary
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.SessionID, &rec.Status, &rec.Total, &rec.Completed, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at for run row: %w", err)
		}
		if completedAt.Valid {
			t, err := parseTime(completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing completed_at for run row: %w", err)
			}
			rec.CompletedAt = &t
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run record.
func (s *RunStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM genlab_runs WHERE run_id = ?`, runID)
		return err
	})
}
