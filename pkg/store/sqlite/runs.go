package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/models"
)

const runColumns = `workflow_name, run_id, start_time, end_time, status, "trigger",
	nodes_ok, nodes_nok, nodes_skipped, variables_json, runbook_digest, executor_id`

func (s *Store) CreateRun(ctx context.Context, run *models.Run) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback()

	var runID int64

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(run_id), 0) + 1 FROM runs WHERE workflow_name = ?",
		run.WorkflowName,
	).Scan(&runID)
	if err != nil {
		return 0, storeErr(fmt.Errorf("allocate run id: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.WorkflowName,
		runID,
		formatTime(run.StartTime),
		formatTimePtr(run.EndTime),
		string(run.Status),
		string(run.Trigger),
		run.Counters.OK,
		run.Counters.NOK,
		run.Counters.Skipped,
		run.VariablesJSON,
		run.RunbookDigest,
		run.ExecutorID,
	)
	if err != nil {
		return 0, storeErr(fmt.Errorf("insert run: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr(err)
	}

	return runID, nil
}

func (s *Store) GetRun(ctx context.Context, workflowName string, runID int64) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE workflow_name = ? AND run_id = ?",
		workflowName, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.New(errdefs.CodeRunNotFound,
			"run not found: %s/%d", workflowName, runID)
	}

	if err != nil {
		return nil, storeErr(err)
	}

	return run, nil
}

func (s *Store) LatestRun(ctx context.Context, workflowName string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE workflow_name = ? ORDER BY run_id DESC LIMIT 1",
		workflowName)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.New(errdefs.CodeRunNotFound,
			"no runs recorded for workflow %q", workflowName)
	}

	if err != nil {
		return nil, storeErr(err)
	}

	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, workflowName string) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE workflow_name = ? ORDER BY run_id DESC",
		workflowName)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var runs []*models.Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, storeErr(err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}

	return runs, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, workflowName string, runID int64, status models.RunStatus, counters models.Counters, endTime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, nodes_ok = ?, nodes_nok = ?, nodes_skipped = ?, end_time = ?
		WHERE workflow_name = ? AND run_id = ?`,
		string(status),
		counters.OK,
		counters.NOK,
		counters.Skipped,
		formatTimePtr(endTime),
		workflowName,
		runID,
	)
	if err != nil {
		return storeErr(fmt.Errorf("update run status: %w", err))
	}

	return nil
}

func (s *Store) SetRunStatus(ctx context.Context, workflowName string, runID int64, status models.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ? WHERE workflow_name = ? AND run_id = ?",
		string(status), workflowName, runID)
	if err != nil {
		return storeErr(fmt.Errorf("set run status: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr(err)
	}

	if affected == 0 {
		return errdefs.New(errdefs.CodeRunNotFound,
			"run not found: %s/%d", workflowName, runID)
	}

	return nil
}

func (s *Store) MarkResumed(ctx context.Context, workflowName string, runID int64, executorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, "trigger" = ?, end_time = NULL, executor_id = ?
		WHERE workflow_name = ? AND run_id = ?`,
		string(models.RunRunning),
		string(models.TriggerResume),
		executorID,
		workflowName,
		runID,
	)
	if err != nil {
		return storeErr(fmt.Errorf("mark run resumed: %w", err))
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run       models.Run
		startTime string
		endTime   sql.NullString
		status    string
		trigger   string
	)

	err := row.Scan(
		&run.WorkflowName,
		&run.RunID,
		&startTime,
		&endTime,
		&status,
		&trigger,
		&run.Counters.OK,
		&run.Counters.NOK,
		&run.Counters.Skipped,
		&run.VariablesJSON,
		&run.RunbookDigest,
		&run.ExecutorID,
	)
	if err != nil {
		return nil, err
	}

	if run.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parse run start time: %w", err)
	}

	if run.EndTime, err = parseTimePtr(endTime); err != nil {
		return nil, fmt.Errorf("parse run end time: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.Trigger = models.Trigger(trigger)

	return &run, nil
}
