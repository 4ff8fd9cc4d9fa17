package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/playbook-run/playbook/pkg/models"
)

const executionColumns = `workflow_name, run_id, node_id, attempt, start_time, end_time,
	status, operator_decision, result_text, exit_code, exception, stdout, stderr, duration_ms`

func (s *Store) BeginAttempt(ctx context.Context, workflowName string, runID int64, nodeID string, startTime time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback()

	var attempt int

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(attempt), 0) + 1 FROM executions
		WHERE workflow_name = ? AND run_id = ? AND node_id = ?`,
		workflowName, runID, nodeID,
	).Scan(&attempt)
	if err != nil {
		return 0, storeErr(fmt.Errorf("allocate attempt number: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (workflow_name, run_id, node_id, attempt, start_time, status, operator_decision)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		workflowName,
		runID,
		nodeID,
		attempt,
		formatTime(startTime),
		string(models.NodePending),
		string(models.DecisionNone),
	)
	if err != nil {
		return 0, storeErr(fmt.Errorf("insert attempt: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr(err)
	}

	return attempt, nil
}

func (s *Store) FinishAttempt(ctx context.Context, execution *models.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET end_time = ?, status = ?, operator_decision = ?, result_text = ?,
		    exit_code = ?, exception = ?, stdout = ?, stderr = ?, duration_ms = ?
		WHERE workflow_name = ? AND run_id = ? AND node_id = ? AND attempt = ?`,
		formatTimePtr(execution.EndTime),
		string(execution.Status),
		string(execution.OperatorDecision),
		execution.ResultText,
		nullableInt(execution.ExitCode),
		execution.Exception,
		execution.Stdout,
		execution.Stderr,
		execution.DurationMS,
		execution.WorkflowName,
		execution.RunID,
		execution.NodeID,
		execution.Attempt,
	)
	if err != nil {
		return storeErr(fmt.Errorf("finish attempt: %w", err))
	}

	return nil
}

func (s *Store) RecordExecution(ctx context.Context, execution *models.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	if execution.Attempt == 0 {
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(attempt), 0) + 1 FROM executions
			WHERE workflow_name = ? AND run_id = ? AND node_id = ?`,
			execution.WorkflowName, execution.RunID, execution.NodeID,
		).Scan(&execution.Attempt)
		if err != nil {
			return storeErr(fmt.Errorf("allocate attempt number: %w", err))
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		execution.WorkflowName,
		execution.RunID,
		execution.NodeID,
		execution.Attempt,
		formatTime(execution.StartTime),
		formatTimePtr(execution.EndTime),
		string(execution.Status),
		string(execution.OperatorDecision),
		execution.ResultText,
		nullableInt(execution.ExitCode),
		execution.Exception,
		execution.Stdout,
		execution.Stderr,
		execution.DurationMS,
	)
	if err != nil {
		return storeErr(fmt.Errorf("record execution: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}

	return nil
}

func (s *Store) LatestAttempt(ctx context.Context, workflowName string, runID int64, nodeID string) (*models.NodeExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE workflow_name = ? AND run_id = ? AND node_id = ?
		ORDER BY attempt DESC LIMIT 1`,
		workflowName, runID, nodeID)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, storeErr(err)
	}

	return execution, nil
}

func (s *Store) Executions(ctx context.Context, workflowName string, runID int64) ([]*models.NodeExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE workflow_name = ? AND run_id = ?
		ORDER BY node_id, attempt`,
		workflowName, runID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var executions []*models.NodeExecution

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, storeErr(err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}

	return executions, nil
}

func scanExecution(row rowScanner) (*models.NodeExecution, error) {
	var (
		execution models.NodeExecution
		startTime string
		endTime   sql.NullString
		status    string
		decision  string
		exitCode  sql.NullInt64
	)

	err := row.Scan(
		&execution.WorkflowName,
		&execution.RunID,
		&execution.NodeID,
		&execution.Attempt,
		&startTime,
		&endTime,
		&status,
		&decision,
		&execution.ResultText,
		&exitCode,
		&execution.Exception,
		&execution.Stdout,
		&execution.Stderr,
		&execution.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	if execution.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parse execution start time: %w", err)
	}

	if execution.EndTime, err = parseTimePtr(endTime); err != nil {
		return nil, fmt.Errorf("parse execution end time: %w", err)
	}

	execution.Status = models.NodeStatus(status)
	execution.OperatorDecision = models.Decision(decision)

	if exitCode.Valid {
		code := int(exitCode.Int64)
		execution.ExitCode = &code
	}

	return &execution, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}

	return *v
}
