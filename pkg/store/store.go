// Package store abstracts durable persistence of runs and node attempts.
// Every mutation is transactional; the engine treats any store failure during
// a live run as fatal.
package store

import (
	"context"
	"time"

	"github.com/playbook-run/playbook/pkg/models"
)

// Store is the persistence port used by the engine and the CLI.
type Store interface {
	// CreateRun atomically allocates the next run id for the workflow and
	// inserts the row with status RUNNING.
	CreateRun(ctx context.Context, run *models.Run) (int64, error)

	GetRun(ctx context.Context, workflowName string, runID int64) (*models.Run, error)
	LatestRun(ctx context.Context, workflowName string) (*models.Run, error)
	ListRuns(ctx context.Context, workflowName string) ([]*models.Run, error)

	// UpdateRunStatus writes status, counters and end time in one
	// transaction.
	UpdateRunStatus(ctx context.Context, workflowName string, runID int64, status models.RunStatus, counters models.Counters, endTime *time.Time) error

	// SetRunStatus overrides only the status; used by the set-status command
	// to rehabilitate orphaned RUNNING rows.
	SetRunStatus(ctx context.Context, workflowName string, runID int64, status models.RunStatus) error

	// MarkResumed reopens an aborted run: status back to RUNNING, trigger
	// resume, end time cleared, executor identity replaced.
	MarkResumed(ctx context.Context, workflowName string, runID int64, executorID string) error

	// BeginAttempt allocates the next attempt number for the node and inserts
	// a PENDING row.
	BeginAttempt(ctx context.Context, workflowName string, runID int64, nodeID string, startTime time.Time) (int, error)

	// FinishAttempt writes the terminal state of an attempt.
	FinishAttempt(ctx context.Context, execution *models.NodeExecution) error

	// RecordExecution inserts a complete row in one transaction (synthetic
	// SKIPPED and abort markers).
	RecordExecution(ctx context.Context, execution *models.NodeExecution) error

	LatestAttempt(ctx context.Context, workflowName string, runID int64, nodeID string) (*models.NodeExecution, error)
	Executions(ctx context.Context, workflowName string, runID int64) ([]*models.NodeExecution, error)

	Close() error
}
