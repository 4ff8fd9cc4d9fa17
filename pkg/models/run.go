package models

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunNOK     RunStatus = "nok"
	RunAborted RunStatus = "aborted"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunOK || s == RunNOK || s == RunAborted
}

// Trigger records how a run was started.
type Trigger string

const (
	TriggerRun    Trigger = "run"
	TriggerResume Trigger = "resume"
)

// Counters aggregates final node statuses for a run. Pruned nodes are counted
// in none of the buckets.
type Counters struct {
	OK      int
	NOK     int
	Skipped int
}

// Run is one execution of a runbook, identified by (WorkflowName, RunID).
// RunID autoincrements per workflow name.
type Run struct {
	WorkflowName string
	RunID        int64
	StartTime    time.Time
	EndTime      *time.Time
	Status       RunStatus
	Trigger      Trigger
	Counters     Counters

	// VariablesJSON is the resolved-variables snapshot serialized at start,
	// used to rebuild the resolution on resume.
	VariablesJSON string

	// RunbookDigest is the sha256 of the runbook file the run started from.
	RunbookDigest string

	// ExecutorID identifies the process that started or last resumed the
	// run. It is stored for attribution only; orphaned rows are flagged by
	// status RUNNING with no end time.
	ExecutorID string
}
