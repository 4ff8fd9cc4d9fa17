package models

import "time"

// NodeStatus is the recorded status of a node attempt.
type NodeStatus string

const (
	NodeOK      NodeStatus = "ok"
	NodeNOK     NodeStatus = "nok"
	NodeSkipped NodeStatus = "skipped"
	NodePending NodeStatus = "pending"
)

// Decision is the operator's choice recorded on an attempt.
type Decision string

const (
	DecisionNone     Decision = "none"
	DecisionOK       Decision = "ok"
	DecisionNOK      Decision = "nok"
	DecisionRetry    Decision = "retry"
	DecisionSkip     Decision = "skip"
	DecisionAbort    Decision = "abort"
	DecisionRejected Decision = "rejected"
	DecisionApproved Decision = "approved"
)

// NodeExecution is a single attempt of one node within a run. Attempts are
// numbered per node starting at 1; the max-attempt row is authoritative for
// the node's current status.
type NodeExecution struct {
	WorkflowName string
	RunID        int64
	NodeID       string
	Attempt      int

	StartTime        time.Time
	EndTime          *time.Time
	Status           NodeStatus
	OperatorDecision Decision
	ResultText       string
	ExitCode         *int
	Exception        string
	Stdout           string
	Stderr           string
	DurationMS       int64
}
