package engine

import (
	"sync"

	"github.com/playbook-run/playbook/pkg/models"
)

// nodeState is the engine's in-memory view of a node. PRUNED is a
// pseudo-terminal that never reaches the store: descendants of a failed node
// that can no longer become eligible are surfaced as "not run".
type nodeState string

const (
	statePending nodeState = "pending"
	stateRunning nodeState = "running"
	stateOK      nodeState = "ok"
	stateNOK     nodeState = "nok"
	stateSkipped nodeState = "skipped"
	statePruned  nodeState = "pruned"
)

func (s nodeState) terminal() bool {
	switch s {
	case stateOK, stateNOK, stateSkipped, statePruned:
		return true
	default:
		return false
	}
}

// runState tracks node statuses for one run. It also answers the template
// predicates, which may be consulted from worker goroutines.
type runState struct {
	mu     sync.Mutex
	states map[string]nodeState
}

func newRunState(nodeIDs []string) *runState {
	states := make(map[string]nodeState, len(nodeIDs))
	for _, id := range nodeIDs {
		states[id] = statePending
	}

	return &runState{states: states}
}

func (s *runState) get(nodeID string) nodeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.states[nodeID]
}

func (s *runState) set(nodeID string, state nodeState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[nodeID] = state
}

func (s *runState) countPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, state := range s.states {
		if state == statePending {
			count++
		}
	}

	return count
}

// counters aggregates final node statuses; pruned and pending nodes land in
// no bucket.
func (s *runState) counters() models.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c models.Counters

	for _, state := range s.states {
		switch state {
		case stateOK:
			c.OK++
		case stateNOK:
			c.NOK++
		case stateSkipped:
			c.Skipped++
		}
	}

	return c
}

func (s *runState) anyCriticalNOK(nodes []*models.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, node := range nodes {
		if node.Critical && s.states[node.ID] == stateNOK {
			return true
		}
	}

	return false
}

// Template predicate surface (template.StatusSource).

func (s *runState) HasSucceeded(nodeID string) bool { return s.get(nodeID) == stateOK }
func (s *runState) HasFailed(nodeID string) bool    { return s.get(nodeID) == stateNOK }
func (s *runState) IsSkipped(nodeID string) bool    { return s.get(nodeID) == stateSkipped }

func (s *runState) HasRun(nodeID string) bool {
	switch s.get(nodeID) {
	case stateOK, stateNOK, stateSkipped:
		return true
	default:
		return false
	}
}
