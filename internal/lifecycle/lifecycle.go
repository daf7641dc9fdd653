// Package lifecycle implements C11: the project's observable state
// machine, gating queries until an initial index has completed
// (spec §4.11).
package lifecycle

import (
	"sync"

	cerrors "github.com/standardbeagle/cindex/internal/errors"
)

// State is one node of the lifecycle state machine.
type State string

const (
	Uninitialized State = "uninitialized"
	Initializing  State = "initializing"
	Indexing      State = "indexing"
	Indexed       State = "indexed"
	Refreshing    State = "refreshing"
	Failed        State = "failed"
)

// queryable is the set of states in which queries are permitted,
// possibly against a stale view (§4.11).
var queryable = map[State]bool{
	Indexed:    true,
	Refreshing: true,
}

// Machine tracks the current state under a mutex; every transition is
// explicit and observable via Current().
type Machine struct {
	mu    sync.RWMutex
	state State
}

func New() *Machine {
	return &Machine{state: Uninitialized}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves the machine to next unconditionally; callers are
// responsible for only requesting transitions the state diagram
// allows (Uninitialized→Initializing→{Indexing|Indexed}→Refreshing→Indexed,
// and any state→Failed).
func (m *Machine) Transition(next State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = next
}

// CheckQueryable returns NotReady if the current state does not
// permit queries.
func (m *Machine) CheckQueryable() error {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	if !queryable[state] {
		return cerrors.New(cerrors.NotReady, "query", nil).WithRecoverable(true)
	}
	return nil
}
