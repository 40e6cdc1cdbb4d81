package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is an account's position in its run lifecycle.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSuccess   State = "SUCCESS"
	StateExhausted State = "EXHAUSTED"
	StateTimeout   State = "TIMEOUT"
	StateSkipped   State = "SKIPPED"
)

// Event triggers a state transition.
type Event string

const (
	EventStart            Event = "START"
	EventQuotaMet         Event = "QUOTA_MET"
	EventRetriesExhausted Event = "RETRIES_EXHAUSTED"
	EventLowReserve       Event = "LOW_RESERVE"
	EventFatal            Event = "FATAL"
	EventDeadline         Event = "DEADLINE"
	EventAdmissionTimeout Event = "ADMISSION_TIMEOUT"
)

type transition struct {
	from  State
	event Event
}

// transitions is the authoritative transition table.
var transitions = map[transition]State{
	{StatePending, EventStart}:            StateRunning,
	{StatePending, EventAdmissionTimeout}: StateSkipped,
	{StateRunning, EventQuotaMet}:         StateSuccess,
	{StateRunning, EventRetriesExhausted}: StateExhausted,
	{StateRunning, EventLowReserve}:       StateExhausted,
	{StateRunning, EventFatal}:            StateExhausted,
	{StateRunning, EventDeadline}:         StateTimeout,
}

// Machine tracks one account's lifecycle. Safe for concurrent reads while
// the owning runner drives it.
type Machine struct {
	mu sync.Mutex

	account   string
	venue     string
	state     State
	reason    string
	updatedAt time.Time
}

// NewMachine returns a machine in PENDING.
func NewMachine(account, venue string) *Machine {
	return &Machine{account: account, venue: venue, state: StatePending, updatedAt: time.Now()}
}

// Fire applies event. reason is kept when the new state is terminal.
func (m *Machine) Fire(event Event, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	next, ok := transitions[transition{from: prev, event: event}]
	if !ok {
		return fmt.Errorf("runner: invalid transition: state=%s event=%s", prev, event)
	}
	m.state = next
	m.updatedAt = time.Now()
	if next.Terminal() {
		m.reason = reason
	}

	log.Debug().
		Str("account", m.account).
		Str("venue", m.venue).
		Str("prev_state", string(prev)).
		Str("event", string(event)).
		Str("new_state", string(next)).
		Str("reason", reason).
		Msg("runner: state transition")
	return nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns why the machine reached its terminal state.
func (m *Machine) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Terminal reports whether s ends the lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateExhausted, StateTimeout, StateSkipped:
		return true
	}
	return false
}
