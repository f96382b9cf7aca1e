// Package core provides the agent finite state machine for the VibePHP build-fix loop.
//
// The FSM governs one workspace's cycle: planning, code generation, verification,
// fix planning and patch application, returning to IDLE after every cycle.
//
//	NewAgentFSM() to instantiate.
//	Transition(event) to advance state.
//	CurrentState() to inspect.
//	History() for the audit trail.
package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/metrics"
)

// --- State & Event Enums ---

// AgentState represents the discrete states of the agent FSM.
type AgentState string

const (
	StateIdle          AgentState = "IDLE"
	StatePlanning      AgentState = "PLANNING"
	StatePlanReady     AgentState = "PLAN_READY"
	StateCoding        AgentState = "CODING"
	StateVerifying     AgentState = "VERIFYING"
	StateErrorDetected AgentState = "ERROR_DETECTED"
	StatePlanningFix   AgentState = "PLANNING_FIX"
	StateFixReady      AgentState = "FIX_READY"
	StateApplyingPatch AgentState = "APPLYING_PATCH"
)

// AgentEvent represents events that trigger state transitions.
type AgentEvent string

const (
	EventSubmit           AgentEvent = "submit"
	EventPlanReady        AgentEvent = "plan_ready"
	EventStartCoding      AgentEvent = "start_coding"
	EventFilesMerged      AgentEvent = "files_merged"
	EventVerified         AgentEvent = "verified"
	EventVerifyFailed     AgentEvent = "verify_failed"
	EventAttemptsExceeded AgentEvent = "attempts_exceeded"
	EventRequestFix       AgentEvent = "request_fix"
	EventFixReady         AgentEvent = "fix_ready"
	EventFixFailed        AgentEvent = "fix_failed"
	EventApplyFix         AgentEvent = "apply_fix"
	EventPatched          AgentEvent = "patched"
	EventAbort            AgentEvent = "abort"
	EventFailed           AgentEvent = "failed"
	EventCancel           AgentEvent = "cancel"
)

// ErrInvalidTransition is returned when an event is not allowed in the current state.
var ErrInvalidTransition = errors.New("invalid transition")

// --- Transition Table ---

// transition defines a valid (from, event) → to mapping.
type transition struct {
	From  AgentState
	Event AgentEvent
	To    AgentState
}

// validTransitions is the canonical FSM transition table.
var validTransitions = []transition{
	// Plan
	{StateIdle, EventSubmit, StatePlanning},
	{StatePlanning, EventPlanReady, StatePlanReady},
	{StatePlanning, EventFailed, StateIdle},

	// Build
	{StatePlanReady, EventStartCoding, StateCoding},
	{StateCoding, EventFilesMerged, StateVerifying},
	{StateCoding, EventFailed, StateIdle},

	// Verification outcomes
	{StateVerifying, EventVerified, StateIdle},
	{StateVerifying, EventVerifyFailed, StateErrorDetected},
	{StateVerifying, EventAttemptsExceeded, StateIdle},
	{StateVerifying, EventFailed, StateIdle},

	// Fix loop
	{StateErrorDetected, EventRequestFix, StatePlanningFix},
	{StateErrorDetected, EventAbort, StateIdle},
	{StatePlanningFix, EventFixReady, StateFixReady},
	{StatePlanningFix, EventFixFailed, StateErrorDetected},
	{StateFixReady, EventApplyFix, StateApplyingPatch},
	{StateApplyingPatch, EventPatched, StateVerifying},
	{StateApplyingPatch, EventAbort, StateIdle},

	// Cancel is allowed from every non-idle state
	{StatePlanning, EventCancel, StateIdle},
	{StatePlanReady, EventCancel, StateIdle},
	{StateCoding, EventCancel, StateIdle},
	{StateVerifying, EventCancel, StateIdle},
	{StateErrorDetected, EventCancel, StateIdle},
	{StatePlanningFix, EventCancel, StateIdle},
	{StateFixReady, EventCancel, StateIdle},
	{StateApplyingPatch, EventCancel, StateIdle},
}

// --- State Transition Record ---

// StateTransition is recorded on every state change.
type StateTransition struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	FromState   AgentState `json:"from_state"`
	ToState     AgentState `json:"to_state"`
	Event       AgentEvent `json:"event"`
	Timestamp   time.Time  `json:"timestamp"`
	Cycle       uint64     `json:"cycle"`
	DurationMs  int64      `json:"duration_ms"`
}

// --- Agent FSM ---

// AgentFSM is the finite state machine governing one workspace.
type AgentFSM struct {
	mu sync.RWMutex

	WorkspaceID string
	state       AgentState
	lastTransAt time.Time
	historyCap  int

	// Transition history for audit
	history []StateTransition
}

// AgentFSMConfig provides initialization parameters.
type AgentFSMConfig struct {
	WorkspaceID string
	// HistoryCap bounds the retained transitions. Zero keeps 256.
	HistoryCap int
}

// NewAgentFSM creates and returns a new FSM in the Idle state.
func NewAgentFSM(cfg AgentFSMConfig) *AgentFSM {
	historyCap := cfg.HistoryCap
	if historyCap <= 0 {
		historyCap = 256
	}
	return &AgentFSM{
		WorkspaceID: cfg.WorkspaceID,
		state:       StateIdle,
		lastTransAt: time.Now(),
		historyCap:  historyCap,
		history:     make([]StateTransition, 0, 64),
	}
}

// CurrentState returns the current FSM state (thread-safe).
func (fsm *AgentFSM) CurrentState() AgentState {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	return fsm.state
}

// IsIdle reports whether no cycle is in progress.
func (fsm *AgentFSM) IsIdle() bool {
	return fsm.CurrentState() == StateIdle
}

// Can reports whether event is valid in the current state.
func (fsm *AgentFSM) Can(event AgentEvent) bool {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	_, ok := lookup(fsm.state, event)
	return ok
}

func lookup(from AgentState, event AgentEvent) (AgentState, bool) {
	for _, t := range validTransitions {
		if t.From == from && t.Event == event {
			return t.To, true
		}
	}
	return "", false
}

// --- Core Transition ---

// Transition moves the FSM from its current state via the given event and returns
// the record. It wraps ErrInvalidTransition if the event is not allowed.
func (fsm *AgentFSM) Transition(event AgentEvent, cycle uint64) (StateTransition, error) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	fromState := fsm.state
	targetState, ok := lookup(fromState, event)
	if !ok {
		return StateTransition{}, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, fromState, event)
	}

	now := time.Now()
	duration := now.Sub(fsm.lastTransAt).Milliseconds()

	record := StateTransition{
		ID:          uuid.New().String(),
		WorkspaceID: fsm.WorkspaceID,
		FromState:   fromState,
		ToState:     targetState,
		Event:       event,
		Timestamp:   now,
		Cycle:       cycle,
		DurationMs:  duration,
	}

	fsm.state = targetState
	fsm.lastTransAt = now
	fsm.history = append(fsm.history, record)
	if len(fsm.history) > fsm.historyCap {
		fsm.history = append(fsm.history[:0:0], fsm.history[len(fsm.history)-fsm.historyCap:]...)
	}

	metrics.Get().RecordTransition(string(fromState), string(targetState))
	logging.Named("fsm").Debug("state transition",
		zap.String("workspace_id", fsm.WorkspaceID),
		zap.String("from", string(fromState)),
		zap.String("event", string(event)),
		zap.String("to", string(targetState)),
		zap.Uint64("cycle", cycle),
		zap.Int64("elapsed_ms", duration))

	return record, nil
}

// --- History ---

// History returns a copy of the retained state transitions.
func (fsm *AgentFSM) History() []StateTransition {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	result := make([]StateTransition, len(fsm.history))
	copy(result, fsm.history)
	return result
}
