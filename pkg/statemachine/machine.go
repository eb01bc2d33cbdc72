// Package statemachine implements the finite-state machine governing the
// lifecycle of a single load-more operation, with best-effort persistence,
// bounded transition history, and circuit-breaker style error recovery.
package statemachine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for state machine operations.
var (
	feedStateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_state_transitions_total",
		Help: "Total accepted state transitions by source and target state",
	}, []string{"from", "to"})

	feedStateTransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_state_transitions_rejected_total",
		Help: "Total rejected state transitions by source and target state",
	}, []string{"from", "to"})

	feedStateCircuitBreakerResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_state_circuit_breaker_resets_total",
		Help: "Total forced resets triggered by repeated error transitions",
	})

	feedStatePersistFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_state_persist_failures_total",
		Help: "Total failed attempts to persist the state machine snapshot",
	})
)

// State is one lifecycle phase of a load-more operation.
type State string

const (
	StateIdle          State = "idle"
	StateLoadingServer State = "loading-server"
	StateLoadingClient State = "loading-client"
	StateAutoFetching  State = "auto-fetching"
	StateComplete      State = "complete"
	StateError         State = "error"
)

// allowedTransitions is the directed edge table. Anything not listed is
// rejected. Complete and error are not terminal; both return to idle.
var allowedTransitions = map[State][]State{
	StateIdle:          {StateLoadingServer, StateLoadingClient, StateAutoFetching, StateComplete},
	StateLoadingServer: {StateComplete, StateError},
	StateLoadingClient: {StateComplete, StateError},
	StateAutoFetching:  {StateComplete, StateError},
	StateComplete:      {StateIdle},
	StateError:         {StateIdle},
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// TransitionRecord documents one accepted transition.
type TransitionRecord struct {
	Previous  State             `json:"previous_state"`
	New       State             `json:"new_state"`
	Timestamp time.Time         `json:"timestamp"`
	Reason    string            `json:"reason"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ErrNoValidState is returned by RecoverToLastValidState when no usable
// last valid state exists.
var ErrNoValidState = errors.New("statemachine: no valid last state to recover to")

// PersistKey is the fixed key the machine snapshot is written under.
const PersistKey = "feedcore:statemachine:v1"

// Defaults for Config fields left at their zero value.
const (
	DefaultHistoryLimit = 50
	DefaultErrorCeiling = 5
)

// Config holds the state machine configuration.
type Config struct {
	// InitialState overrides the default idle start, e.g. for warm restarts.
	InitialState State

	// HistoryLimit bounds the in-memory transition history ring.
	HistoryLimit int

	// ErrorCeiling is the error-transition count that triggers a forced
	// reset to idle (circuit breaker).
	ErrorCeiling int

	// Store is the durable persistence backend. Optional; without it the
	// machine is memory-only.
	Store Store
}

// persistedSnapshot is the JSON form written to the store on every
// accepted transition.
type persistedSnapshot struct {
	CurrentState       State              `json:"current_state"`
	LastValidState     State              `json:"last_valid_state"`
	TransitionHistory  []TransitionRecord `json:"transition_history"`
	ErrorCount         int                `json:"error_count"`
	LastErrorTimestamp time.Time          `json:"last_error_timestamp"`
}

// Machine is the load-more lifecycle state machine. All methods are safe
// for concurrent use, though the orchestrator's single-flight discipline
// means transitions are in practice strictly sequential.
type Machine struct {
	mu sync.Mutex

	current   State
	lastValid State

	history []TransitionRecord

	errorCount  int
	lastErrorAt time.Time

	config Config
	logger zerolog.Logger
}

// New creates a state machine, restoring any persisted snapshot from the
// configured store. Malformed persisted data is treated as absent.
func New(cfg Config) *Machine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.ErrorCeiling <= 0 {
		cfg.ErrorCeiling = DefaultErrorCeiling
	}

	initial := cfg.InitialState
	if !initial.IsValid() {
		initial = StateIdle
	}

	m := &Machine{
		current:   initial,
		lastValid: initial,
		config:    cfg,
		logger:    log.With().Str("component", "statemachine").Logger(),
	}

	m.restore()

	return m
}

// restore loads the persisted snapshot, if any. Corruption never
// propagates; the machine falls back to its configured initial state.
func (m *Machine) restore() {
	if m.config.Store == nil {
		return
	}

	raw, err := m.config.Store.Get(PersistKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn().Err(err).Msg("Failed to load persisted state, starting fresh")
		}
		return
	}

	var snap persistedSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		m.logger.Warn().Err(err).Msg("Persisted state is malformed, starting fresh")
		return
	}
	if !snap.CurrentState.IsValid() {
		m.logger.Warn().
			Str("state", string(snap.CurrentState)).
			Msg("Persisted state names an unknown state, starting fresh")
		return
	}

	m.current = snap.CurrentState
	if snap.LastValidState.IsValid() {
		m.lastValid = snap.LastValidState
	}
	m.history = snap.TransitionHistory
	if len(m.history) > m.config.HistoryLimit {
		m.history = m.history[len(m.history)-m.config.HistoryLimit:]
	}
	m.errorCount = snap.ErrorCount
	if m.errorCount < 0 {
		m.errorCount = 0
	}
	m.lastErrorAt = snap.LastErrorTimestamp

	// A snapshot persisted at or beyond the ceiling must not resume in a
	// wedged error loop; the breaker trips on restore instead of waiting
	// for the next error transition.
	if m.errorCount >= m.config.ErrorCeiling {
		m.tripCircuitBreaker()
		m.persist()
		return
	}

	m.logger.Info().
		Str("state", string(m.current)).
		Int("history_len", len(m.history)).
		Msg("Restored persisted state machine snapshot")
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// LastValid returns the last non-error state the machine occupied.
func (m *Machine) LastValid() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastValid
}

// History returns a copy of the bounded transition history, oldest first.
func (m *Machine) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// ErrorCount returns the current consecutive error-transition count.
func (m *Machine) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorCount
}

// CanTransition reports whether the edge current -> target exists.
func (m *Machine) CanTransition(target State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return edgeExists(m.current, target)
}

func edgeExists(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition attempts the edge current -> target. On success it appends a
// transition record, updates lastValid (unless target is error), persists
// the snapshot best-effort, and returns true. On failure the machine is
// unchanged and it returns false.
func (m *Machine) Transition(target State, reason string, metadata map[string]string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !edgeExists(m.current, target) {
		feedStateTransitionsRejectedTotal.WithLabelValues(string(m.current), string(target)).Inc()
		m.logger.Warn().
			Str("from", string(m.current)).
			Str("to", string(target)).
			Str("reason", reason).
			Msg("Transition rejected")
		return false
	}

	m.apply(target, reason, metadata)
	return true
}

// apply performs an already-authorized transition. Caller holds m.mu.
func (m *Machine) apply(target State, reason string, metadata map[string]string) {
	previous := m.current
	m.current = target

	m.appendRecord(TransitionRecord{
		Previous:  previous,
		New:       target,
		Timestamp: time.Now(),
		Reason:    reason,
		Metadata:  metadata,
	})

	feedStateTransitionsTotal.WithLabelValues(string(previous), string(target)).Inc()

	if target == StateError {
		m.errorCount++
		m.lastErrorAt = time.Now()

		m.logger.Warn().
			Str("from", string(previous)).
			Str("reason", reason).
			Int("error_count", m.errorCount).
			Msg("Entered error state")

		if m.errorCount >= m.config.ErrorCeiling {
			m.tripCircuitBreaker()
		}
	} else {
		m.lastValid = target

		m.logger.Debug().
			Str("from", string(previous)).
			Str("to", string(target)).
			Str("reason", reason).
			Msg("State transition")
	}

	m.persist()
}

// tripCircuitBreaker forces a full reset after repeated error transitions
// instead of letting the machine thrash. Caller holds m.mu.
func (m *Machine) tripCircuitBreaker() {
	m.logger.Error().
		Int("error_count", m.errorCount).
		Int("ceiling", m.config.ErrorCeiling).
		Msg("Error ceiling reached, forcing reset to idle")

	feedStateCircuitBreakerResetsTotal.Inc()

	m.appendRecord(TransitionRecord{
		Previous:  m.current,
		New:       StateIdle,
		Timestamp: time.Now(),
		Reason:    "circuit breaker: error ceiling reached",
	})

	m.current = StateIdle
	m.lastValid = StateIdle
	m.errorCount = 0
}

func (m *Machine) appendRecord(record TransitionRecord) {
	m.history = append(m.history, record)
	if len(m.history) > m.config.HistoryLimit {
		m.history = m.history[len(m.history)-m.config.HistoryLimit:]
	}
}

// persist writes the snapshot to the store. Failures are swallowed; the
// machine must remain usable without persistence. Caller holds m.mu.
func (m *Machine) persist() {
	if m.config.Store == nil {
		return
	}

	snap := persistedSnapshot{
		CurrentState:       m.current,
		LastValidState:     m.lastValid,
		TransitionHistory:  m.history,
		ErrorCount:         m.errorCount,
		LastErrorTimestamp: m.lastErrorAt,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		feedStatePersistFailuresTotal.Inc()
		m.logger.Warn().Err(err).Msg("Failed to marshal state snapshot")
		return
	}

	if err := m.config.Store.Set(PersistKey, string(data)); err != nil {
		feedStatePersistFailuresTotal.Inc()
		m.logger.Warn().Err(err).Msg("Failed to persist state snapshot")
	}
}

// RecoverToLastValidState transitions directly to the last valid state,
// bypassing the edge table. It is the controlled escape hatch for getting
// out of a wedged state without losing history.
func (m *Machine) RecoverToLastValidState() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastValid == "" || m.lastValid == StateError {
		return ErrNoValidState
	}

	previous := m.current
	m.current = m.lastValid

	m.appendRecord(TransitionRecord{
		Previous:  previous,
		New:       m.current,
		Timestamp: time.Now(),
		Reason:    "recovery to last valid state",
	})

	m.logger.Info().
		Str("from", string(previous)).
		Str("to", string(m.current)).
		Msg("Recovered to last valid state")

	m.persist()
	return nil
}

// ForceRecovery unconditionally resets the machine to idle, clearing the
// error count and last valid state.
func (m *Machine) ForceRecovery() {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.current
	m.current = StateIdle
	m.lastValid = StateIdle
	m.errorCount = 0

	m.appendRecord(TransitionRecord{
		Previous:  previous,
		New:       StateIdle,
		Timestamp: time.Now(),
		Reason:    "forced recovery",
	})

	m.logger.Info().
		Str("from", string(previous)).
		Msg("Forced recovery to idle")

	m.persist()
}

// Diagnosis is the advisory result of ValidateState.
type Diagnosis struct {
	Healthy  bool     `json:"healthy"`
	Warnings []string `json:"warnings"`
}

// Heuristic windows for ValidateState.
const (
	stuckStateCount    = 4
	stuckStateWindow   = 10 * time.Second
	rapidErrorCount    = 3
	rapidErrorLookback = 10
)

// ValidateState runs self-diagnosis heuristics over recent history. The
// findings are advisory warnings, never rejections.
func (m *Machine) ValidateState() Diagnosis {
	m.mu.Lock()
	defer m.mu.Unlock()

	var warnings []string

	// Repeated transitions into the same state within a short window
	// suggest a stuck loop.
	cutoff := time.Now().Add(-stuckStateWindow)
	perState := make(map[State]int)
	for _, record := range m.history {
		if record.Timestamp.Before(cutoff) {
			continue
		}
		perState[record.New]++
	}
	for state, count := range perState {
		if count >= stuckStateCount {
			warnings = append(warnings, fmt.Sprintf(
				"potential stuck state: %d transitions into %q within %s",
				count, state, stuckStateWindow))
		}
	}

	// Many error transitions among the most recent records suggest the
	// session is degrading.
	recent := m.history
	if len(recent) > rapidErrorLookback {
		recent = recent[len(recent)-rapidErrorLookback:]
	}
	errorTransitions := 0
	for _, record := range recent {
		if record.New == StateError {
			errorTransitions++
		}
	}
	if errorTransitions >= rapidErrorCount {
		warnings = append(warnings, fmt.Sprintf(
			"rapid error transitions: %d of last %d transitions entered error",
			errorTransitions, len(recent)))
	}

	return Diagnosis{
		Healthy:  len(warnings) == 0,
		Warnings: warnings,
	}
}
