// Package orchestrator implements the unified load-more handler: strategy
// selection across server-fetch, client-paginate, and auto-fetch,
// single-flight concurrency control, state-machine driving, and applying
// results back into the shared pagination state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumina-social/feedcore/pkg/autofetch"
	"github.com/lumina-social/feedcore/pkg/feed"
	"github.com/lumina-social/feedcore/pkg/filter"
	"github.com/lumina-social/feedcore/pkg/statemachine"
	"github.com/lumina-social/feedcore/pkg/validator"
)

// Prometheus metrics for load-more orchestration.
var (
	feedLoadMoreRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_loadmore_requests_total",
		Help: "Total load-more requests by strategy and status",
	}, []string{"strategy", "status"})

	feedLoadMoreRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_loadmore_rejected_total",
		Help: "Total load-more requests rejected before execution by reason",
	}, []string{"reason"})

	feedLoadMoreDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_loadmore_duration_seconds",
		Help:    "Load-more operation duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
)

// Strategy tags one of the three load-more algorithms.
type Strategy string

const (
	// StrategyServerFetch pages by fetching from the upstream source.
	StrategyServerFetch Strategy = "server-fetch"

	// StrategyClientPaginate reveals already-filtered posts held in memory.
	StrategyClientPaginate Strategy = "client-paginate"

	// StrategyAutoFetch expands the data set in the background to satisfy
	// active filters. DetermineStrategy surfaces it as server-fetch for
	// callers; Result.Strategy reports it explicitly.
	StrategyAutoFetch Strategy = "auto-fetch"
)

// Errors returned in Result.Err.
var (
	// ErrInvalidState means pagination state failed consistency validation.
	ErrInvalidState = errors.New("invalid state")

	// ErrRequestInProgress means another load-more operation is active.
	ErrRequestInProgress = errors.New("request already in progress")

	// ErrTransitionFailed means the state machine rejected the loading
	// transition.
	ErrTransitionFailed = errors.New("failed to transition to loading state")

	// ErrCancelled means the operation was cancelled before completing.
	ErrCancelled = errors.New("request cancelled")
)

// Result is the outcome of one HandleLoadMore call. Callers always
// receive a Result; failures are reported through Err, never panics.
type Result struct {
	Success   bool        `json:"success"`
	NewPosts  []feed.Post `json:"new_posts"`
	HasMore   bool        `json:"has_more"`
	Strategy  Strategy    `json:"strategy"`
	RequestID string      `json:"request_id,omitempty"`
	Err       error       `json:"-"`

	// Error is Err rendered for transport.
	Error string `json:"error,omitempty"`
}

func failedResult(strategy Strategy, requestID string, err error) *Result {
	return &Result{
		Strategy:  strategy,
		RequestID: requestID,
		Err:       err,
		Error:     err.Error(),
	}
}

// RequestStatus describes the currently active operation, if any.
type RequestStatus struct {
	IsActive  bool     `json:"is_active"`
	RequestID string   `json:"request_id,omitempty"`
	Strategy  Strategy `json:"strategy,omitempty"`
}

// Defaults for Config fields left at their zero value.
const (
	DefaultAutoFetchPostCeiling = 100
	DefaultIdleResetDelay       = 100 * time.Millisecond
	DefaultClientPageDelay      = 10 * time.Millisecond
)

// Config holds the orchestrator configuration.
type Config struct {
	// AutoFetchPostCeiling is the loaded-post count beyond which the
	// auto-fetch strategy is no longer selected.
	AutoFetchPostCeiling int

	// IdleResetDelay is the grace period between reaching a terminal
	// state and resetting to idle, so observers can see the terminal
	// state first.
	IdleResetDelay time.Duration

	// ClientPageDelay is the artificial micro-delay of the
	// client-paginate strategy, keeping its interface async-consistent
	// with the fetching strategies.
	ClientPageDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		AutoFetchPostCeiling: DefaultAutoFetchPostCeiling,
		IdleResetDelay:       DefaultIdleResetDelay,
		ClientPageDelay:      DefaultClientPageDelay,
	}
}

func (c *Config) normalize() {
	if c.AutoFetchPostCeiling <= 0 {
		c.AutoFetchPostCeiling = DefaultAutoFetchPostCeiling
	}
	if c.IdleResetDelay <= 0 {
		c.IdleResetDelay = DefaultIdleResetDelay
	}
	if c.ClientPageDelay <= 0 {
		c.ClientPageDelay = DefaultClientPageDelay
	}
}

// Options bundles the explicitly constructed collaborators. The
// orchestrator takes ownership of State and mutates it in place; all
// other components only read it.
type Options struct {
	Config Config

	// State is the session's pagination state. A clean baseline is
	// created when nil.
	State *feed.PaginationState

	// Machine drives the load-more lifecycle. A memory-only machine is
	// created when nil.
	Machine *statemachine.Machine

	// AutoFetch, Filter, and Validator default to engines with default
	// configuration when nil.
	AutoFetch *autofetch.Engine
	Filter    *filter.Engine
	Validator *validator.Validator

	// Fetch is the upstream page-indexed fetch. Required.
	Fetch feed.FetchFunc
}

// Orchestrator is the top-level load-more handler for one feed session.
type Orchestrator struct {
	mu sync.Mutex

	// stateMu guards the live pagination state. Strategies write under it;
	// snapshot and validation reads hold it shared, so the daemon's status
	// and validate endpoints can run concurrently with a load-more.
	stateMu sync.RWMutex

	state     *feed.PaginationState
	machine   *statemachine.Machine
	autoFetch *autofetch.Engine
	filter    *filter.Engine
	validator *validator.Validator
	fetchFn   feed.FetchFunc
	config    Config

	busy           bool
	requestID      string
	activeStrategy Strategy
	cancelActive   context.CancelFunc

	logger zerolog.Logger
}

// New creates an orchestrator for a feed session.
func New(opts Options) (*Orchestrator, error) {
	if opts.Fetch == nil {
		return nil, errors.New("orchestrator: fetch function is required")
	}

	opts.Config.normalize()

	if opts.State == nil {
		opts.State = feed.NewPaginationState()
	}
	if opts.Machine == nil {
		opts.Machine = statemachine.New(statemachine.Config{})
	}
	if opts.AutoFetch == nil {
		opts.AutoFetch = autofetch.NewEngine(autofetch.DefaultConfig())
	}
	if opts.Filter == nil {
		opts.Filter = filter.NewEngine(filter.DefaultConfig())
	}
	if opts.Validator == nil {
		opts.Validator = validator.New(validator.Config{})
	}

	return &Orchestrator{
		state:     opts.State,
		machine:   opts.Machine,
		autoFetch: opts.AutoFetch,
		filter:    opts.Filter,
		validator: opts.Validator,
		fetchFn:   opts.Fetch,
		config:    opts.Config,
		logger:    log.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// State returns the live pagination state for single-goroutine embedding.
// Callers must treat it as read-only and must not touch it while an
// operation is in flight; concurrent readers use StateSnapshot.
func (o *Orchestrator) State() *feed.PaginationState {
	return o.state
}

// StateSnapshot returns a deep copy of the pagination state, safe to read
// while a load-more operation is mutating the live state.
func (o *Orchestrator) StateSnapshot() *feed.PaginationState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state.Clone()
}

// Machine returns the session's state machine.
func (o *Orchestrator) Machine() *statemachine.Machine {
	return o.machine
}

// DetermineStrategy selects the load-more strategy for the current
// state. The auto-fetch path is surfaced as server-fetch, preserving the
// original caller-visible surface; Result.Strategy reports the executed
// strategy explicitly.
func (o *Orchestrator) DetermineStrategy() Strategy {
	public, _ := o.selectStrategy()
	return public
}

// selectStrategy returns the caller-visible tag and the internally
// executed strategy.
func (o *Orchestrator) selectStrategy() (public, internal Strategy) {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	s := o.state

	if s.FiltersActive() && len(s.DisplayPosts) > len(s.PaginatedPosts) {
		return StrategyClientPaginate, StrategyClientPaginate
	}

	if s.FiltersActive() &&
		len(s.DisplayPosts) < s.PostsPerPage &&
		s.HasMorePosts &&
		len(s.AllPosts) < o.config.AutoFetchPostCeiling {
		return StrategyServerFetch, StrategyAutoFetch
	}

	return StrategyServerFetch, StrategyServerFetch
}

// HandleLoadMore runs one load-more operation end to end: validation,
// single-flight admission, state-machine transition, strategy execution,
// and result application. It never panics; strategy failures drive the
// machine to error and surface in Result.Err.
func (o *Orchestrator) HandleLoadMore(ctx context.Context) *Result {
	start := time.Now()
	defer func() {
		feedLoadMoreDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	// Invalid state is fatal for this call but recoverable for the
	// session; no state-machine transition happens.
	if report := o.ValidateState(); !report.IsValid {
		feedLoadMoreRejectedTotal.WithLabelValues("invalid_state").Inc()
		err := fmt.Errorf("%w: %s", ErrInvalidState, strings.Join(report.Messages(), "; "))
		o.logger.Warn().Err(err).Msg("Load more rejected by validation")
		return failedResult("", "", err)
	}

	// Exhausted feed: nothing upstream and nothing hidden behind the
	// visible prefix. Succeed without touching the state machine.
	o.stateMu.RLock()
	exhausted := !o.state.HasMorePosts && len(o.state.PaginatedPosts) >= len(o.state.DisplayPosts)
	o.stateMu.RUnlock()
	if exhausted {
		public, _ := o.selectStrategy()
		return &Result{Success: true, NewPosts: []feed.Post{}, HasMore: false, Strategy: public}
	}

	// Single-flight admission: a second call while one is outstanding is
	// rejected, not queued.
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		feedLoadMoreRejectedTotal.WithLabelValues("in_progress").Inc()
		return failedResult("", "", ErrRequestInProgress)
	}

	public, internal := o.selectStrategy()
	requestID := uuid.NewString()
	opCtx, cancel := context.WithCancel(ctx)

	o.busy = true
	o.requestID = requestID
	o.activeStrategy = public
	o.cancelActive = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.busy = false
		o.requestID = ""
		o.activeStrategy = ""
		o.cancelActive = nil
		o.mu.Unlock()
		cancel()
		o.scheduleIdleReset()
	}()

	loadingState := statemachine.StateLoadingServer
	switch internal {
	case StrategyClientPaginate:
		loadingState = statemachine.StateLoadingClient
	case StrategyAutoFetch:
		loadingState = statemachine.StateAutoFetching
	}

	if !o.machine.Transition(loadingState, "load more requested", map[string]string{
		"strategy":   string(internal),
		"request_id": requestID,
	}) {
		feedLoadMoreRejectedTotal.WithLabelValues("transition_rejected").Inc()
		return failedResult(public, requestID, ErrTransitionFailed)
	}

	o.logger.Info().
		Str("request_id", requestID).
		Str("strategy", string(internal)).
		Int("current_page", o.state.CurrentPage).
		Msg("Executing load more")

	result := o.executeStrategy(opCtx, internal, requestID)

	if result.Success {
		o.machine.Transition(statemachine.StateComplete, "strategy succeeded", map[string]string{
			"request_id": requestID,
			"new_posts":  fmt.Sprintf("%d", len(result.NewPosts)),
		})
		feedLoadMoreRequestsTotal.WithLabelValues(string(result.Strategy), "success").Inc()
	} else {
		o.machine.Transition(statemachine.StateError, "strategy failed", map[string]string{
			"request_id": requestID,
			"error":      result.Error,
		})
		feedLoadMoreRequestsTotal.WithLabelValues(string(result.Strategy), "error").Inc()
		o.logger.Warn().
			Str("request_id", requestID).
			Err(result.Err).
			Msg("Load more failed")
	}

	return result
}

// executeStrategy dispatches to the chosen strategy, converting panics
// into a failed result so the caller never sees an unhandled crash.
func (o *Orchestrator) executeStrategy(ctx context.Context, internal Strategy, requestID string) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("request_id", requestID).
				Interface("panic", r).
				Msg("Strategy panicked")
			result = failedResult(internal, requestID, fmt.Errorf("strategy panicked: %v", r))
		}
	}()

	switch internal {
	case StrategyClientPaginate:
		return o.executeClientPaginate(ctx, requestID)
	case StrategyAutoFetch:
		return o.executeAutoFetch(ctx, requestID)
	default:
		return o.executeServerFetch(ctx, requestID)
	}
}

// scheduleIdleReset returns the machine to idle after the grace delay so
// UI observers can see the terminal state first.
func (o *Orchestrator) scheduleIdleReset() {
	go func() {
		time.Sleep(o.config.IdleResetDelay)
		if o.machine.CanTransition(statemachine.StateIdle) {
			o.machine.Transition(statemachine.StateIdle, "post-operation reset", nil)
		}
	}()
}

// CancelPendingRequests cancels the active operation's token, clears the
// busy flag, and forces the state machine back to idle regardless of
// whether the in-flight call has observed the cancellation yet.
func (o *Orchestrator) CancelPendingRequests() {
	o.mu.Lock()
	cancel := o.cancelActive
	o.busy = false
	o.requestID = ""
	o.activeStrategy = ""
	o.cancelActive = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	o.machine.ForceRecovery()
	o.logger.Info().Msg("Pending requests cancelled")
}

// GetRequestStatus reports the active operation, if any.
func (o *Orchestrator) GetRequestStatus() RequestStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	return RequestStatus{
		IsActive:  o.busy,
		RequestID: o.requestID,
		Strategy:  o.activeStrategy,
	}
}

// ValidateState runs the consistency validator over the live state.
func (o *Orchestrator) ValidateState() validator.Report {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.validator.ValidateStateConsistency(o.state)
}

// ShouldAutoFetch exposes the decision engine over the live state.
func (o *Orchestrator) ShouldAutoFetch(dctx autofetch.DecisionContext) autofetch.Decision {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.autoFetch.ShouldAutoFetch(o.state, dctx)
}

// RecoverState repairs the live state through the validator. Recovery is
// rejected while a load-more operation is in flight; repairing a state
// mid-mutation would race the running strategy.
func (o *Orchestrator) RecoverState(opts validator.RecoveryOptions) (validator.RecoveryResult, error) {
	o.mu.Lock()
	busy := o.busy
	o.mu.Unlock()
	if busy {
		return validator.RecoveryResult{}, ErrRequestInProgress
	}

	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.validator.RecoverFromInconsistentState(o.state, opts), nil
}

// classifyCancellation maps context and auto-fetch cancellation flavors
// onto ErrCancelled so callers can distinguish them from hard failures.
func classifyCancellation(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled),
		errors.Is(err, autofetch.ErrFetchCancelled):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	default:
		return err
	}
}
