// Package autofetch implements the background expansion decision engine:
// it decides whether extra fetching is needed to satisfy active filters,
// sizes the fetch, and executes it with timeout, retry, and cancellation
// handling while tracking per-operation performance.
package autofetch

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// Prometheus metrics for auto-fetch decisions.
var (
	feedAutoFetchDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_autofetch_decisions_total",
		Help: "Total auto-fetch decisions by outcome reason",
	}, []string{"reason"})
)

// Rolling window sizes for performance tracking.
const (
	perfHistoryLimit = 50
	perfAvgWindow    = 10
)

// Reasons reported in Decision.Reason.
const (
	ReasonBasicRequirements = "basic requirements not met"
	ReasonSessionLimit      = "session limit reached"
	ReasonPerformance       = "performance threshold exceeded"
	ReasonSufficient        = "sufficient filtered results"
	ReasonInsufficient      = "insufficient filtered results"
)

// DecisionContext carries per-call inputs to ShouldAutoFetch.
type DecisionContext struct {
	// TargetResultsCount is how many filtered results the caller wants
	// available. Defaults to the configured MinResultsThreshold.
	TargetResultsCount int
}

// DecisionMetadata explains how a decision was computed.
type DecisionMetadata struct {
	FilterEfficiency    float64       `json:"filter_efficiency"`
	CurrentFiltered     int           `json:"current_filtered"`
	TotalLoaded         int           `json:"total_loaded"`
	SessionFetched      int           `json:"session_fetched"`
	AverageResponseTime time.Duration `json:"average_response_time"`
}

// Decision is the outcome of ShouldAutoFetch.
type Decision struct {
	ShouldFetch      bool             `json:"should_fetch"`
	Reason           string           `json:"reason"`
	TargetFetchCount int              `json:"target_fetch_count"`
	Confidence       float64          `json:"confidence"`
	Metadata         DecisionMetadata `json:"metadata"`
}

// operationRecord is one instrumented fetch attempt.
type operationRecord struct {
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Posts     int
}

// Engine decides whether background expansion is needed and executes the
// resulting fetches. One Engine spans one feed session.
type Engine struct {
	mu sync.Mutex

	config         Config
	sessionFetched int
	sessionStart   time.Time
	perf           []operationRecord

	logger zerolog.Logger
}

// NewEngine creates a decision engine for a new session.
func NewEngine(cfg Config) *Engine {
	cfg.normalize()
	return &Engine{
		config:       cfg,
		sessionStart: time.Now(),
		logger:       log.With().Str("component", "autofetch").Logger(),
	}
}

// ShouldAutoFetch evaluates whether a background fetch is warranted for
// the given state. It reads internal counters but performs no I/O.
func (e *Engine) ShouldAutoFetch(state *feed.PaginationState, dctx DecisionContext) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	totalLoaded := len(state.AllPosts)
	currentFiltered := state.Metadata.TotalFilteredPosts
	avgResponse := e.averageResponseTime(perfAvgWindow)

	metadata := DecisionMetadata{
		CurrentFiltered:     currentFiltered,
		TotalLoaded:         totalLoaded,
		SessionFetched:      e.sessionFetched,
		AverageResponseTime: avgResponse,
	}

	reject := func(reason string) Decision {
		feedAutoFetchDecisionsTotal.WithLabelValues(reason).Inc()
		e.logger.Debug().
			Str("reason", reason).
			Int("current_filtered", currentFiltered).
			Int("total_loaded", totalLoaded).
			Msg("Auto-fetch rejected")
		return Decision{ShouldFetch: false, Reason: reason, Metadata: metadata}
	}

	// Basic requirements: active filtering, more data upstream, and no
	// load already in flight.
	if !state.FiltersActive() || !state.HasMorePosts || state.IsLoadingMore || state.FetchInProgress {
		return reject(ReasonBasicRequirements)
	}

	if e.sessionFetched >= e.config.SessionCeiling {
		return reject(ReasonSessionLimit)
	}

	// Cold start is treated as acceptable: with no recorded operations
	// the rolling average is zero.
	if avgResponse > e.config.PerformanceThreshold {
		return reject(ReasonPerformance)
	}

	efficiency := filterEfficiency(currentFiltered, totalLoaded)
	metadata.FilterEfficiency = efficiency

	if currentFiltered >= e.config.MinResultsThreshold {
		return reject(ReasonSufficient)
	}

	target := dctx.TargetResultsCount
	if target <= 0 {
		target = e.config.MinResultsThreshold
	}

	count := e.estimateFetchCount(target, currentFiltered, efficiency)
	confidence := confidenceScore(efficiency, totalLoaded, currentFiltered)

	feedAutoFetchDecisionsTotal.WithLabelValues(ReasonInsufficient).Inc()
	e.logger.Info().
		Int("target_fetch_count", count).
		Float64("filter_efficiency", efficiency).
		Float64("confidence", confidence).
		Int("current_filtered", currentFiltered).
		Msg("Auto-fetch accepted")

	return Decision{
		ShouldFetch:      true,
		Reason:           ReasonInsufficient,
		TargetFetchCount: count,
		Confidence:       confidence,
		Metadata:         metadata,
	}
}

// filterEfficiency is the share of loaded posts surviving the filter
// pipeline, clamped to [0,1]. With nothing loaded yet it assumes 0.5.
func filterEfficiency(filtered, loaded int) float64 {
	if loaded == 0 {
		return 0.5
	}
	efficiency := float64(filtered) / float64(loaded)
	return clamp01(efficiency)
}

// estimateFetchCount sizes the fetch from the result deficit and observed
// efficiency, with a 1.5x safety margin. Caller holds e.mu.
func (e *Engine) estimateFetchCount(target, currentFiltered int, efficiency float64) int {
	const epsilon = 0.05

	deficit := target - currentFiltered
	if deficit < 1 {
		deficit = 1
	}

	estimated := int(math.Ceil(float64(deficit) / math.Max(efficiency, epsilon) * 1.5))

	if estimated < 1 {
		estimated = 1
	}
	if estimated > e.config.MaxAutoFetchPosts {
		estimated = e.config.MaxAutoFetchPosts
	}
	if remaining := e.config.SessionCeiling - e.sessionFetched; estimated > remaining {
		estimated = remaining
	}
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}

// confidenceScore rates how likely the fetch is to produce the wanted
// results: base 0.5, rewarded for efficiency and sample size, penalized
// for a near-empty result set.
func confidenceScore(efficiency float64, totalLoaded, currentFiltered int) float64 {
	score := 0.5 + 0.3*efficiency
	if totalLoaded > 30 {
		score += 0.1
	}
	if currentFiltered < 3 {
		score -= 0.2
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// averageResponseTime computes the rolling average over the most recent
// window operations. Returns 0 when no operations are recorded. Caller
// holds e.mu.
func (e *Engine) averageResponseTime(window int) time.Duration {
	records := e.perf
	if len(records) > window {
		records = records[len(records)-window:]
	}
	if len(records) == 0 {
		return 0
	}

	var total time.Duration
	for _, record := range records {
		total += record.Duration
	}
	return total / time.Duration(len(records))
}

// recordOperation appends a fetch attempt to the rolling history.
func (e *Engine) recordOperation(record operationRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.perf = append(e.perf, record)
	if len(e.perf) > perfHistoryLimit {
		e.perf = e.perf[len(e.perf)-perfHistoryLimit:]
	}
}

// Statistics summarizes the session for observability callers.
type Statistics struct {
	SessionFetched      int           `json:"session_fetched"`
	SessionDuration     time.Duration `json:"session_duration"`
	OperationCount      int           `json:"operation_count"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	SuccessRate         float64       `json:"success_rate"`
	Config              Config        `json:"config"`
}

// GetStatistics exposes the cumulative session counters, rolling
// performance, and the active configuration.
func (e *Engine) GetStatistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	successes := 0
	for _, record := range e.perf {
		if record.Success {
			successes++
		}
	}
	successRate := 0.0
	if len(e.perf) > 0 {
		successRate = float64(successes) / float64(len(e.perf))
	}

	return Statistics{
		SessionFetched:      e.sessionFetched,
		SessionDuration:     time.Since(e.sessionStart),
		OperationCount:      len(e.perf),
		AverageResponseTime: e.averageResponseTime(perfAvgWindow),
		SuccessRate:         successRate,
		Config:              e.config,
	}
}

// ResetSession zeroes the session counters and performance history.
func (e *Engine) ResetSession() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessionFetched = 0
	e.sessionStart = time.Now()
	e.perf = nil

	e.logger.Info().Msg("Auto-fetch session reset")
}

// UpdateConfig merges a partial configuration at runtime.
func (e *Engine) UpdateConfig(update ConfigUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if update.SessionCeiling != nil {
		e.config.SessionCeiling = *update.SessionCeiling
	}
	if update.MinResultsThreshold != nil {
		e.config.MinResultsThreshold = *update.MinResultsThreshold
	}
	if update.MaxAutoFetchPosts != nil {
		e.config.MaxAutoFetchPosts = *update.MaxAutoFetchPosts
	}
	if update.PerformanceThreshold != nil {
		e.config.PerformanceThreshold = *update.PerformanceThreshold
	}
	if update.FetchTimeout != nil {
		e.config.FetchTimeout = *update.FetchTimeout
	}
	if update.RetryAttempts != nil {
		e.config.RetryAttempts = *update.RetryAttempts
	}
	if update.RetryDelay != nil {
		e.config.RetryDelay = *update.RetryDelay
	}
	e.config.normalize()

	e.logger.Debug().
		Interface("config", e.config).
		Msg("Auto-fetch configuration updated")
}

// String renders a decision reason for logs.
func (d Decision) String() string {
	if d.ShouldFetch {
		return fmt.Sprintf("fetch %d posts (%s, confidence %.2f)", d.TargetFetchCount, d.Reason, d.Confidence)
	}
	return fmt.Sprintf("no fetch (%s)", d.Reason)
}
