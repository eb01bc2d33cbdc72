// Package filter implements the smart filter engine: the deterministic
// filter/sort pipeline over the in-memory post set, result quality
// validation, and bounded auto-expansion through an injected fetch
// callback when the filtered set is too thin.
package filter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// Prometheus metrics for filter operations.
var (
	feedFilterDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_filter_duration_seconds",
		Help:    "Filter pipeline duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	feedFilterExpansionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_filter_expansions_total",
		Help: "Total filter expansion attempts by result status",
	}, []string{"status"})
)

// Defaults for Config fields left at their zero value.
const (
	DefaultMinResultsThreshold  = 10
	DefaultQualityThreshold     = 0.15
	DefaultMaxExpansionAttempts = 3
	DefaultExpansionBatchSize   = 50
)

const statsHistoryLimit = 50

// Config holds the filter engine configuration.
type Config struct {
	// MinResultsThreshold is the filtered-result count considered
	// sufficient.
	MinResultsThreshold int

	// QualityThreshold is the minimum acceptable filter efficiency
	// (filtered/total).
	QualityThreshold float64

	// MaxExpansionAttempts caps expansions per logical filter operation.
	MaxExpansionAttempts int

	// ExpansionBatchSize is the fixed batch size requested per expansion.
	ExpansionBatchSize int

	// DisableExpansion turns auto-expansion off entirely.
	DisableExpansion bool
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MinResultsThreshold:  DefaultMinResultsThreshold,
		QualityThreshold:     DefaultQualityThreshold,
		MaxExpansionAttempts: DefaultMaxExpansionAttempts,
		ExpansionBatchSize:   DefaultExpansionBatchSize,
	}
}

func (c *Config) normalize() {
	if c.MinResultsThreshold <= 0 {
		c.MinResultsThreshold = DefaultMinResultsThreshold
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	if c.MaxExpansionAttempts <= 0 {
		c.MaxExpansionAttempts = DefaultMaxExpansionAttempts
	}
	if c.ExpansionBatchSize <= 0 {
		c.ExpansionBatchSize = DefaultExpansionBatchSize
	}
}

// ExpandFunc fetches and integrates one additional batch of posts into
// the session, returning the posts that were added. Implementations are
// expected to degrade gracefully; a returned error only stops further
// expansion, it never corrupts the filtered result.
type ExpandFunc func(ctx context.Context, batchSize int) ([]feed.Post, error)

// ValidationResult rates the quality of a filtered result set. Findings
// are advisory strings, never errors.
type ValidationResult struct {
	IsValid               bool     `json:"is_valid"`
	HasMinimumResults     bool     `json:"has_minimum_results"`
	MeetsQualityThreshold bool     `json:"meets_quality_threshold"`
	FilterEfficiency      float64  `json:"filter_efficiency"`
	Warnings              []string `json:"warnings,omitempty"`
	Recommendations       []string `json:"recommendations,omitempty"`
}

// Result is the outcome of one ApplyFiltersAndSearch call.
type Result struct {
	Posts             []feed.Post      `json:"posts"`
	TotalProcessed    int              `json:"total_processed"`
	TotalMatched      int              `json:"total_matched"`
	Validation        ValidationResult `json:"validation"`
	Expanded          bool             `json:"expanded"`
	ExpansionAttempts int              `json:"expansion_attempts"`
	Duration          time.Duration    `json:"duration"`
}

// operationStats is one recorded filter pass.
type operationStats struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Processed  int           `json:"processed"`
	Matched    int           `json:"matched"`
	Efficiency float64       `json:"efficiency"`
	Expanded   bool          `json:"expanded"`
}

// Engine applies the filter pipeline and expands the data set when the
// result is too thin.
type Engine struct {
	mu sync.Mutex

	config  Config
	history []operationStats

	expansionAttempts  int
	expansionSuccesses int

	logger zerolog.Logger
}

// NewEngine creates a filter engine.
func NewEngine(cfg Config) *Engine {
	cfg.normalize()
	return &Engine{
		config: cfg,
		logger: log.With().Str("component", "filter").Logger(),
	}
}

// ApplyFiltersAndSearch runs the filter pipeline over allPosts and, when
// the result is insufficient and expansion is possible, grows the data
// set through expandFn and re-filters. Expansion failures are swallowed:
// the pre-expansion result is kept intact.
func (e *Engine) ApplyFiltersAndSearch(
	ctx context.Context,
	allPosts []feed.Post,
	filters, searchFilters feed.Filters,
	searchResults *feed.SearchResults,
	isSearchActive bool,
	state *feed.PaginationState,
	expandFn ExpandFunc,
) Result {
	e.mu.Lock()
	cfg := e.config
	e.mu.Unlock()

	start := time.Now()
	now := time.Now()

	working := allPosts
	filtered := applyPipeline(working, filters, searchFilters, searchResults, isSearchActive, now)
	validation := e.validate(len(filtered), len(working), cfg)

	result := Result{
		Posts:          filtered,
		TotalProcessed: len(working),
		TotalMatched:   len(filtered),
		Validation:     validation,
	}

	attempts := 0
	for e.shouldExpand(result, state, cfg, attempts) && expandFn != nil && !cfg.DisableExpansion {
		attempts++

		e.mu.Lock()
		e.expansionAttempts++
		e.mu.Unlock()

		added, err := expandFn(ctx, cfg.ExpansionBatchSize)
		if err != nil || len(added) == 0 {
			feedFilterExpansionsTotal.WithLabelValues("failed").Inc()
			e.logger.Warn().
				Err(err).
				Int("attempt", attempts).
				Int("added", len(added)).
				Msg("Filter expansion produced nothing, keeping current result")
			break
		}

		feedFilterExpansionsTotal.WithLabelValues("success").Inc()
		e.mu.Lock()
		e.expansionSuccesses++
		e.mu.Unlock()

		working = append(append([]feed.Post{}, working...), added...)
		filtered = applyPipeline(working, filters, searchFilters, searchResults, isSearchActive, now)
		validation = e.validate(len(filtered), len(working), cfg)

		result = Result{
			Posts:          filtered,
			TotalProcessed: len(working),
			TotalMatched:   len(filtered),
			Validation:     validation,
			Expanded:       true,
		}

		e.logger.Info().
			Int("attempt", attempts).
			Int("added", len(added)).
			Int("matched", len(filtered)).
			Msg("Filter expansion applied")
	}

	result.ExpansionAttempts = attempts
	result.Duration = time.Since(start)

	feedFilterDurationSeconds.Observe(result.Duration.Seconds())
	e.record(operationStats{
		StartedAt:  start,
		Duration:   result.Duration,
		Processed:  result.TotalProcessed,
		Matched:    result.TotalMatched,
		Efficiency: Efficiency(result.TotalMatched, result.TotalProcessed),
		Expanded:   result.Expanded,
	})

	return result
}

// shouldExpand applies the expansion decision: more data upstream, under
// the attempt ceiling, and either failed validation or a result that is
// both very thin and low quality.
func (e *Engine) shouldExpand(result Result, state *feed.PaginationState, cfg Config, attempts int) bool {
	if state == nil || !state.HasMorePosts {
		return false
	}
	if attempts >= cfg.MaxExpansionAttempts {
		return false
	}

	if !result.Validation.IsValid {
		return true
	}

	thin := result.TotalMatched < cfg.MinResultsThreshold/2
	lowQuality := result.Validation.FilterEfficiency < cfg.QualityThreshold
	return thin && lowQuality
}

// validate rates the filtered result quality against the configured
// thresholds.
func (e *Engine) validate(matched, processed int, cfg Config) ValidationResult {
	efficiency := Efficiency(matched, processed)

	v := ValidationResult{
		HasMinimumResults:     matched >= cfg.MinResultsThreshold,
		MeetsQualityThreshold: efficiency >= cfg.QualityThreshold,
		FilterEfficiency:      efficiency,
	}
	v.IsValid = v.HasMinimumResults && v.MeetsQualityThreshold

	if !v.HasMinimumResults {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"only %d filtered results, below minimum of %d", matched, cfg.MinResultsThreshold))
		v.Recommendations = append(v.Recommendations,
			"load more posts or relax the active filters")
	}
	if !v.MeetsQualityThreshold {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"filter efficiency %.2f below quality threshold %.2f", efficiency, cfg.QualityThreshold))
		v.Recommendations = append(v.Recommendations,
			"current filters match few of the loaded posts; consider broadening them")
	}

	return v
}

// Efficiency is the share of processed posts that survived filtering.
// Returns 0 when nothing was processed.
func Efficiency(matched, processed int) float64 {
	if processed == 0 {
		return 0
	}
	return float64(matched) / float64(processed)
}

func (e *Engine) record(stats operationStats) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, stats)
	if len(e.history) > statsHistoryLimit {
		e.history = e.history[len(e.history)-statsHistoryLimit:]
	}
}

// Statistics summarizes recent filter operations.
type Statistics struct {
	OperationCount       int              `json:"operation_count"`
	AverageDuration      time.Duration    `json:"average_duration"`
	AverageEfficiency    float64          `json:"average_efficiency"`
	ExpansionAttempts    int              `json:"expansion_attempts"`
	ExpansionSuccessRate float64          `json:"expansion_success_rate"`
	RecentOperations     []operationStats `json:"recent_operations"`
}

// GetFilterStatistics exposes the rolling operation history.
func (e *Engine) GetFilterStatistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Statistics{
		OperationCount:    len(e.history),
		ExpansionAttempts: e.expansionAttempts,
	}

	if len(e.history) > 0 {
		var totalDuration time.Duration
		var totalEfficiency float64
		for _, op := range e.history {
			totalDuration += op.Duration
			totalEfficiency += op.Efficiency
		}
		stats.AverageDuration = totalDuration / time.Duration(len(e.history))
		stats.AverageEfficiency = totalEfficiency / float64(len(e.history))

		recent := e.history
		if len(recent) > 10 {
			recent = recent[len(recent)-10:]
		}
		stats.RecentOperations = append([]operationStats{}, recent...)
	}

	if e.expansionAttempts > 0 {
		stats.ExpansionSuccessRate = float64(e.expansionSuccesses) / float64(e.expansionAttempts)
	}

	return stats
}
