// Package validator implements the rule-based consistency validator for
// pagination state, with diagnostic snapshots and snapshot-based,
// clean-state, or incremental recovery.
package validator

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumina-social/feedcore/pkg/feed"
)

// Prometheus metrics for validation and recovery.
var (
	feedValidationFindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_validation_findings_total",
		Help: "Total validation rule findings by rule and severity",
	}, []string{"rule", "severity"})

	feedRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_recoveries_total",
		Help: "Total state recoveries by mode",
	}, []string{"mode"})
)

// Finding is one rule violation.
type Finding struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// Report aggregates the findings of one validation pass. Info findings
// are tracked but do not affect IsValid.
type Report struct {
	IsValid  bool      `json:"is_valid"`
	Errors   []Finding `json:"errors,omitempty"`
	Warnings []Finding `json:"warnings,omitempty"`
	Infos    []Finding `json:"infos,omitempty"`

	// SnapshotID references the diagnostic snapshot captured during the
	// validation pass.
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// Messages flattens the error and warning details into human-readable
// strings.
func (r Report) Messages() []string {
	out := make([]string, 0, len(r.Errors)+len(r.Warnings))
	for _, finding := range r.Errors {
		out = append(out, fmt.Sprintf("%s: %s", finding.Rule, finding.Detail))
	}
	for _, finding := range r.Warnings {
		out = append(out, fmt.Sprintf("%s: %s", finding.Rule, finding.Detail))
	}
	return out
}

// Config holds the validator configuration.
type Config struct {
	// SnapshotLimit bounds the retained snapshot collection.
	SnapshotLimit int

	// ExtraRules are evaluated after the built-in rule set.
	ExtraRules []Rule
}

// Validator runs consistency rules over pagination state and repairs
// state that fails them.
type Validator struct {
	mu sync.Mutex

	rules         []Rule
	snapshots     []Snapshot
	snapshotLimit int

	logger zerolog.Logger
}

// New creates a validator with the built-in rule set.
func New(cfg Config) *Validator {
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = DefaultSnapshotLimit
	}

	rules := defaultRules()
	rules = append(rules, cfg.ExtraRules...)

	return &Validator{
		rules:         rules,
		snapshotLimit: cfg.SnapshotLimit,
		logger:        log.With().Str("component", "validator").Logger(),
	}
}

// ValidateStateConsistency runs every rule against state, aggregates the
// findings by severity, and captures a diagnostic snapshot tagged with
// the result. A rule that panics is downgraded to an error-severity
// finding instead of crashing the pass.
func (v *Validator) ValidateStateConsistency(state *feed.PaginationState) Report {
	report := Report{IsValid: true}

	if state == nil {
		report.IsValid = false
		report.Errors = append(report.Errors, Finding{
			Rule:     "state-present",
			Severity: SeverityError,
			Detail:   "pagination state is nil",
		})
		feedValidationFindingsTotal.WithLabelValues("state-present", string(SeverityError)).Inc()
		return report
	}

	for _, rule := range v.rules {
		finding, violated := v.runRule(rule, state)
		if !violated {
			continue
		}

		feedValidationFindingsTotal.WithLabelValues(finding.Rule, string(finding.Severity)).Inc()

		switch finding.Severity {
		case SeverityError:
			report.IsValid = false
			report.Errors = append(report.Errors, finding)
		case SeverityWarning:
			report.Warnings = append(report.Warnings, finding)
		default:
			report.Infos = append(report.Infos, finding)
		}
	}

	report.SnapshotID = v.CaptureSnapshot(state, "validation", "consistency check", map[string]string{
		"valid": fmt.Sprintf("%t", report.IsValid),
	})
	v.attachValidation(report.SnapshotID, report)

	if !report.IsValid {
		v.logger.Warn().
			Int("errors", len(report.Errors)).
			Int("warnings", len(report.Warnings)).
			Str("snapshot_id", report.SnapshotID).
			Msg("State failed consistency validation")
	}

	return report
}

// runRule evaluates one rule, converting panics into error findings.
func (v *Validator) runRule(rule Rule, state *feed.PaginationState) (finding Finding, violated bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error().
				Str("rule", rule.Name).
				Interface("panic", r).
				Msg("Validation rule panicked")
			finding = Finding{
				Rule:     rule.Name,
				Severity: SeverityError,
				Detail:   fmt.Sprintf("rule failed internally: %v", r),
			}
			violated = true
		}
	}()

	ok, detail := rule.Check(state)
	if ok {
		return Finding{}, false
	}
	return Finding{Rule: rule.Name, Severity: rule.Severity, Detail: detail}, true
}
