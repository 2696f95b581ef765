// Package guardrails defines the contracts for the two external safety
// collaborators the harness talks to: the guardrails aggregator that computes
// safety signals, and the deduplication service that lets previously computed
// signals be reused across runs with identical configuration.
package guardrails

import (
	"context"
	"time"
)

// StageSession is the evaluation stage recorded on per-step fingerprints.
const StageSession = "session"

// Signal is one guardrail finding attached to a step or a preflight result.
type Signal struct {
	Provider string         `json:"provider"`
	Category string         `json:"category"`
	Severity string         `json:"severity,omitempty"`
	Score    float64        `json:"score,omitempty"`
	Detail   string         `json:"detail,omitempty"`
	Reused   bool           `json:"reused,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// PreflightResult is the outcome of the aggregator's session preflight check.
type PreflightResult struct {
	Pass    bool               `json:"pass"`
	Signals []Signal           `json:"signals,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// SessionContext is the information handed to the aggregator at preflight.
type SessionContext struct {
	SessionID string         `json:"session_id"`
	Model     string         `json:"model"`
	RulesHash string         `json:"rules_hash"`
	Tools     []string       `json:"tools,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// Aggregator computes guardrail signals. Its scoring internals are opaque to
// the harness; any implementation satisfying this contract is acceptable.
type Aggregator interface {
	// RunPreflight evaluates session-level policy once at session start.
	RunPreflight(ctx context.Context, sc SessionContext) (*PreflightResult, error)
	// Evaluate computes a fresh signal for one category over step output.
	Evaluate(ctx context.Context, category, text string) (*Signal, error)
	// Categories lists the per-step categories this aggregator evaluates.
	Categories() []string
}

// Fingerprint is the stable identity of one reusable guardrail signal.
type Fingerprint struct {
	ProviderID string `json:"provider_id"`
	MetricID   string `json:"metric_id"`
	Stage      string `json:"stage"`
	Model      string `json:"model"`
	RulesHash  string `json:"rules_hash"`
}

// Key returns the canonical string form used as a lookup key.
func (f Fingerprint) Key() string {
	return f.ProviderID + "|" + f.MetricID + "|" + f.Stage + "|" + f.Model + "|" + f.RulesHash
}

// DedupService answers whether a guardrail signal has already been computed
// for an identical configuration. Implementations must be safe for concurrent
// use by independent sessions; the harness only reads from it.
type DedupService interface {
	// CreateFingerprint builds the dedup key for one (provider, metric) pair.
	CreateFingerprint(providerID, metricID, stage, model, rulesHash string) Fingerprint
	// CheckSignalReusable returns a previously computed signal for the
	// fingerprint, or (nil, nil) when none is available.
	CheckSignalReusable(ctx context.Context, providerID, metricID, stage, model, rulesHash string) (*Signal, error)
}

// SignalWriter is the optional write half of a dedup backend; the default
// in-memory store implements it so fresh signals become reusable.
type SignalWriter interface {
	StoreSignal(ctx context.Context, fp Fingerprint, signal *Signal, ttl time.Duration) error
}
