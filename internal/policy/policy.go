// Package policy holds the declarative execution policy consumed by the
// session harness: tool allow-list, network restriction, dry-run mode, and
// the per-session step cap.
package policy

import (
	"fmt"
	"strings"
)

// DefaultMaxSteps is the step cap applied when none is configured.
const DefaultMaxSteps = 10

// networkMarkers are substrings that flag a tool name or string argument as
// network-touching when NoNetwork is set.
var networkMarkers = []string{
	"http", "url", "fetch", "api", "endpoint", "web", "internet",
}

// Config is the execution policy for one harness. Read-only after harness
// construction.
type Config struct {
	// Allowlist names the tools permitted to run. Empty means all tools.
	Allowlist []string `json:"allowlist" mapstructure:"allowlist"`
	// NoNetwork denies tools that look like they reach the network.
	NoNetwork bool `json:"no_network" mapstructure:"no_network"`
	// DryRun simulates tool execution instead of invoking the provider.
	DryRun bool `json:"dry_run" mapstructure:"dry_run"`
	// MaxSteps caps the number of steps per session.
	MaxSteps int `json:"max_steps" mapstructure:"max_steps"`
	// FailClosed denies all tool steps after a failed guardrails preflight.
	FailClosed bool `json:"fail_closed" mapstructure:"fail_closed"`
}

// DefaultConfig returns a permissive policy with the default step cap
func DefaultConfig() Config {
	return Config{
		MaxSteps: DefaultMaxSteps,
	}
}

// Validate checks if the policy configuration is valid
func (c *Config) Validate() error {
	if c.MaxSteps < 0 {
		return fmt.Errorf("MaxSteps must be non-negative")
	}
	return nil
}

// StepCap returns the effective step limit, falling back to the default when
// none is set.
func (c *Config) StepCap() int {
	if c.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return c.MaxSteps
}

// Allows reports whether the named tool passes the allow-list. An empty
// allow-list permits every tool.
func (c *Config) Allows(toolName string) bool {
	if len(c.Allowlist) == 0 {
		return true
	}
	for _, name := range c.Allowlist {
		if name == toolName {
			return true
		}
	}
	return false
}

// TouchesNetwork reports whether a tool call looks like it reaches the
// network, based on markers in the tool name and its string arguments. The
// heuristic is intentionally coarse; false positives are acceptable under a
// no-network policy.
func TouchesNetwork(toolName string, args map[string]any) bool {
	if containsMarker(toolName) {
		return true
	}
	for _, v := range args {
		if s, ok := v.(string); ok && containsMarker(s) {
			return true
		}
	}
	return false
}

func containsMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range networkMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
