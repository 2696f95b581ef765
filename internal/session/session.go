// Package session implements the multi-step session harness: it drives a
// sequence of steps over a protocol client, enforcing schema and policy
// guards, tracking per-step cost and latency, and reusing guardrail signals
// through the deduplication service where possible.
package session

import (
	"time"

	"github.com/AltairaLabs/evalharness/internal/guardrails"
	"github.com/AltairaLabs/evalharness/internal/protocol"
)

// Decision is the terminal state of one step. Set exactly once when the step
// is constructed; never changed afterwards.
type Decision string

const (
	DecisionOK           Decision = "OK"
	DecisionDeniedSchema Decision = "DENIED_SCHEMA"
	DecisionDeniedPolicy Decision = "DENIED_POLICY"
	DecisionError        Decision = "ERROR"
)

// Channel classifies who is talking to whom in one step.
type Channel string

const (
	ChannelUserToLLM Channel = "USER_TO_LLM"
	ChannelLLMToTool Channel = "LLM_TO_TOOL"
	ChannelToolToLLM Channel = "TOOL_TO_LLM"
)

// Step roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Classify maps a step's role and tool selection to its channel. Pure
// function of the two inputs.
func Classify(role, toolName string) Channel {
	switch {
	case role == RoleUser:
		return ChannelUserToLLM
	case role == RoleAssistant && toolName != "":
		return ChannelLLMToTool
	default:
		return ChannelToolToLLM
	}
}

// Step is one unit of session activity. Text fields are truncated and tool
// arguments redacted before they are stored; a step never holds raw payloads.
// Immutable once returned by ExecuteStep.
type Step struct {
	StepID             int                 `json:"step_id"`
	Role               string              `json:"role"`
	Channel            Channel             `json:"channel"`
	InputText          string              `json:"input_text,omitempty"`
	OutputText         string              `json:"output_text,omitempty"`
	SelectedTool       string              `json:"selected_tool,omitempty"`
	ToolArgs           map[string]string   `json:"tool_args,omitempty"`
	ToolMeta           map[string]string   `json:"tool_meta,omitempty"`
	Decision           Decision            `json:"decision"`
	Error              string              `json:"error,omitempty"`
	LatencyMs          int64               `json:"latency_ms"`
	TokensIn           int                 `json:"tokens_in"`
	TokensOut          int                 `json:"tokens_out"`
	CostEstimate       float64             `json:"cost_estimate"`
	GuardrailSignals   []guardrails.Signal `json:"guardrail_signals,omitempty"`
	ReusedFingerprints []string            `json:"reused_fingerprints,omitempty"`
}

// Session is one ordered sequence of steps sharing a single connection and
// configuration. Mutated only by ExecuteStep (append step, update totals) and
// CloseSession (finalize). Not safe for concurrent use; each session is
// driven by exactly one task.
type Session struct {
	ID        string                      `json:"session_id"`
	Model     string                      `json:"model"`
	RulesHash string                      `json:"rules_hash"`
	Tools     []protocol.ToolDescriptor   `json:"tools,omitempty"`
	Preflight *guardrails.PreflightResult `json:"preflight,omitempty"`
	Steps     []Step                      `json:"steps"`

	TotalLatencyMs int64   `json:"total_latency_ms"`
	TotalTokensIn  int     `json:"total_tokens_in"`
	TotalTokensOut int     `json:"total_tokens_out"`
	TotalCost      float64 `json:"total_cost"`

	StartedAt time.Time `json:"started_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`

	toolIndex map[string]*protocol.ToolDescriptor
}

// Tool returns the discovered descriptor for a tool name.
func (s *Session) Tool(name string) (*protocol.ToolDescriptor, bool) {
	desc, ok := s.toolIndex[name]
	return desc, ok
}

// appendStep records a finished step and folds its metrics into the running
// totals, keeping totals equal to the sum over all appended steps.
func (s *Session) appendStep(step Step) {
	s.Steps = append(s.Steps, step)
	s.TotalLatencyMs += step.LatencyMs
	s.TotalTokensIn += step.TokensIn
	s.TotalTokensOut += step.TokensOut
	s.TotalCost += step.CostEstimate
}

// indexTools builds the name lookup over discovered descriptors.
func (s *Session) indexTools() {
	s.toolIndex = make(map[string]*protocol.ToolDescriptor, len(s.Tools))
	for i := range s.Tools {
		s.toolIndex[s.Tools[i].Name] = &s.Tools[i]
	}
}
