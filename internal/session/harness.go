package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/AltairaLabs/evalharness/internal/guardrails"
	"github.com/AltairaLabs/evalharness/internal/policy"
	"github.com/AltairaLabs/evalharness/internal/protocol"
	"github.com/AltairaLabs/evalharness/internal/redact"
	"github.com/AltairaLabs/evalharness/internal/tokens"
)

// dryRunTokensOut is the nominal output token count for simulated tool calls.
const dryRunTokensOut = 5

// ToolClient is the protocol-client surface the harness drives. Satisfied by
// mcpclient.Client; tests substitute fakes.
type ToolClient interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*protocol.InvocationResult, error)
	Close() error
}

// StepRequest is the caller's description of one step to execute.
type StepRequest struct {
	Role      string         `json:"role"`
	InputText string         `json:"input_text,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

// Options configures a Harness. Zero-value fields fall back to defaults;
// Aggregator, Dedup and Metrics are optional collaborators.
type Options struct {
	Model            string
	Policy           policy.Config
	GuardrailsConfig map[string]any
	Aggregator       guardrails.Aggregator
	Dedup            guardrails.DedupService
	Estimator        *tokens.Estimator
	Rates            Rates
	Caps             TextCaps
	Metrics          *Metrics
	Logger           *slog.Logger
}

// Harness orchestrates multi-step sessions over one protocol client. All
// configuration is fixed at construction; the rules hash derived from it
// partitions reusable guardrail signals.
type Harness struct {
	client     ToolClient
	model      string
	policy     policy.Config
	gcfg       map[string]any
	aggregator guardrails.Aggregator
	dedup      guardrails.DedupService
	estimator  *tokens.Estimator
	rates      Rates
	caps       TextCaps
	metrics    *Metrics
	logger     *slog.Logger
	rulesHash  string
}

// NewHarness creates a session harness over the given client.
func NewHarness(client ToolClient, opts Options) (*Harness, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if opts.Estimator == nil {
		opts.Estimator = tokens.NewHeuristicEstimator()
	}
	if opts.Rates == (Rates{}) {
		opts.Rates = DefaultRates()
	}
	if opts.Caps == (TextCaps{}) {
		opts.Caps = DefaultTextCaps()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	hash, err := RulesHash(opts.Model, opts.GuardrailsConfig, opts.Policy)
	if err != nil {
		return nil, err
	}

	return &Harness{
		client:     client,
		model:      opts.Model,
		policy:     opts.Policy,
		gcfg:       opts.GuardrailsConfig,
		aggregator: opts.Aggregator,
		dedup:      opts.Dedup,
		estimator:  opts.Estimator,
		rates:      opts.Rates,
		caps:       opts.Caps,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		rulesHash:  hash,
	}, nil
}

// RulesHash returns the harness configuration hash.
func (h *Harness) RulesHash() string {
	return h.rulesHash
}

// StartSession connects the client, discovers tools, and runs the guardrails
// preflight check when an aggregator is configured. A failed preflight is
// recorded on the session but does not prevent it from starting; the
// FailClosed policy flag changes that for subsequent tool steps. Only
// transport and protocol failures abort.
func (h *Harness) StartSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := h.client.Connect(ctx); err != nil {
		return nil, err
	}
	discovered, err := h.client.ListTools(ctx)
	if err != nil {
		// The connection is unusable for this session; release it.
		_ = h.client.Close()
		return nil, err
	}

	sess := &Session{
		ID:        sessionID,
		Model:     h.model,
		RulesHash: h.rulesHash,
		Tools:     discovered,
		StartedAt: time.Now(),
	}
	sess.indexTools()

	if h.aggregator != nil {
		names := make([]string, 0, len(discovered))
		for _, desc := range discovered {
			names = append(names, desc.Name)
		}
		pre, err := h.aggregator.RunPreflight(ctx, guardrails.SessionContext{
			SessionID: sessionID,
			Model:     h.model,
			RulesHash: h.rulesHash,
			Tools:     names,
			Config:    h.gcfg,
		})
		if err != nil {
			h.logger.WarnContext(ctx, "guardrails preflight unavailable", "session_id", sessionID, "error", err)
		} else {
			sess.Preflight = pre
			if !pre.Pass {
				h.logger.WarnContext(ctx, "guardrails preflight did not pass",
					"session_id", sessionID,
					"signals", len(pre.Signals),
					"fail_closed", h.policy.FailClosed,
				)
			}
		}
	}

	h.logger.InfoContext(ctx, "session started",
		"session_id", sessionID,
		"model", h.model,
		"rules_hash", h.rulesHash,
		"tools", len(discovered),
	)
	return sess, nil
}

// ExecuteStep runs one step through the decision chain and appends it to the
// session. Guard denials and tool-level errors are terminal step decisions,
// never Go errors: the step record always comes back, so a session runs to
// completion with a full, inspectable transcript.
func (h *Harness) ExecuteStep(ctx context.Context, sess *Session, req StepRequest) *Step {
	start := time.Now()

	step := Step{
		StepID:       len(sess.Steps) + 1,
		Role:         req.Role,
		Channel:      Classify(req.Role, req.Tool),
		InputText:    redact.Truncate(req.InputText, h.caps.Input),
		SelectedTool: req.Tool,
	}
	if req.Tool != "" {
		step.ToolArgs = redact.Args(req.Args)
	}

	switch {
	case len(sess.Steps) >= h.policy.StepCap():
		// Step cap reached: record elapsed time only, no further processing.
		step.Decision = DecisionDeniedPolicy
		step.Error = fmt.Sprintf("session step cap reached (%d)", h.policy.StepCap())
	case req.Tool == "":
		h.runTurn(&step, req)
	default:
		h.runToolStep(ctx, sess, &step, req)
	}

	step.LatencyMs = time.Since(start).Milliseconds()
	step.CostEstimate = h.rates.Cost(step.TokensIn, step.TokensOut)

	h.applyGuardrails(ctx, &step)

	sess.appendStep(step)
	h.metrics.ObserveStep(&step)
	h.logger.DebugContext(ctx, "step executed",
		"session_id", sess.ID,
		"step_id", step.StepID,
		"decision", step.Decision,
		"tool", step.SelectedTool,
		"latency_ms", step.LatencyMs,
	)
	return &sess.Steps[len(sess.Steps)-1]
}

// CloseSession finalizes the session and releases the client connection.
// Safe to call when StartSession partially failed or the connection is
// already closed.
func (h *Harness) CloseSession(sess *Session) error {
	if sess != nil && sess.ClosedAt.IsZero() {
		sess.ClosedAt = time.Now()
	}
	if err := h.client.Close(); err != nil {
		h.logger.Warn("error closing client connection", "error", err)
	}
	if sess != nil {
		h.logger.Info("session closed",
			"session_id", sess.ID,
			"steps", len(sess.Steps),
			"total_latency_ms", sess.TotalLatencyMs,
			"total_tokens_in", sess.TotalTokensIn,
			"total_tokens_out", sess.TotalTokensOut,
			"total_cost", sess.TotalCost,
		)
	}
	return nil
}

// runTurn handles a pure user/assistant turn with no tool selection.
func (h *Harness) runTurn(step *Step, req StepRequest) {
	step.TokensIn = h.estimator.Count(req.InputText)
	step.Decision = DecisionOK
}

// runToolStep walks a tool-naming step through the guard chain: schema guard,
// policy guard, then dry-run simulation or real invocation.
func (h *Harness) runToolStep(ctx context.Context, sess *Session, step *Step, req StepRequest) {
	if desc, ok := sess.Tool(req.Tool); ok && len(desc.InputSchema) > 0 {
		if err := validateArgs(desc.InputSchema, req.Args); err != nil {
			step.Decision = DecisionDeniedSchema
			step.Error = err.Error()
			return
		}
	}

	if !h.policy.Allows(req.Tool) {
		step.Decision = DecisionDeniedPolicy
		step.Error = fmt.Sprintf("tool %q is not in the allowlist", req.Tool)
		return
	}
	if h.policy.NoNetwork && policy.TouchesNetwork(req.Tool, req.Args) {
		step.Decision = DecisionDeniedPolicy
		step.Error = fmt.Sprintf("tool %q denied under no-network policy", req.Tool)
		return
	}
	if h.policy.FailClosed && sess.Preflight != nil && !sess.Preflight.Pass {
		step.Decision = DecisionDeniedPolicy
		step.Error = "guardrails preflight failed and policy is fail-closed"
		return
	}

	if h.policy.DryRun {
		step.OutputText = redact.Truncate(fmt.Sprintf("[dry-run] simulated output for %s", req.Tool), h.caps.Output)
		step.TokensIn = h.estimator.Count(req.InputText)
		step.TokensOut = dryRunTokensOut
		step.Decision = DecisionOK
		return
	}

	result, err := h.client.CallTool(ctx, req.Tool, req.Args)
	if err != nil {
		// Transport or protocol failure during the call is captured on the
		// step so the session can continue.
		step.Decision = DecisionError
		step.Error = err.Error()
		return
	}
	if result.IsError() {
		step.Decision = DecisionError
		step.Error = result.Err
		return
	}

	step.OutputText = redact.Truncate(result.Text, h.caps.Output)
	step.ToolMeta = result.Meta
	step.TokensIn = h.estimator.Count(req.InputText)
	step.TokensOut = h.estimator.Count(result.Text)
	step.Decision = DecisionOK
}

// applyGuardrails attaches per-step guardrail signals, consulting the
// deduplication service first. Advisory by default: any collaborator failure
// leaves that category's signal empty and execution continues.
func (h *Harness) applyGuardrails(ctx context.Context, step *Step) {
	if h.aggregator == nil || step.OutputText == "" {
		return
	}

	for _, category := range h.aggregator.Categories() {
		providerID := category + "-provider"

		if h.dedup != nil {
			reusable, err := h.dedup.CheckSignalReusable(ctx, providerID, category, guardrails.StageSession, h.model, h.rulesHash)
			if err != nil {
				h.logger.WarnContext(ctx, "dedup lookup failed", "category", category, "error", err)
				continue
			}
			if reusable != nil {
				signal := *reusable
				signal.Reused = true
				step.GuardrailSignals = append(step.GuardrailSignals, signal)
				fp := h.dedup.CreateFingerprint(providerID, category, guardrails.StageSession, h.model, h.rulesHash)
				step.ReusedFingerprints = append(step.ReusedFingerprints, fp.Key())
				h.metrics.ObserveReuse()
				continue
			}
		}

		signal, err := h.aggregator.Evaluate(ctx, category, step.OutputText)
		if err != nil {
			h.logger.WarnContext(ctx, "guardrail evaluation failed", "category", category, "error", err)
			continue
		}
		if signal == nil {
			continue
		}
		step.GuardrailSignals = append(step.GuardrailSignals, *signal)

		// Make the fresh signal reusable for identically configured runs.
		if writer, ok := h.dedup.(guardrails.SignalWriter); ok {
			fp := h.dedup.CreateFingerprint(providerID, category, guardrails.StageSession, h.model, h.rulesHash)
			if err := writer.StoreSignal(ctx, fp, signal, 0); err != nil {
				h.logger.WarnContext(ctx, "storing guardrail signal failed", "category", category, "error", err)
			}
		}
	}
}

// validateArgs checks tool arguments against the tool's structural input
// schema. A schema that cannot be evaluated denies the call (fail closed).
func validateArgs(schema map[string]any, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}
