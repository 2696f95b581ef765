package session

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		role string
		tool string
		want Channel
	}{
		{"user turn", RoleUser, "", ChannelUserToLLM},
		{"user naming a tool still user channel", RoleUser, "calculate", ChannelUserToLLM},
		{"assistant with tool", RoleAssistant, "calculate", ChannelLLMToTool},
		{"assistant without tool", RoleAssistant, "", ChannelToolToLLM},
		{"tool role", RoleTool, "", ChannelToolToLLM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.role, tt.tool); got != tt.want {
				t.Errorf("Classify(%q, %q): expected %s, got %s", tt.role, tt.tool, tt.want, got)
			}
		})
	}
}

func TestAppendStepMaintainsTotals(t *testing.T) {
	sess := &Session{ID: "s1"}

	steps := []Step{
		{StepID: 1, LatencyMs: 10, TokensIn: 5, TokensOut: 0, CostEstimate: 0.000005},
		{StepID: 2, LatencyMs: 250, TokensIn: 12, TokensOut: 40, CostEstimate: 0.000092},
		{StepID: 3, LatencyMs: 3, TokensIn: 0, TokensOut: 0, CostEstimate: 0},
	}
	for _, step := range steps {
		sess.appendStep(step)
	}

	var wantLatency int64
	var wantIn, wantOut int
	var wantCost float64
	for _, step := range sess.Steps {
		wantLatency += step.LatencyMs
		wantIn += step.TokensIn
		wantOut += step.TokensOut
		wantCost += step.CostEstimate
	}

	if sess.TotalLatencyMs != wantLatency {
		t.Errorf("Expected total latency %d, got %d", wantLatency, sess.TotalLatencyMs)
	}
	if sess.TotalTokensIn != wantIn {
		t.Errorf("Expected total tokens in %d, got %d", wantIn, sess.TotalTokensIn)
	}
	if sess.TotalTokensOut != wantOut {
		t.Errorf("Expected total tokens out %d, got %d", wantOut, sess.TotalTokensOut)
	}
	if sess.TotalCost != wantCost {
		t.Errorf("Expected total cost %f, got %f", wantCost, sess.TotalCost)
	}
}
