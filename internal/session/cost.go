package session

// Rates are the per-1000-token prices used by the cost estimator. This is a
// deliberately simple linear model, not a pricing-accuracy requirement.
type Rates struct {
	InputPer1K  float64 `json:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" mapstructure:"output_per_1k"`
}

// DefaultRates returns the default per-1000-token rates
func DefaultRates() Rates {
	return Rates{
		InputPer1K:  0.001,
		OutputPer1K: 0.002,
	}
}

// Cost estimates the cost of one step from its token counts.
func (r Rates) Cost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1000*r.InputPer1K + float64(tokensOut)/1000*r.OutputPer1K
}

// TextCaps are the per-field truncation limits applied before step text is
// stored. Raw untruncated text is never kept on a step.
type TextCaps struct {
	Input  int `json:"input" mapstructure:"input"`
	Output int `json:"output" mapstructure:"output"`
}

// DefaultTextCaps returns the default truncation limits
func DefaultTextCaps() TextCaps {
	return TextCaps{
		Input:  100,
		Output: 200,
	}
}
