// Package tokens estimates token counts for cost accounting. It uses a
// tiktoken encoding when one can be loaded for the model, falling back to a
// word-count heuristic otherwise.
package tokens

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens in text. A nil tokenizer means the word-count
// heuristic is in use.
type Estimator struct {
	tokenizer *tiktoken.Tiktoken
}

// NewEstimator creates an estimator for the given model. Unknown models fall
// back to the cl100k_base encoding; if no encoding can be loaded at all the
// estimator degrades to word counting rather than failing.
func NewEstimator(model string) *Estimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &Estimator{}
		}
	}
	return &Estimator{tokenizer: enc}
}

// NewHeuristicEstimator creates an estimator that always counts words.
// Deterministic, used in tests and offline environments.
func NewHeuristicEstimator() *Estimator {
	return &Estimator{}
}

// Count returns the estimated token count for text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.tokenizer != nil {
		return len(e.tokenizer.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}
