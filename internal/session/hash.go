package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/AltairaLabs/evalharness/internal/policy"
)

// rulesHashLen is the truncated hex length of the configuration hash.
const rulesHashLen = 16

// RulesHash computes the stable configuration hash used as the deduplication
// partition key. It is a pure function of (model, guardrails configuration,
// policy): identical configurations hash identically across processes and
// runs, which is what makes cross-run signal reuse safe. encoding/json
// serializes map keys in sorted order, giving a canonical form.
func RulesHash(model string, guardrailsConfig map[string]any, policyCfg policy.Config) (string, error) {
	payload := struct {
		Model      string         `json:"model"`
		Guardrails map[string]any `json:"guardrails"`
		Policy     policy.Config  `json:"policy"`
	}{
		Model:      model,
		Guardrails: guardrailsConfig,
		Policy:     policyCfg,
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize rules hash input: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:rulesHashLen], nil
}
