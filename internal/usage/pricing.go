// Package usage records token counts and derived cost for completed calls.
package usage

import "sync"

// ModelPricing is expressed in USD per million tokens.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

var defaultPricing = map[string]ModelPricing{
	"glm-4.7": {InputPerMillion: 0.60, OutputPerMillion: 2.20},
}

type Costs struct {
	Input  float64
	Output float64
	Total  float64
}

type Calculator struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
}

func NewCalculator() *Calculator {
	pricing := make(map[string]ModelPricing, len(defaultPricing))
	for model, p := range defaultPricing {
		pricing[model] = p
	}
	return &Calculator{pricing: pricing}
}

// Calculate reports false when the model has no pricing entry. Callers must
// keep that case distinct from a zero cost.
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int) (Costs, bool) {
	c.mu.RLock()
	pricing, ok := c.pricing[model]
	c.mu.RUnlock()
	if !ok {
		return Costs{}, false
	}

	input := float64(inputTokens) / 1_000_000 * pricing.InputPerMillion
	output := float64(outputTokens) / 1_000_000 * pricing.OutputPerMillion

	return Costs{Input: input, Output: output, Total: input + output}, true
}

func (c *Calculator) SetPricing(model string, pricing ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[model] = pricing
}
