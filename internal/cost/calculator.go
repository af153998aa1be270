// Package cost attributes USD spend to classifier tokens and search queries.
package cost

import "github.com/sells-group/screening-cli/internal/config"

// Rates holds per-provider pricing.
type Rates struct {
	Anthropic map[string]ModelRate
	// PerQuery is the flat price of one search call, keyed by provider name.
	PerQuery map[string]float64
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64
	Output        float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig layers configured prices over DefaultRates.
func FromConfig(p config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for model, mp := range p.Anthropic {
		rates.Anthropic[model] = ModelRate{
			Input:         mp.Input,
			Output:        mp.Output,
			CacheWriteMul: mp.CacheWriteMul,
			CacheReadMul:  mp.CacheReadMul,
		}
	}
	if p.Serper.PerQuery > 0 {
		rates.PerQuery["serper"] = p.Serper.PerQuery
	}
	if p.Jina.PerQuery > 0 {
		rates.PerQuery["jina"] = p.Jina.PerQuery
	}
	return NewCalculator(rates)
}

// Claude computes the cost of a Claude call. Unknown models cost 0, as
// does every call on a nil Calculator.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	if c == nil {
		return 0
	}
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul
	return inCost + outCost + cwCost + crCost
}

// Queries computes the cost of n search calls against provider.
func (c *Calculator) Queries(provider string, n int) float64 {
	if c == nil {
		return 0
	}
	return c.rates.PerQuery[provider] * float64(n)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		PerQuery: map[string]float64{
			"serper": 0.001,
			"jina":   0.0005,
		},
	}
}
