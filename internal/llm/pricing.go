package llm

import "strings"

// Rate is the USD price per one million tokens
type Rate struct {
	In  float64
	Out float64
}

// defaultRates are matched by longest model-name prefix, so dated snapshots
// like gpt-4o-mini-2024-07-18 resolve to their family
var defaultRates = map[string]Rate{
	"gpt-4o-mini":  {In: 0.15, Out: 0.60},
	"gpt-4o":       {In: 2.50, Out: 10.00},
	"gpt-4.1-nano": {In: 0.10, Out: 0.40},
	"gpt-4.1-mini": {In: 0.40, Out: 1.60},
	"gpt-4.1":      {In: 2.00, Out: 8.00},
	"gpt-5-nano":   {In: 0.05, Out: 0.40},
	"gpt-5-mini":   {In: 0.25, Out: 2.00},
	"gpt-5":        {In: 1.25, Out: 10.00},
	"o4-mini":      {In: 1.10, Out: 4.40},
}

// Pricing computes call cost from token usage
type Pricing struct {
	rates    map[string]Rate
	override *Rate
}

// NewPricing returns the built-in rate table. A non-zero override applies to every model.
func NewPricing(override Rate) *Pricing {
	p := &Pricing{rates: defaultRates}
	if override.In > 0 || override.Out > 0 {
		p.override = &override
	}
	return p
}

// RateFor returns the rate for a model and whether it is known
func (p *Pricing) RateFor(model string) (Rate, bool) {
	if p.override != nil {
		return *p.override, true
	}
	model = strings.ToLower(model)
	best, bestLen := Rate{}, 0
	for prefix, rate := range p.rates {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = rate, len(prefix)
		}
	}
	return best, bestLen > 0
}

// Cost returns promptTokens*rate_in + completionTokens*rate_out in USD
func (p *Pricing) Cost(model string, usage Usage) float64 {
	rate, _ := p.RateFor(model)
	return float64(usage.PromptTokens)*rate.In/1e6 + float64(usage.CompletionTokens)*rate.Out/1e6
}
