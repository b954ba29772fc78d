package openrouter

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	PromptPrice     float64
	CompletionPrice float64
}

// Small, cheap models are enough for date arithmetic; the table covers the
// ones worth configuring for resolver.provider = "openrouter".
var modelPricing = map[string]ModelPricing{
	"openai/gpt-4o-mini":                {PromptPrice: 0.15, CompletionPrice: 0.60},
	"openai/gpt-4o":                     {PromptPrice: 2.50, CompletionPrice: 10.00},
	"openai/gpt-4.1-mini":               {PromptPrice: 0.40, CompletionPrice: 1.60},
	"anthropic/claude-3.5-haiku":        {PromptPrice: 0.80, CompletionPrice: 4.00},
	"anthropic/claude-3-haiku":          {PromptPrice: 0.25, CompletionPrice: 1.25},
	"google/gemini-flash-1.5":           {PromptPrice: 0.075, CompletionPrice: 0.30},
	"google/gemini-2.0-flash-001":       {PromptPrice: 0.10, CompletionPrice: 0.40},
	"meta-llama/llama-3.1-8b-instruct":  {PromptPrice: 0.055, CompletionPrice: 0.055},
	"meta-llama/llama-3.1-70b-instruct": {PromptPrice: 0.52, CompletionPrice: 0.75},
}

// DefaultPricingFallback is charged per request when the model is not in
// the table, so unknown models still count against the spend guard.
const DefaultPricingFallback = 0.01

// CalculateCost returns the USD cost of one call.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, found := modelPricing[model]
	if !found {
		return DefaultPricingFallback
	}
	return float64(promptTokens)/1_000_000*pricing.PromptPrice +
		float64(completionTokens)/1_000_000*pricing.CompletionPrice
}

// GetPricing returns pricing information for a model, if available
func GetPricing(model string) (ModelPricing, bool) {
	pricing, found := modelPricing[model]
	return pricing, found
}
