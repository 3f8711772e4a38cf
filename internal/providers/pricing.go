package providers

// modelPricing gives input/output token costs per 1M tokens in USD, ported
// from graph/cost.go's defaultModelPricing table (itself
// sourced from each provider's published pricing), trimmed to the model
// ids modelsByProvider actually resolves.
var modelPricing = map[string]struct{ inputPer1M, outputPer1M float64 }{
	"gpt-4o":                     {2.50, 10.00},
	"gpt-4o-mini":                {0.15, 0.60},
	"gpt-4-turbo":                {10.00, 30.00},
	"gpt-4":                      {30.00, 60.00},
	"gpt-3.5-turbo":              {0.50, 1.50},
	"gemini-1.5-flash":           {0.075, 0.30},
	"gemini-1.5-pro":             {1.25, 10.00},
	"gemini-2.0-flash-exp":       {0.10, 0.40},
	"gemini-pro":                 {0.50, 1.50},
	"claude-3-5-sonnet-20240620": {3.00, 15.00},
	"claude-3-opus-20240229":     {15.00, 75.00},
	"claude-3-sonnet-20240229":   {3.00, 15.00},
	"claude-3-haiku-20240307":    {0.25, 1.25},
}

// EstimateCostUSD computes one completion's cost: (tokens / 1M) * price,
// the same formula as graph/cost.go's CostTracker.RecordLLMCall. An
// unrecognized model id costs 0 rather than erroring, matching the
// graph/cost.go's "still record but with zero cost" fallback.
func EstimateCostUSD(modelID string, promptTokens, completionTokens int) float64 {
	p, ok := modelPricing[modelID]
	if !ok {
		return 0
	}
	inputCost := float64(promptTokens) / 1_000_000.0 * p.inputPer1M
	outputCost := float64(completionTokens) / 1_000_000.0 * p.outputPer1M
	return inputCost + outputCost
}
