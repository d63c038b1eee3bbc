package llm

// price is USD per million tokens.
type price struct {
	input, output float64
}

var prices = map[string]price{
	"gpt-4o":                 {2.50, 10.00},
	"gpt-4o-mini":            {0.15, 0.60},
	"text-embedding-3-small": {0.02, 0},

	"llama-3.1-8b-instant":    {0.05, 0.08},
	"llama-3.3-70b-versatile": {0.59, 0.79},

	"claude-3-haiku-20240307":  {0.25, 1.25},
	"claude-sonnet-4-20250514": {3.00, 15.00},
}

// usageFor prices a call. Unknown and local models cost nothing.
func usageFor(model string, inputTokens, outputTokens int) Usage {
	u := Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
	if p, ok := prices[model]; ok {
		u.CostUSD = (float64(inputTokens)*p.input + float64(outputTokens)*p.output) / 1e6
	}
	return u
}
