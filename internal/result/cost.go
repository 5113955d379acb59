// Package result validates and processes callbacks from the external
// pipeline runner, then fans out reconciliation.
package result

import (
	"math"

	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Pricing converts token counts to a dollar cost.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// DefaultPricing matches the provider's published per-million-token rates.
var DefaultPricing = Pricing{InputPerMTok: 5.0, OutputPerMTok: 25.0}

// TotalTokens sums all counts including thinking tokens. Nil counts are
// zero.
func TotalTokens(tokens *v1.TokenCounts) int64 {
	if tokens == nil {
		return 0
	}
	var total int64
	if tokens.Input != nil {
		total += *tokens.Input
	}
	if tokens.Output != nil {
		total += *tokens.Output
	}
	if tokens.Thinking != nil {
		total += *tokens.Thinking
	}
	return total
}

// Cost prices input and output tokens, rounded to 6 decimals. Thinking
// tokens count toward usage but are not billed separately.
func (p Pricing) Cost(tokens *v1.TokenCounts) float64 {
	if tokens == nil {
		return 0
	}
	var input, output int64
	if tokens.Input != nil {
		input = *tokens.Input
	}
	if tokens.Output != nil {
		output = *tokens.Output
	}
	cost := float64(input)/1e6*p.InputPerMTok + float64(output)/1e6*p.OutputPerMTok
	return math.Round(cost*1e6) / 1e6
}
