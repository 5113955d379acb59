package result

import (
	"testing"

	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

func i64(v int64) *int64 { return &v }

func TestCostAndTokensReferenceExample(t *testing.T) {
	tokens := &v1.TokenCounts{
		Input:    i64(150000),
		Output:   i64(30000),
		Thinking: i64(5000),
	}

	if total := TotalTokens(tokens); total != 185000 {
		t.Errorf("TotalTokens = %d, want 185000", total)
	}
	if cost := DefaultPricing.Cost(tokens); cost != 1.50 {
		t.Errorf("Cost = %v, want 1.50", cost)
	}
}

func TestCostTreatsNilCountsAsZero(t *testing.T) {
	tokens := &v1.TokenCounts{Output: i64(1000000)}

	if cost := DefaultPricing.Cost(tokens); cost != 25.0 {
		t.Errorf("Cost = %v, want 25.0", cost)
	}
	if total := TotalTokens(tokens); total != 1000000 {
		t.Errorf("TotalTokens = %d", total)
	}
	if cost := DefaultPricing.Cost(nil); cost != 0 {
		t.Errorf("nil tokens cost = %v, want 0", cost)
	}
}

func TestCostRoundsToSixDecimals(t *testing.T) {
	tokens := &v1.TokenCounts{Input: i64(1), Output: i64(1)}

	// 1 token each: 0.000005 + 0.000025
	if cost := DefaultPricing.Cost(tokens); cost != 0.00003 {
		t.Errorf("Cost = %v, want 0.00003", cost)
	}
}

func TestThinkingTokensAreUnpriced(t *testing.T) {
	withThinking := &v1.TokenCounts{Input: i64(1000), Output: i64(1000), Thinking: i64(500000)}
	withoutThinking := &v1.TokenCounts{Input: i64(1000), Output: i64(1000)}

	if DefaultPricing.Cost(withThinking) != DefaultPricing.Cost(withoutThinking) {
		t.Error("thinking tokens must not affect cost")
	}
	if TotalTokens(withThinking) == TotalTokens(withoutThinking) {
		t.Error("thinking tokens must count toward usage")
	}
}
