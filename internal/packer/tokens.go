// Package packer implements the Context Packer: token estimation and
// greedy, order-preserving note selection under a budget (spec.md §4.3).
package packer

import (
	"strings"
)

// TokensPerWord is the word-count multiplier used to approximate token
// counts without a real tokenizer.
const TokensPerWord = 1.3

// EstimateTokens applies the word-count × 1.3 heuristic. Callers must treat
// the result as a soft estimate, not an exact count.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words)*TokensPerWord + 0.5)
}

// EmbeddingTokenCeiling is the default approximate token ceiling for text
// sent to the embedding adapter, before the safety factor.
const EmbeddingTokenCeiling = 512

// EmbeddingSafetyFactor shrinks the ceiling to leave margin for tokenizer
// drift between the word-count heuristic and the real tokenizer.
const EmbeddingSafetyFactor = 0.8

// shrinkFactor is the per-iteration shrink applied until text clears the
// ceiling.
const shrinkFactor = 0.9

// ellipsisSentinel marks a text that was truncated to fit the embedding
// ceiling.
const ellipsisSentinel = "…"

// ClampForEmbedding iteratively shrinks text by 10% until its estimated
// token count is at or under ceiling×safetyFactor, marking truncation with
// an ellipsis sentinel. Text already within budget is returned unchanged.
func ClampForEmbedding(text string) string {
	ceiling := float64(EmbeddingTokenCeiling)
	limit := int(ceiling * EmbeddingSafetyFactor)
	if EstimateTokens(text) <= limit {
		return text
	}

	words := strings.Fields(text)
	for len(words) > 0 {
		candidate := strings.Join(words, " ") + ellipsisSentinel
		if EstimateTokens(candidate) <= limit {
			return candidate
		}
		words = words[:int(float64(len(words))*shrinkFactor)]
	}
	return ellipsisSentinel
}
