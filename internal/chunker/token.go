package chunker

import "strings"

// EstimateTokens gives a rough token count for log lines and prompt sizing.
// It takes the larger of a word-based and a character-based estimate, since
// Portuguese and technical text tokenize denser than plain English.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byWords := int(float64(len(strings.Fields(text))) * 1.33)
	byChars := len(text) / 4
	tokens := max(byWords, byChars)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
