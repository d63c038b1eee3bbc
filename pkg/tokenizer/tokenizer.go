package tokenizer

import (
	"strings"
)

// CountTokens estimates the model token count of text from its word count
// (roughly four tokens per three English words). Empty text counts as zero.
func CountTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return max(words*4/3, 1)
}
