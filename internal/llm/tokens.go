package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func tokenEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens counts text tokens with the cl100k_base encoding, falling
// back to estimateTokens when the encoding cannot be initialized. Used
// for usage accounting when the provider omits token counts.
func CountTokens(text string) int {
	if enc := tokenEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// estimateTokens is the heuristic fallback: max(runes/4, word count),
// at least 1 for non-empty text.
func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
