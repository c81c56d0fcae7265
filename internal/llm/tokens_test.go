package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Greater(t, CountTokens("hello world"), 0)
	assert.Greater(t, CountTokens("明天广州的天气怎么样"), 0)

	// Longer text costs more tokens.
	short := CountTokens("广州")
	long := CountTokens("广州、上海、北京、深圳、成都的行程规划")
	assert.Greater(t, long, short)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens("   "))
	assert.Equal(t, 1, estimateTokens("嗨"))
	// runes/4 vs word count, whichever is larger.
	assert.Equal(t, 3, estimateTokens("a b c"))
	assert.Equal(t, 5, estimateTokens("一二三四五六七八九十一二三四五六七八九十"))
}
