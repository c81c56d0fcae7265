package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicEmbedding(t *testing.T) {
	embed := NewDeterministicEmbedding()

	a, err := embed(context.Background(), "广州的美食推荐")
	require.NoError(t, err)
	b, err := embed(context.Background(), "广州的美食推荐")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	empty, err := embed(context.Background(), "")
	require.NoError(t, err)
	var norm float32
	for _, v := range empty {
		norm += v * v
	}
	assert.Greater(t, norm, float32(0))
}

func TestChromemEngineAddAndSearch(t *testing.T) {
	engine, err := NewChromemEngine("", nil)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := engine.Add(ctx, "user:1", "用户喜欢粤菜和早茶", map[string]any{"source": "assistant_v1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	_, err = engine.Add(ctx, "user:1", "用户计划九月去北京出差", nil)
	require.NoError(t, err)

	records, err := engine.Search(ctx, "user:1", "用户喜欢吃什么粤菜", 5)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "用户喜欢粤菜和早茶", records[0].Text)
	assert.Greater(t, records[0].Score, 0.0)
	assert.Equal(t, "assistant_v1", records[0].Metadata["source"])
}

func TestChromemEngineNamespaceIsolation(t *testing.T) {
	engine, err := NewChromemEngine("", nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = engine.Add(ctx, "user:1", "偏好安静的酒店", nil)
	require.NoError(t, err)

	records, err := engine.Search(ctx, "user:2", "酒店", 5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestChromemEngineClampsTopK(t *testing.T) {
	engine, err := NewChromemEngine("", nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = engine.Add(ctx, "user:3", "只有一条记忆", nil)
	require.NoError(t, err)

	records, err := engine.Search(ctx, "user:3", "记忆", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = engine.Search(ctx, "user:3", "记忆", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestChromemEnginePersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	engine, err := NewChromemEngine(dir, nil)
	require.NoError(t, err)
	_, err = engine.Add(ctx, "user:4", "持久化的记忆", nil)
	require.NoError(t, err)

	reopened, err := NewChromemEngine(dir, nil)
	require.NoError(t, err)
	records, err := reopened.Search(ctx, "user:4", "持久化", 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "持久化的记忆", records[0].Text)
}
