package prompt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelist/internal/apperr"
)

func TestGetFallsBackToDefault(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), time.Minute, nil)
	p, err := reg.Get(context.Background(), KeyAssistantSystemMain)
	require.NoError(t, err)
	assert.Equal(t, "助手主提示词", p.Title)
	assert.Equal(t, "system", p.Role)
	assert.Equal(t, 1, p.Version)
	assert.True(t, p.IsActive)
	assert.Equal(t, p.Content, p.DefaultContent)
}

func TestGetUnknownKey(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), time.Minute, nil)
	_, err := reg.Get(context.Background(), "no.such.prompt")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestUpdateBumpsVersionAndOverridesDefault(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	content := "override content"
	updated, err := reg.Update(ctx, KeyAssistantFallback, UpdatePayload{
		Content:   &content,
		UpdatedBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, "override content", updated.Content)
	assert.Equal(t, 1, updated.Version)
	def, _ := DefaultPrompt(KeyAssistantFallback)
	assert.Equal(t, def.Content, updated.DefaultContent)

	content2 := "second revision"
	updated, err = reg.Update(ctx, KeyAssistantFallback, UpdatePayload{Content: &content2})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	got, err := reg.Get(ctx, KeyAssistantFallback)
	require.NoError(t, err)
	assert.Equal(t, "second revision", got.Content)
}

func TestResetRestoresDefault(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	content := "temporary"
	_, err := reg.Update(ctx, KeyChatDemoSystem, UpdatePayload{Content: &content})
	require.NoError(t, err)

	restored, err := reg.Reset(ctx, KeyChatDemoSystem)
	require.NoError(t, err)
	def, _ := DefaultPrompt(KeyChatDemoSystem)
	assert.Equal(t, def.Content, restored.Content)
	assert.Equal(t, 1, restored.Version)
}

func TestUpdateWithResetDefaultFlag(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	content := "temporary"
	_, err := reg.Update(ctx, KeyAssistantIntent, UpdatePayload{Content: &content})
	require.NoError(t, err)

	restored, err := reg.Update(ctx, KeyAssistantIntent, UpdatePayload{ResetDefault: true})
	require.NoError(t, err)
	def, _ := DefaultPrompt(KeyAssistantIntent)
	assert.Equal(t, def.Content, restored.Content)
}

func TestInactiveOverrideIsSkipped(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, time.Minute, nil)
	ctx := context.Background()

	content := "disabled override"
	inactive := false
	_, err := reg.Update(ctx, KeyAssistantFormatter, UpdatePayload{
		Content:  &content,
		IsActive: &inactive,
	})
	require.NoError(t, err)

	got, err := reg.Get(ctx, KeyAssistantFormatter)
	require.NoError(t, err)
	def, _ := DefaultPrompt(KeyAssistantFormatter)
	assert.Equal(t, def.Content, got.Content)
}

func TestListMergesOverridesSorted(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	content := "custom"
	_, err := reg.Update(ctx, "custom.prompt", UpdatePayload{Content: &content, Title: "Custom"})
	require.NoError(t, err)

	prompts, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, prompts, len(DefaultKeys())+1)
	for i := 1; i < len(prompts); i++ {
		assert.Less(t, prompts[i-1].Key, prompts[i].Key)
	}
}

func TestCacheServesUntilInvalidated(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, time.Hour, nil)
	ctx := context.Background()

	first, err := reg.Get(ctx, KeyAssistantSystemMain)
	require.NoError(t, err)

	// Mutate behind the registry's back: the cached copy still wins.
	require.NoError(t, store.Save(ctx, Prompt{
		Key: KeyAssistantSystemMain, Role: "system", Content: "sneaky", Version: 5, IsActive: true,
	}))
	cached, err := reg.Get(ctx, KeyAssistantSystemMain)
	require.NoError(t, err)
	assert.Equal(t, first.Content, cached.Content)

	reg.Invalidate(KeyAssistantSystemMain)
	fresh, err := reg.Get(ctx, KeyAssistantSystemMain)
	require.NoError(t, err)
	assert.Equal(t, "sneaky", fresh.Content)
}
