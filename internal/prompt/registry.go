package prompt

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"travelist/internal/apperr"
	"travelist/internal/logging"
)

// Registry resolves prompts: database override first, built-in default
// second, with a TTL cache in front.
type Registry struct {
	store  Store
	cache  *expirable.LRU[string, Prompt]
	logger logging.Logger
}

// NewRegistry builds a registry. store may be nil (defaults only).
func NewRegistry(store Store, cacheTTL time.Duration, logger logging.Logger) *Registry {
	if cacheTTL < time.Second {
		cacheTTL = time.Second
	}
	return &Registry{
		store:  store,
		cache:  expirable.NewLRU[string, Prompt](64, nil, cacheTTL),
		logger: logging.OrNop(logger),
	}
}

// Get resolves one prompt by key.
func (r *Registry) Get(ctx context.Context, key string) (Prompt, error) {
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}
	resolved, err := r.resolve(ctx, key)
	if err != nil {
		return Prompt{}, err
	}
	r.cache.Add(key, resolved)
	return resolved, nil
}

// Content is a convenience for callers that only need the template body.
func (r *Registry) Content(ctx context.Context, key string) string {
	p, err := r.Get(ctx, key)
	if err != nil {
		r.logger.Warn("prompt %s unavailable: %v", key, err)
		return ""
	}
	return p.Content
}

func (r *Registry) resolve(ctx context.Context, key string) (Prompt, error) {
	if r.store != nil {
		row, err := r.store.Get(ctx, key)
		if err != nil {
			r.logger.Warn("prompt store get %s failed, using default: %v", key, err)
		} else if row != nil && row.IsActive {
			p := *row
			if def, ok := DefaultPrompt(key); ok {
				p.DefaultContent = def.Content
			} else {
				p.DefaultContent = p.Content
			}
			return p, nil
		}
	}
	if def, ok := DefaultPrompt(key); ok {
		return def, nil
	}
	return Prompt{}, apperr.Newf(apperr.KindNotFound, "prompt not found: %s", key)
}

// List returns every known prompt: all defaults, with database overrides
// replacing their default entry, sorted by key.
func (r *Registry) List(ctx context.Context) ([]Prompt, error) {
	byKey := make(map[string]Prompt, len(defaultPrompts))
	for key := range defaultPrompts {
		def, _ := DefaultPrompt(key)
		byKey[key] = def
	}
	if r.store != nil {
		rows, err := r.store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if def, ok := DefaultPrompt(row.Key); ok {
				row.DefaultContent = def.Content
			} else {
				row.DefaultContent = row.Content
			}
			byKey[row.Key] = row
		}
	}
	prompts := make([]Prompt, 0, len(byKey))
	for _, p := range byKey {
		prompts = append(prompts, p)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Key < prompts[j].Key })
	return prompts, nil
}

// Update applies an admin mutation and returns the resolved prompt. A
// content change bumps the version; ResetDefault deletes the override.
func (r *Registry) Update(ctx context.Context, key string, payload UpdatePayload) (Prompt, error) {
	if r.store == nil {
		return Prompt{}, apperr.New(apperr.KindPersistenceFailed, "prompt overrides require a store")
	}
	if payload.ResetDefault {
		return r.Reset(ctx, key)
	}

	def, hasDefault := DefaultPrompt(key)
	existing, err := r.store.Get(ctx, key)
	if err != nil {
		return Prompt{}, err
	}

	var row Prompt
	if existing == nil {
		row = Prompt{Key: key, Version: 1, IsActive: true, Tags: []string{}}
		if hasDefault {
			row.Title = def.Title
			row.Role = def.Role
			row.Content = def.Content
			row.Tags = append([]string{}, def.Tags...)
		} else {
			row.Role = "system"
			row.Title = key
			row.Content = "请补充提示词内容"
		}
		if payload.Content != nil {
			row.Content = *payload.Content
		}
	} else {
		row = *existing
		if payload.Content != nil {
			row.Content = *payload.Content
			row.Version++
		}
	}
	if payload.Title != "" {
		row.Title = payload.Title
	}
	if payload.Role != "" {
		row.Role = payload.Role
	}
	if payload.Tags != nil {
		row.Tags = payload.Tags
	}
	if payload.IsActive != nil {
		row.IsActive = *payload.IsActive
	}
	if payload.UpdatedBy != "" {
		row.UpdatedBy = payload.UpdatedBy
	}
	now := time.Now().UTC()
	row.UpdatedAt = &now

	if err := r.store.Save(ctx, row); err != nil {
		return Prompt{}, err
	}
	r.Invalidate(key)
	return r.Get(ctx, key)
}

// Reset drops the database override so the built-in default applies again.
func (r *Registry) Reset(ctx context.Context, key string) (Prompt, error) {
	if r.store != nil {
		if err := r.store.Delete(ctx, key); err != nil {
			return Prompt{}, err
		}
	}
	r.Invalidate(key)
	return r.Get(ctx, key)
}

// Invalidate drops one key from the cache; empty key clears everything.
func (r *Registry) Invalidate(key string) {
	if key == "" {
		r.cache.Purge()
		return
	}
	r.cache.Remove(key)
}
