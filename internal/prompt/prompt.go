// Package prompt provides versioned prompt templates with database
// overrides, built-in defaults and a short TTL cache.
package prompt

import (
	"context"
	"time"
)

// Prompt is one resolved template, either a database override or a
// built-in default.
type Prompt struct {
	Key            string     `json:"key"`
	Title          string     `json:"title"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Version        int        `json:"version"`
	Tags           []string   `json:"tags"`
	IsActive       bool       `json:"is_active"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	UpdatedBy      string     `json:"updated_by,omitempty"`
	DefaultContent string     `json:"default_content"`
}

// UpdatePayload is the admin mutation shape. Nil pointers mean "leave
// unchanged".
type UpdatePayload struct {
	Title        string   `json:"title,omitempty"`
	Role         string   `json:"role,omitempty"`
	Content      *string  `json:"content,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	IsActive     *bool    `json:"is_active,omitempty"`
	UpdatedBy    string   `json:"updated_by,omitempty"`
	ResetDefault bool     `json:"reset_default,omitempty"`
}

// Store is the override persistence port.
type Store interface {
	Get(ctx context.Context, key string) (*Prompt, error)
	List(ctx context.Context) ([]Prompt, error)
	Save(ctx context.Context, p Prompt) error
	Delete(ctx context.Context, key string) error
}
