package domain

import "context"

// GenerationRepository defines persistence for generation records. All
// mutations go through Update with a freshly read record; callers never
// patch individual columns.
type GenerationRepository interface {
	Create(ctx context.Context, g *Generation) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	ListRecent(ctx context.Context, limit int) ([]Generation, error)
	Update(ctx context.Context, g *Generation) error
	Delete(ctx context.Context, id string) error
}
