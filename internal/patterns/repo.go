package patterns

import (
	"context"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, pattern *models.ErrorPattern) error

// UpsertPattern implements Store.
func (f StoreFunc) UpsertPattern(ctx context.Context, pattern *models.ErrorPattern) error {
	return f(ctx, pattern)
}
