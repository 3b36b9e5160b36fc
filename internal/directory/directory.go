// Package directory resolves coaches for schedule validation, caching hits
// for a short time.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/persistence"
)

// Coaches implements application.CoachDirectory over the store.
type Coaches struct {
	store persistence.Store
	cache *cache.Cache
}

var _ application.CoachDirectory = (*Coaches)(nil)

// NewCoaches returns a directory caching found coaches for ttl. A
// non-positive ttl disables caching. Misses are never cached.
func NewCoaches(store persistence.Store, ttl time.Duration) *Coaches {
	d := &Coaches{store: store}
	if ttl > 0 {
		d.cache = cache.New(ttl, 2*ttl)
	}
	return d
}

// GetCoach returns application.ErrNotFound for unknown coaches.
func (d *Coaches) GetCoach(ctx context.Context, id string) (application.Coach, error) {
	id = strings.TrimSpace(id)
	if d.cache != nil {
		if hit, ok := d.cache.Get(id); ok {
			return hit.(application.Coach), nil
		}
	}

	var coach application.Coach
	err := d.store.ReadOnly(ctx, func(tx persistence.Tx) error {
		stored, err := tx.GetCoach(ctx, id)
		if err != nil {
			return err
		}
		coach = application.Coach{ID: stored.ID, Name: stored.Name, Active: stored.Active, CreatedAt: stored.CreatedAt}
		return nil
	})
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return application.Coach{}, application.ErrNotFound
		}
		return application.Coach{}, err
	}

	if d.cache != nil {
		d.cache.SetDefault(id, coach)
	}
	return coach, nil
}

// Invalidate drops a cached coach, typically after it was edited.
func (d *Coaches) Invalidate(id string) {
	if d.cache != nil {
		d.cache.Delete(strings.TrimSpace(id))
	}
}
