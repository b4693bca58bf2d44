// Package identity implements the configuration-repository-backed
// collections of the Antbox core: users, groups, API keys, and aspects.
// Each is a typed CRUD collection atop the same generic in-memory store,
// mirroring spec.md §2's "Configuration repository (interface): typed
// collection CRUD for groups/users/api-keys/agents/features/aspects/…".
package identity

import (
	"context"
	"sync"

	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// ConfigRepository is a typed CRUD collection keyed by string id, the shape
// shared by every configuration-repository-backed collection in the core.
type ConfigRepository[T any] interface {
	Add(ctx context.Context, id string, v T) error
	Get(ctx context.Context, id string) (T, error)
	Update(ctx context.Context, id string, v T) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]T, error)
}

// MemoryConfigRepository is a goroutine-safe in-memory ConfigRepository.
type MemoryConfigRepository[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

var _ ConfigRepository[struct{}] = (*MemoryConfigRepository[struct{}])(nil)

// NewMemoryConfigRepository creates an empty in-memory collection.
func NewMemoryConfigRepository[T any]() *MemoryConfigRepository[T] {
	return &MemoryConfigRepository[T]{items: make(map[string]T)}
}

func (r *MemoryConfigRepository[T]) Add(ctx context.Context, id string, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[id]; exists {
		return antboxerrors.Conflict("already exists: " + id)
	}
	r.items[id] = v
	r.order = append(r.order, id)
	return nil
}

func (r *MemoryConfigRepository[T]) Get(ctx context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[id]
	if !ok {
		return v, antboxerrors.New(antboxerrors.CodeNodeNotFound, "not found: "+id, 404)
	}
	return v, nil
}

func (r *MemoryConfigRepository[T]) Update(ctx context.Context, id string, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return antboxerrors.New(antboxerrors.CodeNodeNotFound, "not found: "+id, 404)
	}
	r.items[id] = v
	return nil
}

func (r *MemoryConfigRepository[T]) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return antboxerrors.New(antboxerrors.CodeNodeNotFound, "not found: "+id, 404)
	}
	delete(r.items, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryConfigRepository[T]) List(ctx context.Context) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out, nil
}
