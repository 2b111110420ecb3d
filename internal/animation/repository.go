package animation

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when an animation cannot be found by ID.
var ErrNotFound = errors.New("animation: not found")

// Repository defines the interface for animation persistence.
type Repository interface {
	// Save persists an animation, replacing any previous version.
	Save(ctx context.Context, a *Animation) error

	// FindByID retrieves an animation by its identifier.
	// Returns ErrNotFound if the animation does not exist.
	FindByID(ctx context.Context, id string) (*Animation, error)

	// List returns all animations.
	List(ctx context.Context) ([]*Animation, error)
}

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// Animations are lost on restart.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Animation
}

// NewMemoryRepository creates a new in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*Animation)}
}

// Save stores a clone of a.
func (r *MemoryRepository) Save(_ context.Context, a *Animation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.ID] = a.Clone()
	return nil
}

// FindByID returns a clone of the stored animation.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Animation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// List returns clones of all stored animations.
func (r *MemoryRepository) List(_ context.Context) ([]*Animation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Animation, 0, len(r.items))
	for _, a := range r.items {
		out = append(out, a.Clone())
	}
	return out, nil
}
