package store

import (
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/contentflow/pipeline"
)

// MemoryRepository is an in-process Repository. It is the last tier of the
// storage cascade and the backend used by most tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*pipeline.Definition
	now   func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items: make(map[string]*pipeline.Definition),
		now:   time.Now,
	}
}

func (r *MemoryRepository) Kind() Kind { return KindMemory }

func (r *MemoryRepository) List(_ context.Context) ([]pipeline.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*pipeline.Definition, 0, len(r.items))
	for _, d := range r.items {
		defs = append(defs, d)
	}
	return summarize(defs), nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*pipeline.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (r *MemoryRepository) FindByWebhookSecret(_ context.Context, secret string) (*pipeline.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*pipeline.Definition, 0, len(r.items))
	for _, d := range r.items {
		defs = append(defs, d)
	}
	d, err := matchSecret(defs, secret)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

func (r *MemoryRepository) Create(_ context.Context, in pipeline.CreateInput) (*pipeline.Definition, error) {
	def, err := pipeline.NewDefinition(in, r.now())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[def.ID] = def
	return def.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, p pipeline.Patch) (*pipeline.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := d.Clone()
	if err := next.Apply(p, r.now()); err != nil {
		return nil, err
	}
	r.items[id] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *MemoryRepository) RecordRun(_ context.Context, id string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	d.MarkRun(completedAt)
	return nil
}
