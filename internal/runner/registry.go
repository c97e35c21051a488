package runner

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/yz4230/shipyard/internal/entity"
)

// Registry maps running pipelines to their cancel handles.
type Registry struct {
	mu   sync.Mutex
	runs map[entity.ID]context.CancelCauseFunc
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[entity.ID]context.CancelCauseFunc)}
}

// Add registers id. It returns false if id is already registered.
func (r *Registry) Add(id entity.ID, cancel context.CancelCauseFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id]; ok {
		return false
	}
	r.runs[id] = cancel
	return true
}

func (r *Registry) Remove(id entity.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

// Cancel fires id's cancel handle with cause.
func (r *Registry) Cancel(id entity.ID, cause error) bool {
	r.mu.Lock()
	cancel, ok := r.runs[id]
	r.mu.Unlock()
	if ok {
		cancel(cause)
	}
	return ok
}

func (r *Registry) Has(id entity.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[id]
	return ok
}

func (r *Registry) IDs() []entity.ID {
	r.mu.Lock()
	ids := lo.Keys(r.runs)
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}
