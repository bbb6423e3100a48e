// Package session tracks active research runs and keeps a per-run
// full-text index over everything a run has collected.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/alphy/internal/research"
)

// Entry is one tracked run with its search index.
type Entry struct {
	RunID     string
	Query     string
	CreatedAt time.Time
	Run       *research.Run

	index *Index
}

// Registry is the in-memory run registry behind the HTTP surface.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Entry)}
}

// Add registers a run and builds its empty index.
func (r *Registry) Add(run *research.Run) (*Entry, error) {
	index, err := NewIndex()
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	entry := &Entry{
		RunID:     run.ID,
		Query:     run.Query,
		CreatedAt: time.Now().UTC(),
		Run:       run,
		index:     index,
	}

	r.mu.Lock()
	r.runs[entry.RunID] = entry
	r.mu.Unlock()
	return entry, nil
}

// Get returns the entry for a run id.
func (r *Registry) Get(runID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.runs[runID]
	return entry, ok
}

// List returns entries newest first.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.runs))
	for _, entry := range r.runs {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Remove drops a run and closes its index.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	entry, ok := r.runs[runID]
	delete(r.runs, runID)
	r.mu.Unlock()
	if ok {
		_ = entry.index.Close()
	}
}

// Reindex refreshes the entry's index from the run's current state.
func (e *Entry) Reindex() error {
	return e.index.Load(e.Run.Snapshot())
}

// Search queries the entry's index.
func (e *Entry) Search(q string, k int) ([]Hit, error) {
	return e.index.Search(q, k)
}
