package models

import (
	"sync"

	"github.com/pkg/errors"
)

// Registry is the catalogue of selectable models. Ids that are not registered
// are still loadable through the artifact path convention.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewRegistry creates a registry holding entries, in order.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{}
	for _, e := range entries {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns the two bundled models.
func DefaultRegistry() *Registry {
	return &Registry{entries: []Entry{
		{ID: ModelYOLOv8n, Title: "Object Detection", Labels: COCOLabels},
		{ID: ModelWarehouse, Title: "Warehouse Detection"},
	}}
}

// Register adds e. Ids must be unique and non-empty.
func (r *Registry) Register(e Entry) error {
	if e.ID == "" {
		return errors.New("model entry has no id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.ID == e.ID {
			return errors.Errorf("model %q already registered", e.ID)
		}
	}
	if e.Title == "" {
		e.Title = e.ID
	}
	r.entries = append(r.entries, e)
	return nil
}

// List returns the entries in registration order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
