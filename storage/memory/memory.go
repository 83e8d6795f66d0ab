// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flexiant/camanager/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Document
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Document)}
}

func (r *Repository) Put(_ context.Context, collection, id string, doc *storage.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(collection, id, doc)
	return nil
}

func (r *Repository) putLocked(collection, id string, doc *storage.Document) {
	if _, ok := r.data[collection]; !ok {
		r.data[collection] = make(map[string]*storage.Document)
	}
	r.data[collection][id] = doc.Clone()
}

func (r *Repository) Get(_ context.Context, collection, id string) (*storage.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(collection, id)
}

func (r *Repository) getLocked(collection, id string) (*storage.Document, error) {
	doc, ok := r.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return doc.Clone(), nil
}

// List returns the ids stored in collection in lexical order.
func (r *Repository) List(_ context.Context, collection string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.data[collection]))
	for id := range r.data[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, collection, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[collection][id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	delete(r.data[collection], id)
	return nil
}

func (r *Repository) PutCAS(_ context.Context, collection, id string, expectedVersion uint64, doc *storage.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.getLocked(collection, id)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		r.putLocked(collection, id, doc)
		return nil
	}
	if expectedVersion == 0 || existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	r.putLocked(collection, id, doc)
	return nil
}
