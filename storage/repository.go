// Package storage provides the document store abstraction shared by the CA
// records, the revocation ledger and the CRL snapshots.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Repository defines the interface for document storage. Documents are
// grouped in collections and addressed by an id unique within the
// collection. Individual operations are atomic; there is no transaction
// spanning several documents.
type Repository interface {
	Put(ctx context.Context, collection, id string, doc *Document) error
	Get(ctx context.Context, collection, id string) (*Document, error)
	List(ctx context.Context, collection string) ([]string, error)
	Delete(ctx context.Context, collection, id string) error
	PutCAS(ctx context.Context, collection, id string, expectedVersion uint64, doc *Document) error
}
