package memory

import (
	"bytes"
	"errors"
	"testing"

	"github.com/flexiant/camanager/storage"
)

func TestMemoryRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewRepository()
	collection := "authorities"
	id := "id1"
	doc := &storage.Document{Data: []byte(`{"name":"root"}`), Version: 1}

	t.Run("PutAndGet", func(t *testing.T) {
		if err := repo.Put(ctx, collection, id, doc); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := repo.Get(ctx, collection, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got.Data, doc.Data) || got.Version != doc.Version {
			t.Errorf("Get returned wrong document: %+v", got)
		}

		// Returned documents are clones.
		got.Data[0] = 'X'
		got2, _ := repo.Get(ctx, collection, id)
		if got2.Data[0] == 'X' {
			t.Error("Memory repository should return clones of documents")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, "nonexistent", id)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing collection, got %v", err)
		}

		_, err = repo.Get(ctx, collection, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing id, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo.Put(ctx, collection, "id2", doc)
		repo.Put(ctx, "certificates", "id1", doc)

		ids, err := repo.List(ctx, collection)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "id1" || ids[1] != "id2" {
			t.Errorf("Expected [id1 id2], got %v", ids)
		}

		ids, _ = repo.List(ctx, "nonexistent")
		if len(ids) != 0 {
			t.Errorf("Expected 0 IDs for nonexistent collection, got %d", len(ids))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, collection, "id2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, collection, "id2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected deleted document to be gone, got %v", err)
		}
		if err := repo.Delete(ctx, collection, "id2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		repo := NewRepository()
		doc1 := &storage.Document{Data: []byte(`1`), Version: 1}
		doc2 := &storage.Document{Data: []byte(`2`), Version: 2}

		if err := repo.PutCAS(ctx, collection, "k", 0, doc1); err != nil {
			t.Fatalf("PutCAS create failed: %v", err)
		}
		if err := repo.PutCAS(ctx, collection, "k", 0, doc1); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed on create of existing doc, got %v", err)
		}
		if err := repo.PutCAS(ctx, collection, "k", 5, doc2); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed on version mismatch, got %v", err)
		}
		if err := repo.PutCAS(ctx, collection, "k", 1, doc2); err != nil {
			t.Fatalf("PutCAS update failed: %v", err)
		}
		if err := repo.PutCAS(ctx, collection, "missing", 1, doc2); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed for non-zero version on missing doc, got %v", err)
		}

		got, _ := repo.Get(ctx, collection, "k")
		if got.Version != 2 {
			t.Errorf("expected version 2, got %d", got.Version)
		}
	})
}
