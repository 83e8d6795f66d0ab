package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flexiant/camanager/storage"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("CAMANAGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CAMANAGER_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("could not ensure schema: %v", err)
	}

	// Clean tables for test isolation.
	pool.Exec(ctx, "DELETE FROM documents") //nolint:errcheck

	return NewRepository(pool), func() {
		pool.Exec(ctx, "DELETE FROM documents") //nolint:errcheck
		pool.Close()
	}
}

func TestPostgresStorage(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	ctx := t.Context()
	collection := "revocations"
	id := "r1"
	doc := &storage.Document{Data: []byte(`{"ca_name":"root","serial":"42"}`)}

	t.Run("PutGet", func(t *testing.T) {
		if err := s.Put(ctx, collection, id, doc); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(ctx, collection, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		var v map[string]string
		if err := got.Decode(&v); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if v["serial"] != "42" {
			t.Errorf("expected serial 42, got %q", v["serial"])
		}
	})

	t.Run("List", func(t *testing.T) {
		s.Put(ctx, collection, "r2", doc) //nolint:errcheck
		ids, err := s.List(ctx, collection)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("expected 2 IDs, got %d", len(ids))
		}
	})

	t.Run("PutCAS create-only", func(t *testing.T) {
		if err := s.PutCAS(ctx, collection, "cas1", 0, doc); err != nil {
			t.Fatalf("PutCAS (new) failed: %v", err)
		}
		if err := s.PutCAS(ctx, collection, "cas1", 0, doc); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed, got %v", err)
		}
	})

	t.Run("PutCAS version match", func(t *testing.T) {
		v1 := &storage.Document{Data: []byte(`1`), Version: 1}
		if err := s.Put(ctx, collection, "cas2", v1); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		v2 := &storage.Document{Data: []byte(`2`), Version: 2}
		if err := s.PutCAS(ctx, collection, "cas2", 1, v2); err != nil {
			t.Fatalf("PutCAS (version match) failed: %v", err)
		}
		got, _ := s.Get(ctx, collection, "cas2")
		if got.Version != 2 {
			t.Errorf("expected version 2, got %d", got.Version)
		}
	})

	t.Run("PutCAS version mismatch", func(t *testing.T) {
		v5 := &storage.Document{Data: []byte(`5`), Version: 5}
		s.Put(ctx, collection, "cas3", v5) //nolint:errcheck
		v6 := &storage.Document{Data: []byte(`6`), Version: 6}
		if err := s.PutCAS(ctx, collection, "cas3", 3, v6); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx, collection, "r2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, collection, "r2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := s.Delete(ctx, collection, "r2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})
}
