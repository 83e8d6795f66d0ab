// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The documents table uses a composite primary key (collection, id) that
// mirrors the key space used by the BBolt and in-memory backends. Document
// payloads are stored as JSONB so that operators can inspect CA records and
// ledger entries with plain SQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flexiant/camanager/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func notFound(collection, id string) error {
	return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
}

func (s *Store) Put(ctx context.Context, collection, id string, doc *storage.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data, version)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (collection, id)
		 DO UPDATE SET data = $3, version = $4, updated_at = NOW()`,
		collection, id, []byte(doc.Data), doc.Version)
	return err
}

func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Document, error) {
	var (
		data    []byte
		version uint64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT data, version FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, err
	}
	return &storage.Document{Data: data, Version: version}, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM documents WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(collection, id)
	}
	return nil
}

func (s *Store) PutCAS(ctx context.Context, collection, id string, expectedVersion uint64, doc *storage.Document) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := putCASInTx(ctx, tx, collection, id, expectedVersion, doc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// putCASInTx performs a compare-and-swap put within an existing transaction.
func putCASInTx(ctx context.Context, tx pgx.Tx, collection, id string, expectedVersion uint64, doc *storage.Document) error {
	var currentVersion uint64
	err := tx.QueryRow(ctx,
		`SELECT version FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id).Scan(&currentVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		// A concurrent insert of the same key surfaces as a conflict, not a
		// unique violation.
		tag, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, data, version)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (collection, id) DO NOTHING`,
			collection, id, []byte(doc.Data), doc.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrCASFailed
		}
		return nil
	}
	if err != nil {
		return err
	}

	if expectedVersion == 0 || currentVersion != expectedVersion {
		return storage.ErrCASFailed
	}

	_, err = tx.Exec(ctx,
		`UPDATE documents SET data = $3, version = $4, updated_at = NOW()
		 WHERE collection = $1 AND id = $2`,
		collection, id, []byte(doc.Data), doc.Version)
	return err
}
