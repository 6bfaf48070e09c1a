// Package store is the persistent relational store (§3). It is an
// adaptation of zk/hermez_db/db.go's shape — a thin struct wrapping a
// transaction, with one exported method per access pattern — retargeted
// from an MDBX key/value bucket layout onto Postgres via jackc/pgx/v4,
// which §3's typed-entity, multi-column schema calls for.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store owns the connection pool for the process lifetime (§5: "the
// database session is a single cooperatively-held resource").
type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Tx wraps one committed-per-block unit of work (§5 ordering guarantees).
type Tx struct {
	tx pgx.Tx
}

func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// WithSavepoint runs fn inside a nested transaction (Postgres SAVEPOINT via
// pgx's Tx.Begin). If fn returns a unique-violation error the savepoint is
// rolled back and nil is returned with ok=false instead of aborting the
// whole outer transaction — this is what §4.8 means by "unique violations
// are tolerated and rolled back locally".
func (t *Tx) WithSavepoint(ctx context.Context, fn func(pgx.Tx) error) (ok bool, err error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return false, err
	}
	if execErr := fn(sp); execErr != nil {
		_ = sp.Rollback(ctx)
		if isUniqueViolation(execErr) {
			return false, nil
		}
		return false, execErr
	}
	if err := sp.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
