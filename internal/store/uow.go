package store

import (
	"context"
	"database/sql"
	"fmt"
)

// querier is the subset of *sql.Tx / *sql.Conn that repositories need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// UnitOfWork scopes one cycle step's repository calls to a single sqlite
// transaction (spec section 4.C). Writable units take a reserved lock up
// front with BEGIN IMMEDIATE, so a write conflict is discovered at the
// start of the step rather than midway through it; read-only units use a
// deferred transaction so a MONITOR process's reads never block a writer.
type UnitOfWork struct {
	conn     *sql.Conn
	q        querier
	writable bool
	done     bool
}

// Begin opens a new unit of work against the store.
func (s *Store) Begin(ctx context.Context, writable bool) (*UnitOfWork, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if writable {
		if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("begin immediate: %w", err)
		}
		return &UnitOfWork{conn: conn, q: conn, writable: true}, nil
	}

	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("begin deferred: %w", err)
	}
	return &UnitOfWork{conn: conn, q: conn, writable: false}, nil
}

// Q exposes the transaction-scoped executor to repository constructors.
func (u *UnitOfWork) Q() querier { return u.q }

// Commit commits the transaction and releases the underlying connection.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return fmt.Errorf("unit of work already closed")
	}
	u.done = true
	defer u.conn.Close()
	_, err := u.conn.ExecContext(ctx, "COMMIT")
	return err
}

// Rollback aborts the transaction and releases the underlying connection.
// Calling Rollback after Commit (or a second time) is a no-op, matching
// database/sql's Tx.Rollback-after-Commit semantics so deferred cleanup is
// always safe to call unconditionally.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	defer u.conn.Close()
	_, err := u.conn.ExecContext(ctx, "ROLLBACK")
	return err
}

// Writable reports whether this unit of work holds the write lock.
func (u *UnitOfWork) Writable() bool { return u.writable }
