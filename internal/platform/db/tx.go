package db

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTxKey carries the active pgx.Tx on a context.
const DBTxKey contextKey = "db_tx"

// TxFromContext returns the transaction stored on ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx returns a copy of ctx carrying tx. Repositories pick it up through
// their conn(ctx) helper so every statement of an operation shares it.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxRunner runs functions inside a single database transaction.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx runs fn with a context carrying a fresh transaction and commits when fn
// returns nil. Any error, panic or context cancellation rolls the transaction
// back before the connection goes back to the pool. When ctx already carries a
// transaction fn joins it and the outer caller owns commit/rollback.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			// Rollback on a background context so a cancelled request
			// still releases its locks.
			_ = tx.Rollback(context.Background())
		}
	}()

	if err = fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AdvisoryKey derives the 64-bit advisory lock key for a namespaced id.
func AdvisoryKey(namespace, id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return int64(h.Sum64())
}

// LockXact takes a transaction-scoped advisory lock on (namespace, id). It
// must run inside InTx; the lock is released at commit or rollback.
func LockXact(ctx context.Context, namespace, id string) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("advisory lock %s/%s requires a transaction", namespace, id)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, AdvisoryKey(namespace, id)); err != nil {
		return fmt.Errorf("advisory lock %s/%s: %w", namespace, id, err)
	}
	return nil
}
