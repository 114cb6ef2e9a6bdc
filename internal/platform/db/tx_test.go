package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestAdvisoryKey_Deterministic(t *testing.T) {
	a := AdvisoryKey("case", "0b9c7a4e-1111-4a1e-9f8d-3c2b1a000001")
	b := AdvisoryKey("case", "0b9c7a4e-1111-4a1e-9f8d-3c2b1a000001")
	if a != b {
		t.Errorf("expected stable key, got %d and %d", a, b)
	}
}

func TestAdvisoryKey_NamespaceSeparates(t *testing.T) {
	id := "0b9c7a4e-1111-4a1e-9f8d-3c2b1a000001"
	if AdvisoryKey("case", id) == AdvisoryKey("sample", id) {
		t.Error("expected different keys for different namespaces")
	}
	// "ab"+"c" and "a"+"bc" must not collide because of the separator byte.
	if AdvisoryKey("ab", "c") == AdvisoryKey("a", "bc") {
		t.Error("expected separator to keep namespace and id apart")
	}
}

func TestLockXact_RequiresTransaction(t *testing.T) {
	if err := LockXact(context.Background(), "case", "x"); err == nil {
		t.Error("expected error outside a transaction")
	}
}

func TestInTx_JoinsExistingTransaction(t *testing.T) {
	// A nil *TxRunner proves the outer transaction is reused: touching the
	// pool would panic.
	var r *TxRunner
	ctx := context.WithValue(context.Background(), DBTxKey, fakeTx{})
	called := false
	err := r.InTx(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to run")
	}
}

type fakeTx struct{ pgx.Tx }
