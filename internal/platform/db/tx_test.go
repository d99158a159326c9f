package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx    *fakeTx
	calls int
	err   error
}

func (f *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

func TestWithTx_Commits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, func(ctx context.Context) error {
		if TxFromContext(ctx) != b.tx {
			t.Error("expected transaction in context")
		}
		if Conn(ctx, nil) != Querier(b.tx) {
			t.Error("expected Conn to resolve to the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.tx.committed || b.tx.rolledBack {
		t.Errorf("expected commit only, got committed=%v rolledBack=%v", b.tx.committed, b.tx.rolledBack)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")
	err := WithTx(context.Background(), b, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if b.tx.committed || !b.tx.rolledBack {
		t.Errorf("expected rollback only, got committed=%v rolledBack=%v", b.tx.committed, b.tx.rolledBack)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	defer func() {
		r := recover()
		if r != "boom" {
			t.Errorf("expected the panic to propagate, got %v", r)
		}
		if b.tx.committed || !b.tx.rolledBack {
			t.Errorf("expected rollback only, got committed=%v rolledBack=%v", b.tx.committed, b.tx.rolledBack)
		}
	}()
	_ = WithTx(context.Background(), b, func(context.Context) error { panic("boom") })
	t.Error("expected WithTx to panic")
}

func TestWithTx_NestedReusesOuter(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, func(ctx context.Context) error {
		return WithTx(ctx, b, func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.calls != 1 {
		t.Errorf("expected one Begin, got %d", b.calls)
	}
}

func TestWithTx_BeginError(t *testing.T) {
	b := &fakeBeginner{err: errors.New("no connection")}
	called := false
	err := WithTx(context.Background(), b, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("expected begin error without running fn, got err=%v called=%v", err, called)
	}
}

func TestConn_FallsBackWithoutTx(t *testing.T) {
	if Conn(context.Background(), nil) != nil {
		t.Error("expected fallback querier")
	}
}
