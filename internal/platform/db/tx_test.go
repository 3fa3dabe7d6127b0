package db

import (
	"context"
	"errors"
	"testing"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil transaction on bare context")
	}
}

func TestNopTx_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	called := false
	err := NopTx{}.WithTx(context.Background(), func(ctx context.Context) error {
		called = true
		return want
	})
	if !called {
		t.Fatal("expected fn to run")
	}
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
