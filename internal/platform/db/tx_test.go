package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeQuerier struct{}

func (fakeQuerier) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}
func (fakeQuerier) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}
func (fakeQuerier) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func TestQuerierFromContext_Empty(t *testing.T) {
	if q := QuerierFromContext(context.Background()); q != nil {
		t.Fatalf("expected nil querier, got %v", q)
	}
}

func TestWithQuerier_RoundTrip(t *testing.T) {
	q := fakeQuerier{}
	ctx := WithQuerier(context.Background(), q)
	got := QuerierFromContext(ctx)
	if got == nil {
		t.Fatal("expected querier in context")
	}
	if _, ok := got.(fakeQuerier); !ok {
		t.Fatalf("expected fakeQuerier, got %T", got)
	}
}
