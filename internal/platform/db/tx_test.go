package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type safeErr struct{ safe bool }

func (e safeErr) Error() string     { return "dial failed" }
func (e safeErr) SafeToRetry() bool { return e.safe }

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	fk := &pgconn.PgError{Code: "23503"}
	serialization := &pgconn.PgError{Code: "40001"}
	deadlock := fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"})

	if !IsUniqueViolation(unique) || IsUniqueViolation(fk) {
		t.Error("unique violation misclassified")
	}
	if !IsForeignKeyViolation(fk) || IsForeignKeyViolation(unique) {
		t.Error("foreign key violation misclassified")
	}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization", serialization, true},
		{"deadlock", deadlock, true},
		{"unique", unique, false},
		{"safe connection error", safeErr{safe: true}, true},
		{"unsafe connection error", safeErr{safe: false}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
	if !IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Error("expected wrapped ErrNoRows to match")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	ctx := context.Background()
	if InTransaction(ctx) || TxFromContext(ctx) != nil {
		t.Error("expected background context to carry no transaction")
	}
}
