package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIdempotentInsert(t *testing.T) {
	t.Parallel()

	duplicate := fmt.Errorf("insert alert: %w", &pgconn.PgError{Code: "23505"})
	timeout := context.DeadlineExceeded

	tests := []struct {
		name    string
		results []error
		want    []error
	}{
		{name: "first attempt succeeds", results: []error{nil}, want: []error{nil}},
		{name: "duplicate on first attempt is a conflict", results: []error{duplicate}, want: []error{duplicate}},
		{name: "duplicate after timeout means committed", results: []error{timeout, duplicate}, want: []error{timeout, nil}},
		{name: "other errors pass through", results: []error{timeout, timeout}, want: []error{timeout, timeout}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			call := 0
			op := idempotentInsert(func() error {
				err := tt.results[call]
				call++
				return err
			})

			for i, want := range tt.want {
				if err := op(); !errors.Is(err, want) {
					t.Errorf("attempt %d error = %v, want %v", i+1, err, want)
				}
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	if !isUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("isUniqueViolation(23505) = false")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("isUniqueViolation(23503) = true")
	}
	if isUniqueViolation(nil) {
		t.Error("isUniqueViolation(nil) = true")
	}
}
