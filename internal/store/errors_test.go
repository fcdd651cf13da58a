package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyMapsPostgresErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrConflict},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, ErrUnavailable},
		{"statement cancelled", &pgconn.PgError{Code: "57014"}, ErrUnavailable},
		{"connection exception", &pgconn.PgError{Code: "08006"}, ErrUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ErrUnavailable},
		{"unmapped foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "other_fk"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, nil)
			if !errors.Is(got, tt.want) {
				t.Fatalf("classify() = %v, want %v", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Fatalf("classify() dropped the original error: %v", got)
			}
		})
	}
}

func TestClassifyForeignKeyNamesEntity(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "23503", ConstraintName: "checklist_item_reviews_item_fk"}, refs{EntityChecklistItem: 88})

	var refErr *ReferenceError
	if !errors.As(err, &refErr) {
		t.Fatalf("expected ReferenceError, got %v", err)
	}
	if refErr.Entity != EntityChecklistItem || refErr.ID != 88 {
		t.Fatalf("ReferenceError = %+v", refErr)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("a missing reference should match ErrNotFound")
	}
	if refErr.Error() != "checklist item 88 does not exist" {
		t.Fatalf("Error() = %q", refErr.Error())
	}
}

func TestClassifyLeavesOtherErrorsAlone(t *testing.T) {
	plain := errors.New("boom")
	if got := classify(plain, nil); got != plain {
		t.Fatalf("classify() = %v, want the same error", got)
	}
	check := &pgconn.PgError{Code: "23514"}
	if got := classify(check, nil); errors.Is(got, ErrUnavailable) || errors.Is(got, ErrNotFound) || errors.Is(got, ErrConflict) {
		t.Fatalf("check violation should not be classified, got %v", got)
	}
	if classify(nil, nil) != nil {
		t.Fatal("classify(nil) should be nil")
	}
}

func TestSheetAmendmentEmpty(t *testing.T) {
	if !(SheetAmendment{}).Empty() {
		t.Fatal("zero amendment should be empty")
	}
	fuel := 40
	if (SheetAmendment{FuelPercentage: &fuel}).Empty() {
		t.Fatal("amendment with fuel should not be empty")
	}
}
