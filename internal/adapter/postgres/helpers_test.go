package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
)

func TestExecExpectOne(t *testing.T) {
	tests := []struct {
		name     string
		tag      pgconn.CommandTag
		err      error
		wantNil  bool
		notFound bool
	}{
		{"one row", pgconn.NewCommandTag("UPDATE 1"), nil, true, false},
		{"no row", pgconn.NewCommandTag("UPDATE 0"), nil, false, true},
		{"driver error", pgconn.CommandTag{}, errors.New("conn busy"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := execExpectOne(tt.tag, tt.err, "archive zone %s", "z1")
			if (err == nil) != tt.wantNil || errors.Is(err, domain.ErrNotFound) != tt.notFound {
				t.Fatalf("got %v", err)
			}
			if err != nil && err.Error()[:14] != "archive zone z" {
				t.Fatalf("operation missing from %q", err)
			}
		})
	}
}

func TestNotFoundWrap(t *testing.T) {
	err := notFoundWrap(fmt.Errorf("scan: %w", pgx.ErrNoRows), "get zone %s", "z1")
	if !errors.Is(err, domain.ErrNotFound) || err.Error() != "get zone z1: not found" {
		t.Fatalf("got %v", err)
	}
	if err := notFoundWrap(errors.New("timeout"), "get zone %s", "z1"); errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("driver error mapped to not found: %v", err)
	}
}

func TestConstraintViolations(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation})
	fk := &pgconn.PgError{Code: codeForeignKeyViolation}
	if !isUniqueViolation(unique) || isForeignKeyViolation(unique) {
		t.Fatal("unique violation misclassified")
	}
	if !isForeignKeyViolation(fk) || isUniqueViolation(fk) {
		t.Fatal("foreign key violation misclassified")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Fatal("non-postgres error classified")
	}
}

func TestJSONBParam(t *testing.T) {
	if v, err := jsonbParam(nil); v != nil || err != nil {
		t.Fatalf("nil should bind NULL, got %v %v", v, err)
	}
	v, err := jsonbParam(map[string]int{"min_approvals": 2})
	if err != nil || v != `{"min_approvals":2}` {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := jsonbParam(make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}
